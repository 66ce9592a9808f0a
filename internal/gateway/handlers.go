package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/identity"
	"github.com/compresr/turn-gateway/internal/monitoring"
	"github.com/compresr/turn-gateway/internal/openai"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/stream"
	"github.com/compresr/turn-gateway/internal/transform"
	"github.com/compresr/turn-gateway/internal/upstream"
)

// maxRequestBody caps inbound request bodies at 10 MB.
const maxRequestBody = 10 << 20

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := monitoring.RequestIDFromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeInvalidRequest(w, "unreadable_body", "failed to read request body")
		return
	}

	if verr := openai.ValidateChatRequest(body); verr != nil {
		s.metrics.RecordRequest(false)
		writeInvalidRequest(w, verr.Code, verr.Message)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.metrics.RecordRequest(false)
		writeInvalidRequest(w, "invalid_json", "request body is not valid JSON")
		return
	}

	fingerprint, err := identity.Fingerprint(req.Messages)
	if err != nil {
		s.metrics.RecordRequest(false)
		writeInvalidRequest(w, "no_user_message", "at least one user message is required")
		return
	}

	if err := s.audit.RecordRequest(ctx, requestID, fingerprint, body); err != nil {
		log.Warn().Err(err).Msg("audit request write")
	}

	sess, err := s.resolveSession(ctx, fingerprint)
	if err != nil {
		s.metrics.RecordRequest(false)
		s.metrics.RecordUpstreamError()
		log.Error().Err(err).Str("request_id", requestID).Msg("conversation create")
		writeUpstreamError(w)
		return
	}

	enableTools := s.cfg.Tools.Enabled && len(req.Tools) > 0

	payload := transform.BuildUpstreamPayload(req.Messages, sess, req.Tools)
	payload.Temperature = req.Temperature
	payload.TopP = req.TopP
	payload.MaxTokens = req.MaxTokens
	monitoring.LogOutgoing(requestID, payload.ConversationID, payload.ParentTurnID, len(payload.Messages))

	if req.Stream {
		s.streamCompletion(w, r, req, payload, fingerprint, enableTools)
		return
	}
	s.completeOnce(ctx, w, req, payload, fingerprint, enableTools, requestID)
}

// resolveSession finds or creates the session for a fingerprint. When two
// requests race on a fresh fingerprint, the loser of the Create falls back
// to the winner's session; its upstream conversation is orphaned and logged.
func (s *Server) resolveSession(ctx context.Context, fingerprint string) (*session.Session, error) {
	if sess, ok := s.store.Get(fingerprint); ok {
		return sess, nil
	}

	conversationID, err := s.upstream.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Create(fingerprint, conversationID)
	if errors.Is(err, session.ErrSessionExists) {
		if existing, ok := s.store.Get(fingerprint); ok {
			log.Debug().
				Str("fingerprint", fingerprint).
				Str("orphaned_conversation", conversationID).
				Msg("lost session create race")
			return existing, nil
		}
	}
	return sess, err
}

// completeOnce drives the non-streaming path.
func (s *Server) completeOnce(ctx context.Context, w http.ResponseWriter, req openai.ChatCompletionRequest,
	payload upstream.Payload, fingerprint string, enableTools bool, requestID string) {

	reply, err := s.upstream.Send(ctx, payload)
	if err != nil {
		s.metrics.RecordRequest(false)
		s.metrics.RecordUpstreamError()
		log.Error().Err(err).Str("request_id", requestID).Msg("upstream send")
		writeUpstreamError(w)
		return
	}

	completion := transform.ToClientCompletion(reply, transform.ResponseOptions{
		Model:             req.Model,
		EnableToolCalling: enableTools,
		PromptText:        transform.PromptText(payload),
	})
	if completion.Choices[0].FinishReason == openai.FinishToolCalls {
		s.metrics.RecordToolCall()
	}

	if reply.TurnID != "" {
		if err := s.store.UpdateTurn(fingerprint, reply.TurnID); err != nil {
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("turn update")
		} else if updated, ok := s.store.Get(fingerprint); ok {
			if err := s.audit.SaveSession(ctx, updated); err != nil {
				log.Warn().Err(err).Msg("audit session write")
			}
		}
	}

	if err := s.audit.RecordResponse(ctx, requestID, http.StatusOK, []byte(openai.MarshalJSONString(completion))); err != nil {
		log.Warn().Err(err).Msg("audit response write")
	}
	s.metrics.RecordRequest(true)
	writeJSON(w, http.StatusOK, completion)
}

// streamCompletion drives the streaming path: the upstream event stream is
// consumed single-pass and re-emitted as client SSE. A client disconnect
// cancels the request context, which closes the upstream connection.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req openai.ChatCompletionRequest,
	payload upstream.Payload, fingerprint string, enableTools bool) {

	ctx := r.Context()
	requestID := monitoring.RequestIDFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w)
		return
	}

	events, err := s.upstream.SendStream(ctx, payload)
	if err != nil {
		s.metrics.RecordRequest(false)
		s.metrics.RecordUpstreamError()
		log.Error().Err(err).Str("request_id", requestID).Msg("upstream stream open")
		writeUpstreamError(w)
		return
	}
	defer events.Close()

	s.metrics.RecordStreamStart()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tr := stream.NewTransformer(stream.Options{
		Model:             req.Model,
		EnableToolCalling: enableTools,
		PromptText:        transform.PromptText(payload),
		Fingerprint:       fingerprint,
	}, s.store)

	for !tr.Done() {
		if ctx.Err() != nil {
			s.metrics.RecordStreamCancelled()
			log.Debug().Str("request_id", requestID).Msg("client disconnected mid-stream")
			return
		}
		ev, err := events.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				s.metrics.RecordStreamCancelled()
				return
			}
			s.metrics.RecordUpstreamError()
			log.Error().Err(err).Str("request_id", requestID).Msg("upstream stream read")
			break
		}
		for _, chunk := range tr.Feed(ev) {
			if _, err := io.WriteString(w, "data: "+openai.MarshalJSONString(chunk)+"\n\n"); err != nil {
				s.metrics.RecordStreamCancelled()
				return
			}
			flusher.Flush()
		}
	}

	if !tr.Done() {
		// The upstream ended without a terminal event. Release whatever the
		// transformer was withholding and skip the [DONE] terminator so the
		// client can tell the stream aborted rather than finished.
		for _, chunk := range tr.Feed(upstream.Event{Kind: upstream.EventError, Message: "stream ended before turn completion"}) {
			if _, err := io.WriteString(w, "data: "+openai.MarshalJSONString(chunk)+"\n\n"); err != nil {
				break
			}
			flusher.Flush()
		}
		s.metrics.RecordRequest(false)
		return
	}

	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err == nil {
		flusher.Flush()
	}

	completion := tr.CompleteResponse()
	if completion.Choices[0].FinishReason == openai.FinishToolCalls {
		s.metrics.RecordToolCall()
	}
	if updated, ok := s.store.Get(fingerprint); ok {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.audit.SaveSession(auditCtx, updated); err != nil {
			log.Warn().Err(err).Msg("audit session write")
		}
		if err := s.audit.RecordResponse(auditCtx, requestID, http.StatusOK,
			[]byte(openai.MarshalJSONString(completion))); err != nil {
			log.Warn().Err(err).Msg("audit response write")
		}
	}
	s.metrics.RecordRequest(true)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().Unix()
	list := openai.ModelList{Object: "list", Data: make([]openai.Model, 0, len(s.cfg.Models))}
	for _, id := range s.cfg.Models {
		list.Data = append(list.Data, openai.Model{
			ID:      id,
			Object:  "model",
			Created: now,
			OwnedBy: "turn-gateway",
		})
	}
	writeJSON(w, http.StatusOK, list)
}
