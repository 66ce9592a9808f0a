// Package upstream is the HTTP client for the stateful conversational
// service. It owns two concerns: creating conversations and sending turns,
// either as a single parsed reply or as a cancellable event stream.
//
// Transport-level policy (TLS, retries, timeouts) belongs to the injected
// http.Client; this package only shapes payloads and decodes replies.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Message is one turn entry in an upstream payload. The upstream protocol
// has no structured tool-call field; role and content is all there is.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is one send to the upstream.
type Payload struct {
	ConversationID string    `json:"conversation_id"`
	ParentTurnID   string    `json:"parent_turn_id,omitempty"`
	Messages       []Message `json:"messages"`
	Stream         bool      `json:"stream,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	TopP           *float64  `json:"top_p,omitempty"`
	MaxTokens      *int      `json:"max_tokens,omitempty"`
}

// Reply is a complete non-streaming upstream response. Usage is nil when the
// upstream omitted it, which it does on some call shapes.
type Reply struct {
	ConversationID string
	TurnID         string
	Content        string
	Usage          *Usage
}

// Error is a failed upstream call. The detail is for logs; handlers surface
// only a generic message to clients.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Detail)
}

// Client talks to the upstream conversation service.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates a client for the given base URL. The timeout bounds
// non-streaming calls only; streaming lifetimes are governed by the request
// context so a long generation is never severed by a fixed deadline.
func NewClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    httpClient,
	}
}

// CreateConversation registers a new upstream conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body, err := c.post(ctx, "/api/conversations", nil)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("reading conversation response: %w", err)
	}
	id := gjson.GetBytes(raw, "conversation_id").String()
	if id == "" {
		return "", &Error{StatusCode: http.StatusOK, Detail: "response missing conversation_id"}
	}
	return id, nil
}

// Send delivers a non-streaming turn and returns the parsed reply.
func (c *Client) Send(ctx context.Context, p Payload) (*Reply, error) {
	p.Stream = false
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	body, err := c.post(ctx, c.messagesPath(p.ConversationID), p)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading turn response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, &Error{StatusCode: http.StatusOK, Detail: "malformed turn response"}
	}
	return &Reply{
		ConversationID: gjson.GetBytes(raw, "conversation_id").String(),
		TurnID:         gjson.GetBytes(raw, "turn_id").String(),
		Content:        gjson.GetBytes(raw, "content").String(),
		Usage:          decodeUsage(gjson.GetBytes(raw, "usage")),
	}, nil
}

// SendStream delivers a streaming turn and returns the event stream. The
// stream draws from the live response body; cancelling ctx or calling Close
// releases the upstream connection promptly.
func (c *Client) SendStream(ctx context.Context, p Payload) (*EventStream, error) {
	p.Stream = true
	body, err := c.post(ctx, c.messagesPath(p.ConversationID), p)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}

func (c *Client) messagesPath(conversationID string) string {
	return "/api/conversations/" + conversationID + "/messages"
}

func (c *Client) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{StatusCode: resp.StatusCode, Detail: string(detail)}
	}
	return resp.Body, nil
}

// EventStream is a single-pass, non-restartable sequence of upstream events.
// Not safe for concurrent use.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

func newEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &EventStream{body: body, scanner: scanner}
}

// Next returns the next decoded event, or io.EOF when the stream is done.
// Lines that do not decode are skipped.
func (s *EventStream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		data, ok := eventData(line)
		if !ok {
			continue
		}
		ev, ok := DecodeEvent(data)
		if !ok {
			log.Debug().Str("line", string(line)).Msg("skipping malformed upstream event")
			continue
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// eventData strips the SSE framing from one line. Bare JSON lines are
// accepted too, so tests and simpler upstreams can skip the prefix.
func eventData(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		trimmed = bytes.TrimSpace(trimmed[len("data:"):])
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	return trimmed, true
}
