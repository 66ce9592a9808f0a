// Package gateway wires the HTTP surface: routing, middleware, and the
// request handlers that drive the translation core.
//
// DESIGN: Everything the handlers depend on - session store, upstream
// client, metrics, audit trail - is constructed once at startup and injected
// here by reference. There is no package-level registry; teardown is
// explicit through Shutdown.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/config"
	"github.com/compresr/turn-gateway/internal/monitoring"
	"github.com/compresr/turn-gateway/internal/persist"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/upstream"
)

// Server is the gateway HTTP server and its injected collaborators.
type Server struct {
	cfg      *config.Config
	store    session.Store
	upstream *upstream.Client
	metrics  *monitoring.MetricsCollector
	audit    *persist.Audit

	httpServer *http.Server
}

// New assembles the server. audit may be nil when the trail is disabled.
func New(cfg *config.Config, store session.Store, client *upstream.Client, audit *persist.Audit) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		upstream: client,
		metrics:  monitoring.NewMetricsCollector(),
		audit:    audit,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{fingerprint}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{fingerprint}", s.handleDeleteSession)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	var handler http.Handler = mux
	if cfg.Server.RateLimitPerSecond > 0 {
		handler = newRateLimiter(cfg.Server.RateLimitPerSecond).middleware(handler)
	}
	handler = requestLog(handler)
	handler = requestID(handler)
	handler = panicRecovery(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// WriteTimeout would sever long-lived SSE responses; streaming
		// deadlines are the upstream client's concern.
		WriteTimeout: 0,
	}
	return s
}

// Handler exposes the composed handler chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Int("port", s.cfg.Server.Port).Msg("gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.metrics.Stats()
	sm := s.store.Metrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"gateway": stats,
		"sessions": map[string]int64{
			"active":        sm.Active,
			"total_created": sm.TotalCreated,
			"total_cleaned": sm.TotalCleaned,
		},
	})
}
