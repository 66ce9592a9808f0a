// HTTP middleware for the gateway.
//
// DESIGN: Middleware chain (applied in order):
//  1. panicRecovery: catch panics, return 500, log stack trace
//  2. requestID:     assign a request id and put it in context
//  3. requestLog:    log request/response with timing
//  4. rateLimit:     per-IP token bucket (when configured)
package gateway

import (
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/monitoring"
)

// maxRateLimitBuckets caps the per-IP table so hostile traffic cannot grow
// it without bound.
const maxRateLimitBuckets = 10000

// statusWriter captures the status code and keeps Flush working for SSE.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Any("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panic")
				writeInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(monitoring.WithRequestID(r.Context(), id)))
	})
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		id := monitoring.RequestIDFromContext(r.Context())
		monitoring.LogIncoming(id, r.Method, r.URL.Path, int(r.ContentLength))
		next.ServeHTTP(sw, r)
		monitoring.LogResponse(id, sw.status, time.Since(start))
	})
}

// tokenBucket holds rate state for one client IP.
type tokenBucket struct {
	tokens    float64
	lastCheck time.Time
}

// rateLimiter is a per-IP token bucket limiter.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64
}

func newRateLimiter(perSecond int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    float64(perSecond),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= maxRateLimitBuckets {
			rl.evictStalest(now)
		}
		rl.buckets[ip] = &tokenBucket{tokens: rl.rate - 1, lastCheck: now}
		return true
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * rl.rate
	if b.tokens > rl.rate {
		b.tokens = rl.rate
	}
	b.lastCheck = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// evictStalest drops the least recently seen bucket. Called with the lock held.
func (rl *rateLimiter) evictStalest(now time.Time) {
	var stalest string
	oldest := now
	for ip, b := range rl.buckets {
		if b.lastCheck.Before(oldest) || stalest == "" {
			stalest = ip
			oldest = b.lastCheck
		}
	}
	if stalest != "" {
		delete(rl.buckets, stalest)
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.allow(ip) {
			writeError(w, http.StatusTooManyRequests, ErrTypeInvalidRequest,
				"rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
