// Package httpmw holds the small set of HTTP middleware the control
// plane's own listener applies to its health and metrics endpoints.
package httpmw

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestIDHeader is the header carrying a request's correlation id, both
// on the way in (if the caller already has one) and on the way out.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation id, reusing one supplied by
// the caller via RequestIDHeader or minting a new one otherwise, and
// attaches it to both the request context and the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey, id)))
	})
}

// RequestIDFromContext extracts the correlation id attached by RequestID,
// returning "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// clientLimiters hands out a token-bucket limiter per remote address,
// lazily created and never cleaned up eagerly — cleanup, run periodically
// by RateLimit's own goroutine, drops limiters that have gone idle.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiters(requestsPerMinute, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (c *clientLimiters) forClient(clientID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[clientID] = l
	}
	return l
}

// cleanup drops limiters whose bucket is full, which only happens to a
// limiter that hasn't been drawn from in a while.
func (c *clientLimiters) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, l := range c.limiters {
		if l.TokensAt(now) == float64(c.burst) {
			delete(c.limiters, id)
		}
	}
}

// RateLimit builds per-client-address rate-limiting middleware: up to
// requestsPerMinute sustained, with burst allowing a temporary spike. A
// background goroutine evicts idle per-client limiters every five minutes
// for the lifetime of ctx.
func RateLimit(ctx context.Context, requestsPerMinute, burst int) func(http.Handler) http.Handler {
	limiters := newClientLimiters(requestsPerMinute, burst)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiters.cleanup()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := clientAddr(r)

			if !limiters.forClient(clientID).Allow() {
				w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerMinute))
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerMinute))
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
