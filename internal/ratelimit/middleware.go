package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/models"

	"golang.org/x/time/rate"
)

// Recorder receives every admission decision. Record must not block.
type Recorder interface {
	Record(key string, allowed bool)
}

// RequestIDHeader carries the request ID set by the API layer.
const RequestIDHeader = "X-Request-ID"

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

// WithRecorder reports each decision to rec.
func WithRecorder(rec Recorder) MiddlewareOption {
	return func(m *middleware) {
		m.recorder = rec
	}
}

// WithDenialLogInterval sets the minimum spacing between denial warnings.
// Zero logs every denial.
func WithDenialLogInterval(d time.Duration) MiddlewareOption {
	return func(m *middleware) {
		if d <= 0 {
			m.denyLog = &rate.Sometimes{Every: 1}
			return
		}
		m.denyLog = &rate.Sometimes{Interval: d}
	}
}

type middleware struct {
	limiter  Limiter
	keyFunc  KeyFunc
	recorder Recorder
	denyLog  *rate.Sometimes
}

// Middleware returns HTTP middleware that admits or rejects each request
// using the bucket of the client identified by keyFunc.
func Middleware(limiter Limiter, keyFunc KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		limiter: limiter,
		keyFunc: keyFunc,
		denyLog: &rate.Sometimes{Interval: time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := m.keyFunc(r)
			var (
				allowed bool
				info    Info
			)
			if cl, ok := m.limiter.(ContextLimiter); ok {
				allowed, info = cl.AllowContext(r.Context(), key)
			} else {
				allowed, info = m.limiter.Allow(key)
			}

			if m.recorder != nil {
				m.recorder.Record(key, allowed)
			}

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(info.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(info.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			waitSecs := retryAfterSeconds(info.RetryAfter)
			w.Header().Set("Retry-After", strconv.FormatInt(waitSecs, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			errorResp := models.NewRateLimitResponse(info.Limit, info.Window, waitSecs)
			errorResp.RequestID = w.Header().Get(RequestIDHeader)
			json.NewEncoder(w).Encode(errorResp)

			m.denyLog.Do(func() {
				slog.Warn("Rate limit exceeded",
					"key", key,
					"limit", info.Limit,
					"retry_after", waitSecs,
				)
			})
		})
	}
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
