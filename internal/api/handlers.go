package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/stats"
	"gatekeeper/internal/version"
)

const (
	defaultTopDenied = 10
	maxTopDenied     = 100
	statsTimeout     = 2 * time.Second
)

// RegistryStats reports bucket registry counters.
type RegistryStats interface {
	Len() int
	Created() int64
	Evicted() int64
}

// DecisionStats reports admission decision counters.
type DecisionStats interface {
	Summary(ctx context.Context, topN int) (*stats.Summary, error)
	Dropped() int64
}

// Handlers contains HTTP handlers for the gatekeeper API
type Handlers struct {
	config    *models.Config
	registry  RegistryStats
	decisions DecisionStats
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithRegistryStats sets the registry the stats endpoint reports on.
func WithRegistryStats(rs RegistryStats) HandlerOption {
	return func(h *Handlers) {
		h.registry = rs
	}
}

// WithDecisionStats sets the source of decision counters.
func WithDecisionStats(ds DecisionStats) HandlerOption {
	return func(h *Handlers) {
		h.decisions = ds
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(config *models.Config, opts ...HandlerOption) *Handlers {
	h := &Handlers{config: config}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	if h.config.RateLimit.Enabled {
		response.AddComponent("rate_limiter", models.StatusHealthy, "Rate limiter is operational")
	} else {
		response.AddComponent("rate_limiter", models.StatusHealthy, "Rate limiting is disabled")
	}

	if h.decisions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()
		if _, err := h.decisions.Summary(ctx, 1); err != nil {
			slog.Warn("Stats store health check failed", "error", err)
			response.AddComponent("stats", models.StatusUnhealthy, "Stats store is unreachable")
		} else {
			response.AddComponent("stats", models.StatusHealthy, "Stats store is operational")
		}
	}

	writeJSON(w, r, http.StatusOK, response)
}

// RateLimitStats reports limiter configuration, registry size and decision
// counters.
// GET /api/v1/ratelimit/stats?top=N
func (h *Handlers) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	topN := defaultTopDenied
	if topParam := r.URL.Query().Get("top"); topParam != "" {
		n, err := strconv.Atoi(topParam)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "top must be a non-negative integer")
			return
		}
		topN = min(n, maxTopDenied)
	}

	rl := h.config.RateLimit
	response := &models.RateLimitStatsResponse{
		Enabled:   rl.Enabled,
		Timestamp: time.Now(),
	}
	if !rl.Enabled {
		writeJSON(w, r, http.StatusOK, response)
		return
	}

	response.Config = &models.RateLimitSummary{
		Capacity:     rl.Capacity,
		RefillPeriod: rl.RefillPeriod.String(),
		RefillMode:   rl.RefillMode,
		Eviction:     rl.Eviction,
	}

	if h.registry != nil {
		response.Registry = &models.RegistryStats{
			Buckets: h.registry.Len(),
			Created: h.registry.Created(),
			Evicted: h.registry.Evicted(),
		}
	}

	if h.decisions != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()
		summary, err := h.decisions.Summary(ctx, topN)
		if err != nil {
			slog.Error("Failed to read decision statistics", "error", err)
			writeError(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Decision statistics are unavailable")
			return
		}
		decisions := &models.DecisionStats{
			Allowed: summary.Allowed,
			Denied:  summary.Denied,
			Dropped: h.decisions.Dropped(),
		}
		for _, kc := range summary.TopDenied {
			decisions.TopDenied = append(decisions.TopDenied, models.KeyCount{Key: kc.Key, Count: kc.Count})
		}
		response.Decisions = decisions
	}

	writeJSON(w, r, http.StatusOK, response)
}

// Echo answers admitted requests when no upstream is configured.
func (h *Handlers) Echo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, &models.EchoResponse{
		Message:    "Request admitted",
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		RequestID:  w.Header().Get(ratelimit.RequestIDHeader),
		Timestamp:  time.Now(),
	})
}

// writeJSON writes data as a JSON response
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written
		slog.Error("Error encoding JSON response", "error", err, "path", r.URL.Path)
	}
}

// writeError writes an ErrorResponse carrying the request ID
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = w.Header().Get(ratelimit.RequestIDHeader)
	writeJSON(w, r, statusCode, errorResp)
}
