// Package models - API response types and error handling.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"fmt"
	"time"
)

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string         `json:"error"`                // Error type
	Message   string         `json:"message"`              // Human-readable error description
	Code      string         `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]any `json:"details,omitempty"`    // Extra context
	Timestamp time.Time      `json:"timestamp"`            // Error occurrence time
	RequestID string         `json:"request_id,omitempty"` // Unique request identifier
}

// Error codes for programmatic handling by clients
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400 / 405
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrorCodeBadGateway         = "BAD_GATEWAY"         // 502: upstream unreachable
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrorCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED" // 429
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewRateLimitResponse builds the 429 body. waitSeconds is the time the
// client should wait before retrying.
func NewRateLimitResponse(capacity int64, refillPeriod time.Duration, waitSeconds int64) *ErrorResponse {
	periodSeconds := int64(refillPeriod / time.Second)
	if periodSeconds < 1 {
		periodSeconds = 1
	}
	return &ErrorResponse{
		Error: "rate_limit_exceeded",
		Message: fmt.Sprintf(
			"Exceeded the maximum number of requests - %d requests per %d seconds. Try again later.",
			capacity, periodSeconds,
		),
		Code: ErrorCodeRateLimitExceeded,
		Details: map[string]any{
			"requests_number": capacity,
			"wait_seconds":    waitSeconds,
		},
		Timestamp: time.Now(),
	}
}

// Health status constants
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records a component's health and degrades the overall status
// when the component is not healthy.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{Status: status, Message: message}
	if status != StatusHealthy && h.Status == StatusHealthy {
		h.Status = StatusDegraded
	}
}

// RateLimitStatsResponse reports registry and decision counters.
type RateLimitStatsResponse struct {
	Enabled   bool              `json:"enabled"`
	Config    *RateLimitSummary `json:"config,omitempty"`
	Registry  *RegistryStats    `json:"registry,omitempty"`
	Decisions *DecisionStats    `json:"decisions,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type RateLimitSummary struct {
	Capacity     int64  `json:"capacity"`
	RefillPeriod string `json:"refill_period"`
	RefillMode   string `json:"refill_mode"`
	Eviction     string `json:"eviction"`
}

type RegistryStats struct {
	Buckets int   `json:"buckets"`
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
}

type DecisionStats struct {
	Allowed   int64      `json:"allowed"`
	Denied    int64      `json:"denied"`
	Dropped   int64      `json:"dropped"`
	TopDenied []KeyCount `json:"top_denied,omitempty"`
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// EchoResponse is served for admitted requests when no upstream is configured.
type EchoResponse struct {
	Message    string    `json:"message"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	RemoteAddr string    `json:"remote_addr"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
