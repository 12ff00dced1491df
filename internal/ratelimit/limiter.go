// Package ratelimit adapts the per-client bucket registry to HTTP. It resolves
// a client identity from each request, asks a Limiter for a decision and
// answers denied requests with 429 and standard rate limit headers.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/registry"
)

// Limiter defines the rate limiting contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow checks whether a request identified by key should be allowed.
	// Returns whether the request is allowed and rate information for
	// populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// ContextLimiter is a Limiter that also accepts the request context, for
// example to attach tracing spans. Middleware prefers AllowContext when the
// limiter implements it.
type ContextLimiter interface {
	Limiter
	AllowContext(ctx context.Context, key string) (allowed bool, info Info)
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int64         // Bucket capacity
	Remaining  int64         // Tokens left after this request
	Window     time.Duration // Time to refill an empty bucket
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// RegistryLimiter is a Limiter backed by a bucket registry.
type RegistryLimiter struct {
	reg *registry.Registry
	now func() time.Time
}

// NewRegistryLimiter wraps reg. Closing the limiter closes the registry.
func NewRegistryLimiter(reg *registry.Registry) *RegistryLimiter {
	return &RegistryLimiter{reg: reg, now: time.Now}
}

// Allow consumes a token from key's bucket if one is available.
func (l *RegistryLimiter) Allow(key string) (bool, Info) {
	res := l.reg.Allow(key)
	return res.Allowed, Info{
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		Window:     l.reg.Config().RefillPeriod,
		ResetAt:    l.now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}
}

// NewFromConfig builds a registry from service configuration and wraps it.
func NewFromConfig(cfg models.RateLimitConfig, opts ...registry.Option) (*RegistryLimiter, error) {
	reg, err := registry.New(RegistryConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket registry: %w", err)
	}
	return NewRegistryLimiter(reg), nil
}

// RegistryConfig maps the rate_limit configuration section onto registry
// parameters.
func RegistryConfig(cfg models.RateLimitConfig) registry.Config {
	return registry.Config{
		Capacity:           cfg.Capacity,
		RefillPeriod:       cfg.RefillPeriod,
		Refill:             cfg.RefillMode,
		TokensPerPeriod:    cfg.TokensPerPeriod,
		Eviction:           cfg.Eviction,
		StalenessThreshold: cfg.StalenessThreshold,
		CleanupInterval:    cfg.CleanupInterval,
		MaxEntries:         cfg.MaxEntries,
	}
}

func (l *RegistryLimiter) Close() {
	l.reg.Close()
}

// Registry exposes the underlying registry for statistics.
func (l *RegistryLimiter) Registry() *registry.Registry {
	return l.reg
}
