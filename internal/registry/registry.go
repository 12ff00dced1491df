// Package registry owns the mapping from client identities to token buckets.
// It creates buckets lazily, routes admission checks to them and bounds memory
// with one of two eviction strategies: a periodic idle sweep (ttl) or an
// entry-count bound with least-recently-used eviction (lru).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gatekeeper/internal/bucket"
)

// ErrInvalidConfig is returned by New for unusable configuration.
var ErrInvalidConfig = errors.New("invalid registry configuration")

// Refill modes
const (
	RefillContinuous = "continuous"
	RefillDiscrete   = "discrete"
)

// Eviction strategies
const (
	EvictionTTL = "ttl"
	EvictionLRU = "lru"
)

// Config holds the parameters shared by every bucket a Registry creates.
type Config struct {
	Capacity        int64
	RefillPeriod    time.Duration
	Refill          string // continuous (default) or discrete
	TokensPerPeriod int64  // discrete only

	Eviction           string        // ttl (default) or lru
	StalenessThreshold time.Duration // ttl only
	CleanupInterval    time.Duration // ttl only
	MaxEntries         int           // lru only
}

// refill validates the refill parameters and builds the strategy.
func (c Config) refill() (bucket.Refill, error) {
	if c.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillPeriod <= 0 {
		return nil, fmt.Errorf("%w: refill period must be positive, got %v", ErrInvalidConfig, c.RefillPeriod)
	}

	var (
		r   bucket.Refill
		err error
	)
	switch c.Refill {
	case "", RefillContinuous:
		r, err = bucket.NewContinuous(c.Capacity, c.RefillPeriod)
	case RefillDiscrete:
		r, err = bucket.NewDiscrete(c.RefillPeriod, c.TokensPerPeriod)
	default:
		return nil, fmt.Errorf("%w: unknown refill mode %q", ErrInvalidConfig, c.Refill)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return r, nil
}

// Validate reports whether c can build a Registry.
func (c Config) Validate() error {
	if _, err := c.refill(); err != nil {
		return err
	}
	switch c.Eviction {
	case "", EvictionTTL:
		if c.StalenessThreshold <= 0 {
			return fmt.Errorf("%w: staleness threshold must be positive, got %v", ErrInvalidConfig, c.StalenessThreshold)
		}
		if c.CleanupInterval <= 0 {
			return fmt.Errorf("%w: cleanup interval must be positive, got %v", ErrInvalidConfig, c.CleanupInterval)
		}
	case EvictionLRU:
		if c.MaxEntries <= 0 {
			return fmt.Errorf("%w: max entries must be positive, got %d", ErrInvalidConfig, c.MaxEntries)
		}
	default:
		return fmt.Errorf("%w: unknown eviction strategy %q", ErrInvalidConfig, c.Eviction)
	}
	return nil
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock replaces the monotonic clock, mainly for tests.
func WithClock(clock bucket.Clock) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

// Registry routes admission checks to per-client buckets.
type Registry struct {
	cfg    Config
	refill bucket.Refill
	clock  bucket.Clock

	store   Store
	maps    *MapStore // set for ttl
	lrus    *LRUStore // set for lru
	policy  TTLPolicy
	janitor *Janitor

	created atomic.Int64
	swept   atomic.Int64
}

// New builds a Registry with the store matching cfg.Eviction. For ttl
// eviction, call Start to begin periodic sweeping.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	refill, err := cfg.refill()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		cfg:    cfg,
		refill: refill,
		clock:  bucket.NewMonotonicClock(),
	}
	for _, opt := range opts {
		opt(r)
	}

	switch cfg.Eviction {
	case EvictionLRU:
		lrus, err := NewLRUStore(cfg.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		r.lrus = lrus
		r.store = lrus
	default:
		r.maps = NewMapStore()
		r.store = r.maps
		r.policy = TTLPolicy{Threshold: cfg.StalenessThreshold}
		r.janitor = NewJanitor(r, cfg.CleanupInterval)
	}

	return r, nil
}

// IsAllowed reports whether the current request for key may proceed,
// consuming one token if so.
func (r *Registry) IsAllowed(key string) bool {
	return r.bucketFor(key).TryConsume()
}

// Allow is IsAllowed with the bucket state needed for response headers.
func (r *Registry) Allow(key string) bucket.Result {
	return r.bucketFor(key).Take()
}

func (r *Registry) bucketFor(key string) *bucket.Bucket {
	b, created := r.store.GetOrCreate(key, r.newBucket)
	if created {
		r.created.Add(1)
	}
	return b
}

func (r *Registry) newBucket() *bucket.Bucket {
	// Parameters were validated in New, so construction cannot fail.
	b, err := bucket.New(r.cfg.Capacity, r.refill, r.clock)
	if err != nil {
		panic(fmt.Sprintf("registry: bucket construction failed after validation: %v", err))
	}
	return b
}

// Sweep runs the ttl policy once and returns how many buckets were removed.
// It is a no-op for lru eviction, which evicts inline.
func (r *Registry) Sweep() int {
	if r.maps == nil {
		return 0
	}
	removed := r.policy.Sweep(r.maps, r.clock.Now())
	r.swept.Add(int64(removed))
	return removed
}

// Start begins periodic sweeping for ttl eviction. It returns immediately.
func (r *Registry) Start(ctx context.Context) {
	if r.janitor != nil {
		r.janitor.Start(ctx)
	}
}

// Close stops periodic sweeping. Safe to call more than once.
func (r *Registry) Close() {
	if r.janitor != nil {
		r.janitor.Stop()
	}
}

// Config returns the configuration the registry was built with.
func (r *Registry) Config() Config {
	return r.cfg
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	return r.store.Len()
}

// Created returns how many buckets have been created over the registry's
// lifetime.
func (r *Registry) Created() int64 {
	return r.created.Load()
}

// Evicted returns how many buckets have been reclaimed by either strategy.
func (r *Registry) Evicted() int64 {
	if r.lrus != nil {
		return r.lrus.Evicted()
	}
	return r.swept.Load()
}
