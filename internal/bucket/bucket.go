// Package bucket implements a single client's token bucket. A Bucket knows
// nothing about other clients or about HTTP; it only decides whether one more
// unit of work may proceed right now.
//
// Bucket state is an immutable value swapped atomically as a whole, so the
// token count and the timestamps can never be observed out of step with each
// other.
package bucket

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrInvalidConfig is returned when a bucket or refill strategy is built from
// unusable parameters.
var ErrInvalidConfig = errors.New("invalid bucket configuration")

// state is never mutated once published.
type state struct {
	tokens       int64
	lastRefill   int64
	lastActivity int64
}

// Result describes the outcome of a single consumption attempt.
type Result struct {
	Allowed    bool
	Limit      int64         // Bucket capacity
	Remaining  int64         // Tokens left after this attempt
	RetryAfter time.Duration // Wait until the next token (zero when allowed)
	ResetAfter time.Duration // Wait until the bucket is full again
}

// Bucket is a token bucket safe for concurrent use.
type Bucket struct {
	capacity int64
	refill   Refill
	clock    Clock
	state    atomic.Pointer[state]
}

// New creates a full bucket holding capacity tokens.
func New(capacity int64, refill Refill, clock Clock) (*Bucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	if refill == nil {
		return nil, fmt.Errorf("%w: refill strategy is required", ErrInvalidConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}

	now := clock.Now()
	b := &Bucket{
		capacity: capacity,
		refill:   refill,
		clock:    clock,
	}
	b.state.Store(&state{tokens: capacity, lastRefill: now, lastActivity: now})
	return b, nil
}

// TryConsume takes one token if one is available.
func (b *Bucket) TryConsume() bool {
	return b.Take().Allowed
}

// Take attempts to consume one token and reports the resulting bucket state.
//
// Refill and consumption are computed from one snapshot and published with a
// single compare-and-swap. A failed swap means another caller published
// first, so every retry follows someone else's progress and the loop cannot
// spin without the bucket advancing.
func (b *Bucket) Take() Result {
	for {
		now := b.clock.Now()
		prev := b.state.Load()
		next := b.reconcile(prev, now)

		allowed := next.tokens >= 1
		if allowed {
			next.tokens--
		}
		next.lastActivity = now

		if b.state.CompareAndSwap(prev, next) {
			return b.result(next, now, allowed)
		}
	}
}

// reconcile applies refill to a copy of s. lastRefill advances only by the
// time actually converted into tokens so fractional credit is never lost.
func (b *Bucket) reconcile(s *state, now int64) *state {
	next := *s
	tokens, consumed := b.refill.Tokens(now - s.lastRefill)
	if tokens > 0 {
		if tokens >= b.capacity-next.tokens {
			next.tokens = b.capacity
		} else {
			next.tokens += tokens
		}
		next.lastRefill += consumed
	}
	return &next
}

func (b *Bucket) result(s *state, now int64, allowed bool) Result {
	accumulated := now - s.lastRefill
	r := Result{
		Allowed:    allowed,
		Limit:      b.capacity,
		Remaining:  s.tokens,
		ResetAfter: time.Duration(b.refill.FullIn(b.capacity-s.tokens, accumulated)),
	}
	if !allowed {
		r.RetryAfter = time.Duration(b.refill.NextIn(accumulated))
	}
	return r
}

// Capacity returns the maximum number of tokens the bucket holds.
func (b *Bucket) Capacity() int64 {
	return b.capacity
}

// Available returns the number of tokens that a call made now would see,
// without consuming or publishing anything.
func (b *Bucket) Available() int64 {
	return b.reconcile(b.state.Load(), b.clock.Now()).tokens
}

// LastActivity returns the clock reading of the most recent consumption
// attempt.
func (b *Bucket) LastActivity() int64 {
	return b.state.Load().lastActivity
}

// IdleFor reports how long the bucket has gone without a consumption attempt
// as of now.
func (b *Bucket) IdleFor(now int64) time.Duration {
	return time.Duration(now - b.LastActivity())
}
