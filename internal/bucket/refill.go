package bucket

import (
	"fmt"
	"time"
)

// Refill converts elapsed time into tokens. Implementations must be pure:
// the same input always yields the same output.
type Refill interface {
	// Tokens returns how many whole tokens elapsed nanoseconds produce and
	// how many of those nanoseconds were spent producing them. The remainder
	// (elapsed - consumed) carries over to the next call.
	Tokens(elapsed int64) (tokens int64, consumed int64)

	// NextIn returns nanoseconds until the next token is produced, given the
	// nanoseconds already accumulated since the last reconciliation.
	NextIn(accumulated int64) int64

	// FullIn returns nanoseconds until missing tokens have been produced.
	FullIn(missing, accumulated int64) int64
}

// Continuous spreads a full refill evenly over a period: one token every
// period/capacity nanoseconds.
type Continuous struct {
	nanosPerToken int64
}

// NewContinuous returns a continuous refill that restores capacity tokens
// over period.
func NewContinuous(capacity int64, period time.Duration) (Continuous, error) {
	if capacity <= 0 {
		return Continuous{}, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, capacity)
	}
	if period <= 0 {
		return Continuous{}, fmt.Errorf("%w: refill period must be positive, got %v", ErrInvalidConfig, period)
	}
	npt := int64(period) / capacity
	if npt == 0 {
		return Continuous{}, fmt.Errorf("%w: refill period %v is shorter than %d nanoseconds", ErrInvalidConfig, period, capacity)
	}
	return Continuous{nanosPerToken: npt}, nil
}

// Interval returns the time needed to produce one token.
func (c Continuous) Interval() time.Duration {
	return time.Duration(c.nanosPerToken)
}

func (c Continuous) Tokens(elapsed int64) (int64, int64) {
	if elapsed <= 0 {
		return 0, 0
	}
	tokens := elapsed / c.nanosPerToken
	return tokens, tokens * c.nanosPerToken
}

func (c Continuous) NextIn(accumulated int64) int64 {
	return max(c.nanosPerToken-max(accumulated, 0), 0)
}

func (c Continuous) FullIn(missing, accumulated int64) int64 {
	if missing <= 0 {
		return 0
	}
	return max(missing*c.nanosPerToken-max(accumulated, 0), 0)
}

// Discrete adds a fixed batch of tokens after every whole period.
type Discrete struct {
	period          int64
	tokensPerPeriod int64
}

// NewDiscrete returns a refill that adds tokensPerPeriod tokens at the end
// of each period.
func NewDiscrete(period time.Duration, tokensPerPeriod int64) (Discrete, error) {
	if period <= 0 {
		return Discrete{}, fmt.Errorf("%w: refill period must be positive, got %v", ErrInvalidConfig, period)
	}
	if tokensPerPeriod <= 0 {
		return Discrete{}, fmt.Errorf("%w: tokens per period must be positive, got %d", ErrInvalidConfig, tokensPerPeriod)
	}
	return Discrete{period: int64(period), tokensPerPeriod: tokensPerPeriod}, nil
}

func (d Discrete) Tokens(elapsed int64) (int64, int64) {
	if elapsed <= 0 {
		return 0, 0
	}
	periods := elapsed / d.period
	// periods*tokensPerPeriod may overflow after an extremely long idle
	// stretch; any value above capacity is clamped by the caller anyway.
	if periods > 0 && d.tokensPerPeriod > maxInt64/periods {
		return maxInt64, periods * d.period
	}
	return periods * d.tokensPerPeriod, periods * d.period
}

func (d Discrete) NextIn(accumulated int64) int64 {
	return max(d.period-max(accumulated, 0), 0)
}

func (d Discrete) FullIn(missing, accumulated int64) int64 {
	if missing <= 0 {
		return 0
	}
	periods := (missing + d.tokensPerPeriod - 1) / d.tokensPerPeriod
	return max(periods*d.period-max(accumulated, 0), 0)
}

const maxInt64 = int64(^uint64(0) >> 1)
