package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gatekeeper/internal/bucket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ttlConfig(capacity int64, period, staleness time.Duration) Config {
	return Config{
		Capacity:           capacity,
		RefillPeriod:       period,
		Eviction:           EvictionTTL,
		StalenessThreshold: staleness,
		CleanupInterval:    time.Hour,
	}
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *bucket.ManualClock) {
	t.Helper()
	clock := bucket.NewManualClock(0)
	r, err := New(cfg, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, clock
}

func TestConfig_Validate(t *testing.T) {
	valid := ttlConfig(10, time.Second, time.Minute)

	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{name: "valid ttl", modify: func(c *Config) {}, ok: true},
		{name: "valid lru", modify: func(c *Config) { c.Eviction = EvictionLRU; c.MaxEntries = 5 }, ok: true},
		{name: "valid discrete", modify: func(c *Config) { c.Refill = RefillDiscrete; c.TokensPerPeriod = 2 }, ok: true},
		{name: "zero capacity", modify: func(c *Config) { c.Capacity = 0 }},
		{name: "negative capacity", modify: func(c *Config) { c.Capacity = -3 }},
		{name: "zero period", modify: func(c *Config) { c.RefillPeriod = 0 }},
		{name: "period below capacity nanos", modify: func(c *Config) { c.RefillPeriod = 5 * time.Nanosecond }},
		{name: "discrete without tokens", modify: func(c *Config) { c.Refill = RefillDiscrete }},
		{name: "unknown refill", modify: func(c *Config) { c.Refill = "sliding" }},
		{name: "zero staleness", modify: func(c *Config) { c.StalenessThreshold = 0 }},
		{name: "zero cleanup interval", modify: func(c *Config) { c.CleanupInterval = 0 }},
		{name: "lru without bound", modify: func(c *Config) { c.Eviction = EvictionLRU }},
		{name: "unknown eviction", modify: func(c *Config) { c.Eviction = "fifo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)

			_, err = New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRegistry_IsAllowed_Scenario(t *testing.T) {
	r, clock := newTestRegistry(t, ttlConfig(10, 1000*time.Millisecond, time.Minute))

	for i := 0; i < 10; i++ {
		assert.True(t, r.IsAllowed("client"), "request %d should be allowed", i+1)
	}
	assert.False(t, r.IsAllowed("client"))

	clock.Advance(1000 * time.Millisecond)
	for i := 0; i < 10; i++ {
		assert.True(t, r.IsAllowed("client"), "request %d after refill should be allowed", i+1)
	}
	assert.False(t, r.IsAllowed("client"))
}

func TestRegistry_DiscreteRefill(t *testing.T) {
	cfg := ttlConfig(5, time.Second, time.Minute)
	cfg.Refill = RefillDiscrete
	cfg.TokensPerPeriod = 2
	r, clock := newTestRegistry(t, cfg)

	for i := 0; i < 5; i++ {
		require.True(t, r.IsAllowed("client"))
	}
	assert.False(t, r.IsAllowed("client"))

	clock.Advance(time.Second)
	assert.True(t, r.IsAllowed("client"))
	assert.True(t, r.IsAllowed("client"))
	assert.False(t, r.IsAllowed("client"))
}

func TestRegistry_BucketIsolation(t *testing.T) {
	r, _ := newTestRegistry(t, ttlConfig(2, time.Minute, time.Minute))

	assert.True(t, r.IsAllowed("key1"))
	assert.True(t, r.IsAllowed("key1"))
	assert.False(t, r.IsAllowed("key1"), "key1 should be denied")

	assert.True(t, r.IsAllowed("key2"), "key2 should be allowed")
	assert.Equal(t, int64(1), r.Allow("key2").Remaining)
}

func TestRegistry_Allow_ReportsResult(t *testing.T) {
	r, _ := newTestRegistry(t, ttlConfig(3, 3*time.Second, time.Minute))

	res := r.Allow("client")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.Limit)
	assert.Equal(t, int64(2), res.Remaining)

	r.Allow("client")
	r.Allow("client")
	res = r.Allow("client")
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)
}

func TestRegistry_ConcurrentRaceOnFreshBucket(t *testing.T) {
	const (
		capacity = 25
		callers  = 400
	)
	r, _ := newTestRegistry(t, ttlConfig(capacity, time.Hour, time.Hour))

	var (
		allowed atomic.Int64
		wg      sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if r.IsAllowed("203.0.113.7") {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(capacity), allowed.Load())
	assert.Equal(t, int64(1), r.Created())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentFirstAccessCreatesOneBucketPerKey(t *testing.T) {
	for _, eviction := range []string{EvictionTTL, EvictionLRU} {
		t.Run(eviction, func(t *testing.T) {
			cfg := ttlConfig(1000, time.Hour, time.Hour)
			cfg.Eviction = eviction
			cfg.MaxEntries = 1000
			r, _ := newTestRegistry(t, cfg)

			const keys = 20
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					<-start
					r.IsAllowed(fmt.Sprintf("client-%d", id%keys))
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int64(keys), r.Created())
			assert.Equal(t, keys, r.Len())
		})
	}
}

func TestRegistry_Sweep_EvictsIdleBuckets(t *testing.T) {
	// capacity=100, refill over 10s, buckets expire after 60s idle
	r, clock := newTestRegistry(t, ttlConfig(100, 10*time.Second, 60*time.Second))

	r.IsAllowed("idle")
	clock.Advance(30 * time.Second)
	r.IsAllowed("active")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), r.Evicted())

	// The survivor keeps its bucket; the evicted key gets a new one.
	r.IsAllowed("active")
	assert.Equal(t, int64(2), r.Created())
	assert.Equal(t, int64(99), r.Allow("idle").Remaining)
	assert.Equal(t, int64(3), r.Created())
}

func TestRegistry_Sweep_KeepsRecentlyDeniedBuckets(t *testing.T) {
	r, clock := newTestRegistry(t, ttlConfig(1, time.Hour, time.Minute))

	assert.True(t, r.IsAllowed("client"))
	clock.Advance(50 * time.Second)
	assert.False(t, r.IsAllowed("client"))
	clock.Advance(50 * time.Second)

	assert.Equal(t, 0, r.Sweep())
	assert.False(t, r.IsAllowed("client"), "a denied client must not regain its burst through eviction")
}

func TestRegistry_LRUEvictsLeastRecentlyUsed(t *testing.T) {
	cfg := Config{
		Capacity:     5,
		RefillPeriod: time.Minute,
		Eviction:     EvictionLRU,
		MaxEntries:   2,
	}
	r, _ := newTestRegistry(t, cfg)

	r.IsAllowed("a")
	r.IsAllowed("b")
	r.IsAllowed("a") // b is now least recently used
	r.IsAllowed("c")

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(1), r.Evicted())
	assert.Equal(t, 0, r.Sweep())

	// a kept its state, b was recreated full.
	assert.Equal(t, int64(2), r.Allow("a").Remaining)
	assert.Equal(t, int64(4), r.Allow("b").Remaining)
}

func TestRegistry_JanitorSweepsInBackground(t *testing.T) {
	cfg := ttlConfig(10, time.Second, 20*time.Millisecond)
	cfg.CleanupInterval = 10 * time.Millisecond
	r, err := New(cfg)
	require.NoError(t, err)
	defer r.Close()

	r.Start(context.Background())
	r.IsAllowed("ephemeral")
	require.Equal(t, 1, r.Len())

	assert.Eventually(t, func() bool {
		return r.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "idle bucket should be swept")
	assert.Equal(t, int64(1), r.Evicted())
}

func TestRegistry_CloseIsIdempotent(t *testing.T) {
	r, err := New(ttlConfig(10, time.Second, time.Minute))
	require.NoError(t, err)

	r.Start(context.Background())
	r.Close()
	r.Close()
}

func TestRegistry_ConcurrentSweepAndAdmission(t *testing.T) {
	cfg := ttlConfig(1000, time.Hour, time.Nanosecond)
	r, clock := newTestRegistry(t, cfg)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				clock.Advance(time.Millisecond)
				r.Sweep()
			}
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.IsAllowed(fmt.Sprintf("client-%d", (id+j)%16))
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.GreaterOrEqual(t, r.Len(), 0)
	assert.LessOrEqual(t, r.Len(), 16)
}
