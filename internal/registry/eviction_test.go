package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gatekeeper/internal/bucket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucketFactory(t *testing.T, clock bucket.Clock) func() *bucket.Bucket {
	t.Helper()
	refill, err := bucket.NewContinuous(10, time.Second)
	require.NoError(t, err)
	return func() *bucket.Bucket {
		b, err := bucket.New(10, refill, clock)
		require.NoError(t, err)
		return b
	}
}

func TestTTLPolicy_Sweep(t *testing.T) {
	clock := bucket.NewManualClock(0)
	create := newBucketFactory(t, clock)
	store := NewMapStore()

	stale, _ := store.GetOrCreate("stale", create)
	stale.TryConsume()
	clock.Advance(2 * time.Minute)

	fresh, _ := store.GetOrCreate("fresh", create)
	fresh.TryConsume()

	policy := TTLPolicy{Threshold: time.Minute}
	assert.Equal(t, 1, policy.Sweep(store, clock.Now()))
	assert.Equal(t, 1, store.Len())

	got, created := store.GetOrCreate("fresh", create)
	assert.False(t, created)
	assert.Same(t, fresh, got)
}

func TestTTLPolicy_ThresholdIsExclusive(t *testing.T) {
	clock := bucket.NewManualClock(0)
	store := NewMapStore()
	store.GetOrCreate("edge", newBucketFactory(t, clock))

	clock.Advance(time.Minute)
	assert.Equal(t, 0, TTLPolicy{Threshold: time.Minute}.Sweep(store, clock.Now()))

	clock.Advance(time.Nanosecond)
	assert.Equal(t, 1, TTLPolicy{Threshold: time.Minute}.Sweep(store, clock.Now()))
}

func TestMapStore_RemoveIfIgnoresReplacedBucket(t *testing.T) {
	clock := bucket.NewManualClock(0)
	create := newBucketFactory(t, clock)
	store := NewMapStore()

	old, _ := store.GetOrCreate("client", create)
	require.True(t, store.RemoveIf("client", old))

	replacement, created := store.GetOrCreate("client", create)
	require.True(t, created)

	assert.False(t, store.RemoveIf("client", old), "stale pointer must not remove the replacement")
	got, _ := store.GetOrCreate("client", create)
	assert.Same(t, replacement, got)
	assert.Equal(t, 1, store.Len())
}

func TestNewLRUStore_InvalidSize(t *testing.T) {
	_, err := NewLRUStore(0)
	assert.Error(t, err)
}

type countingSweeper struct {
	calls atomic.Int64
}

func (c *countingSweeper) Sweep() int {
	c.calls.Add(1)
	return 0
}

func TestJanitor_RunsUntilStopped(t *testing.T) {
	sweeper := &countingSweeper{}
	j := NewJanitor(sweeper, 5*time.Millisecond)

	j.Start(context.Background())
	j.Start(context.Background())
	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	j.Stop()
	after := sweeper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, sweeper.calls.Load())

	j.Stop()
}

func TestJanitor_StopsOnContextCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	j := NewJanitor(sweeper, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	j.Stop()
	after := sweeper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, sweeper.calls.Load())
}

func TestJanitor_ZeroIntervalNeverStarts(t *testing.T) {
	sweeper := &countingSweeper{}
	j := NewJanitor(sweeper, 0)
	j.Start(context.Background())
	j.Stop()
	assert.Zero(t, sweeper.calls.Load())
}
