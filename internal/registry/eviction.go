package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/internal/bucket"
)

// TTLPolicy reclaims buckets that have had no consumption attempt for longer
// than Threshold.
type TTLPolicy struct {
	Threshold time.Duration
}

// Sweep removes every bucket in store idle for more than the threshold as of
// now and returns how many were removed. It runs alongside admission calls:
// a bucket refreshed after being read here but before removal may still be
// dropped, in which case the next call for that key gets a fresh, full
// bucket.
func (p TTLPolicy) Sweep(store *MapStore, now int64) int {
	cutoff := now - int64(p.Threshold)
	removed := 0
	store.Range(func(key string, b *bucket.Bucket) bool {
		if b.LastActivity() < cutoff && store.RemoveIf(key, b) {
			removed++
		}
		return true
	})
	return removed
}

// Sweeper is anything the Janitor can run periodically.
type Sweeper interface {
	Sweep() int
}

// Janitor runs a Sweeper on a fixed interval in a background goroutine.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
}

// NewJanitor creates a janitor; it does nothing until Start is called.
func NewJanitor(sweeper Sweeper, interval time.Duration) *Janitor {
	return &Janitor{sweeper: sweeper, interval: interval}
}

// Start launches the sweep loop. It returns immediately; the loop ends when
// ctx is cancelled or Stop is called. Calling Start on a running janitor is
// a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil || j.interval <= 0 {
		return
	}
	j.done = make(chan struct{})
	j.stopped = make(chan struct{})
	go j.run(ctx, j.done, j.stopped)
}

// Stop ends the sweep loop and waits for it to exit. Safe to call more than
// once.
func (j *Janitor) Stop() {
	j.mu.Lock()
	done, stopped := j.done, j.stopped
	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	j.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
}

func (j *Janitor) run(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if removed := j.sweeper.Sweep(); removed > 0 {
				slog.Debug("Evicted stale rate limit buckets", "removed", removed)
			}
		}
	}
}
