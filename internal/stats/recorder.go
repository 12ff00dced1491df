package stats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxBatch     = 512
	flushTimeout = 5 * time.Second
)

// Recorder buffers decisions and writes them to a Store in the background.
// Record never blocks: when the buffer is full the event is dropped and
// counted.
type Recorder struct {
	store         Store
	events        chan Event
	flushInterval time.Duration

	dropped atomic.Int64
	failed  atomic.Int64

	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewRecorder starts a recorder with room for bufferSize pending events.
func NewRecorder(store Store, bufferSize int, flushInterval time.Duration) *Recorder {
	r := newRecorder(store, bufferSize, flushInterval)
	r.start()
	return r
}

func newRecorder(store Store, bufferSize int, flushInterval time.Duration) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Recorder{
		store:         store,
		events:        make(chan Event, bufferSize),
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

func (r *Recorder) start() {
	go r.run()
}

// Record queues a decision.
func (r *Recorder) Record(key string, allowed bool) {
	select {
	case r.events <- Event{Key: key, Allowed: allowed, At: time.Now()}:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many decisions were discarded because the buffer was
// full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many decisions were lost to store errors.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}

// Summary reads the store. Decisions still buffered are not included.
func (r *Recorder) Summary(ctx context.Context, topN int) (*Summary, error) {
	return r.store.Summary(ctx, topN)
}

// Close flushes buffered decisions, stops the background writer and closes
// the store. Safe to call more than once.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		<-r.stopped
		err = r.store.Close()
	})
	return err
}

func (r *Recorder) run() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, maxBatch)
	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-r.done:
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
				default:
					r.flush(batch)
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := r.store.Record(ctx, batch); err != nil {
		r.failed.Add(int64(len(batch)))
		slog.Warn("Failed to flush rate limit stats", "events", len(batch), "error", err)
	} else {
		slog.Debug("Flushed rate limit stats", "events", len(batch))
	}
	return batch[:0]
}
