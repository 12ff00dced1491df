// Package stats keeps counters of admission decisions. Decisions are recorded
// off the request path by a Recorder and persisted in batches to a Store:
// in memory, a JSON file, Redis, SQLite or PostgreSQL.
package stats

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrUnsupportedStore is returned by the factory for an unknown store type.
var ErrUnsupportedStore = errors.New("unsupported stats store")

// Event is a single admission decision.
type Event struct {
	Key     string
	Allowed bool
	At      time.Time
}

// Counts holds decision totals for one client or for all of them.
type Counts struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// KeyCount pairs a client identity with a count.
type KeyCount struct {
	Key   string
	Count int64
}

// Summary is the aggregate view served by the stats endpoint.
type Summary struct {
	Allowed   int64
	Denied    int64
	TopDenied []KeyCount // most denied clients first
}

// Store persists decision counters. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record adds a batch of decisions to the counters.
	Record(ctx context.Context, events []Event) error

	// Summary returns the totals and the topN most denied clients.
	Summary(ctx context.Context, topN int) (*Summary, error)

	// Close releases connections held by the store.
	Close() error
}

// aggregate folds a batch into per-key counts so database stores issue one
// upsert per key instead of one per event.
func aggregate(events []Event) map[string]Counts {
	byKey := make(map[string]Counts, len(events))
	for _, ev := range events {
		c := byKey[ev.Key]
		if ev.Allowed {
			c.Allowed++
		} else {
			c.Denied++
		}
		byKey[ev.Key] = c
	}
	return byKey
}

// topDenied orders by denied count descending, then key, and keeps topN.
func topDenied(byKey map[string]Counts, topN int) []KeyCount {
	if topN <= 0 {
		return nil
	}
	out := make([]KeyCount, 0, len(byKey))
	for k, c := range byKey {
		if c.Denied > 0 {
			out = append(out, KeyCount{Key: k, Count: c.Denied})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
