package registry

import (
	"sync"
	"sync/atomic"

	"gatekeeper/internal/bucket"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Store maps client identities to buckets. Implementations must be safe for
// concurrent use and must never hold two buckets for the same key.
type Store interface {
	// GetOrCreate returns the bucket for key, calling create and storing its
	// result only when no bucket exists. The insert is atomic: concurrent
	// callers for one key all receive the same bucket, and created is true
	// for exactly one of them.
	GetOrCreate(key string, create func() *bucket.Bucket) (b *bucket.Bucket, created bool)

	// Len returns the number of buckets currently held.
	Len() int
}

// MapStore is an unbounded Store backed by sync.Map. Memory is bounded by
// running a TTLPolicy over it.
type MapStore struct {
	buckets sync.Map // string -> *bucket.Bucket
	size    atomic.Int64
}

// NewMapStore returns an empty MapStore.
func NewMapStore() *MapStore {
	return &MapStore{}
}

func (s *MapStore) GetOrCreate(key string, create func() *bucket.Bucket) (*bucket.Bucket, bool) {
	if v, ok := s.buckets.Load(key); ok {
		return v.(*bucket.Bucket), false
	}
	v, loaded := s.buckets.LoadOrStore(key, create())
	if !loaded {
		s.size.Add(1)
	}
	return v.(*bucket.Bucket), !loaded
}

func (s *MapStore) Len() int {
	return int(s.size.Load())
}

// Range calls fn for each bucket until fn returns false. It does not block
// concurrent inserts or removals.
func (s *MapStore) Range(fn func(key string, b *bucket.Bucket) bool) {
	s.buckets.Range(func(k, v any) bool {
		return fn(k.(string), v.(*bucket.Bucket))
	})
}

// RemoveIf deletes key only while it still maps to b. A bucket that was
// replaced after the caller looked at it stays in place.
func (s *MapStore) RemoveIf(key string, b *bucket.Bucket) bool {
	if s.buckets.CompareAndDelete(key, b) {
		s.size.Add(-1)
		return true
	}
	return false
}

// LRUStore is a Store bounded by entry count. Inserting into a full store
// evicts the least recently used bucket inline.
type LRUStore struct {
	cache   *lru.Cache[string, *bucket.Bucket]
	evicted atomic.Int64
}

// NewLRUStore returns a store holding at most size buckets.
func NewLRUStore(size int) (*LRUStore, error) {
	s := &LRUStore{}
	cache, err := lru.NewWithEvict(size, func(string, *bucket.Bucket) {
		s.evicted.Add(1)
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *LRUStore) GetOrCreate(key string, create func() *bucket.Bucket) (*bucket.Bucket, bool) {
	if b, ok := s.cache.Get(key); ok {
		return b, false
	}
	fresh := create()
	// PeekOrAdd checks and inserts under the cache lock.
	if prev, ok, _ := s.cache.PeekOrAdd(key, fresh); ok {
		return prev, false
	}
	return fresh, true
}

func (s *LRUStore) Len() int {
	return s.cache.Len()
}

// Evicted returns how many buckets were pushed out by the size bound.
func (s *LRUStore) Evicted() int64 {
	return s.evicted.Load()
}
