package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis so several gatekeeper instances can
// report combined totals. Totals live in a hash, per-client denials in a
// sorted set.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore uses rdb with keys under prefix. Closing the store closes rdb.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "gatekeeper:stats"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) totalKey() string  { return s.prefix + ":total" }
func (s *RedisStore) deniedKey() string { return s.prefix + ":denied" }

func (s *RedisStore) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var allowed, denied int64
	pipe := s.rdb.TxPipeline()
	for key, c := range aggregate(events) {
		allowed += c.Allowed
		denied += c.Denied
		if c.Denied > 0 {
			pipe.ZIncrBy(ctx, s.deniedKey(), float64(c.Denied), key)
		}
	}
	if allowed > 0 {
		pipe.HIncrBy(ctx, s.totalKey(), "allowed", allowed)
	}
	if denied > 0 {
		pipe.HIncrBy(ctx, s.totalKey(), "denied", denied)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record stats in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Summary(ctx context.Context, topN int) (*Summary, error) {
	totals, err := s.rdb.HGetAll(ctx, s.totalKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stats totals: %w", err)
	}

	sum := &Summary{}
	if sum.Allowed, err = parseCount(totals["allowed"]); err != nil {
		return nil, err
	}
	if sum.Denied, err = parseCount(totals["denied"]); err != nil {
		return nil, err
	}

	if topN <= 0 {
		return sum, nil
	}

	top, err := s.rdb.ZRevRangeWithScores(ctx, s.deniedKey(), 0, int64(topN-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read top denied clients: %w", err)
	}
	for _, z := range top {
		member, _ := z.Member.(string)
		sum.TopDenied = append(sum.TopDenied, KeyCount{Key: member, Count: int64(z.Score)})
	}
	return sum, nil
}

// Reset deletes every key owned by the store.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.totalKey(), s.deniedKey()).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func parseCount(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value %q: %w", v, err)
	}
	return n, nil
}
