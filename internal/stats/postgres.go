package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ratelimit_decisions (
	client_key TEXT PRIMARY KEY,
	allowed    BIGINT NOT NULL DEFAULT 0,
	denied     BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
)`

const postgresUpsert = `
INSERT INTO ratelimit_decisions (client_key, allowed, denied, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_key) DO UPDATE SET
	allowed = ratelimit_decisions.allowed + EXCLUDED.allowed,
	denied = ratelimit_decisions.denied + EXCLUDED.denied,
	updated_at = EXCLUDED.updated_at`

// PostgresStore persists counters in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the counters table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL stats")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Record sends one upsert per client in a single batch round trip.
func (s *PostgresStore) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	byKey := aggregate(events)
	batch := &pgx.Batch{}
	for key, c := range byKey {
		batch.Queue(postgresUpsert, key, c.Allowed, c.Denied, now)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range byKey {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to record stats: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Summary(ctx context.Context, topN int) (*Summary, error) {
	sum := &Summary{}
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(allowed), 0)::BIGINT, COALESCE(SUM(denied), 0)::BIGINT FROM ratelimit_decisions`,
	).Scan(&sum.Allowed, &sum.Denied)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats totals: %w", err)
	}

	if topN <= 0 {
		return sum, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT client_key, denied FROM ratelimit_decisions
		 WHERE denied > 0 ORDER BY denied DESC, client_key ASC LIMIT $1`, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to read top denied clients: %w", err)
	}

	top, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (KeyCount, error) {
		var kc KeyCount
		err := row.Scan(&kc.Key, &kc.Count)
		return kc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan top denied clients: %w", err)
	}
	if len(top) > 0 {
		sum.TopDenied = top
	}
	return sum, nil
}

// Reset removes all counters.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE ratelimit_decisions`)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
