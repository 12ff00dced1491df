package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ratelimit_decisions (
	client_key TEXT PRIMARY KEY,
	allowed    INTEGER NOT NULL DEFAULT 0,
	denied     INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
)`

const sqliteUpsert = `
INSERT INTO ratelimit_decisions (client_key, allowed, denied, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (client_key) DO UPDATE SET
	allowed = ratelimit_decisions.allowed + excluded.allowed,
	denied = ratelimit_decisions.denied + excluded.denied,
	updated_at = excluded.updated_at`

// SQLiteStore persists counters in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens dsn and creates the counters table if needed.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("connection string is required for SQLite stats")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the flusher and readers.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, c := range aggregate(events) {
		if _, err := stmt.ExecContext(ctx, key, c.Allowed, c.Denied, now); err != nil {
			return fmt.Errorf("failed to record stats for %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Summary(ctx context.Context, topN int) (*Summary, error) {
	sum := &Summary{}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(allowed), 0), COALESCE(SUM(denied), 0) FROM ratelimit_decisions`,
	).Scan(&sum.Allowed, &sum.Denied)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats totals: %w", err)
	}

	if topN <= 0 {
		return sum, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_key, denied FROM ratelimit_decisions
		 WHERE denied > 0 ORDER BY denied DESC, client_key ASC LIMIT ?`, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to read top denied clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top denied client: %w", err)
		}
		sum.TopDenied = append(sum.TopDenied, kc)
	}
	return sum, rows.Err()
}

// Close closes the storage connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
