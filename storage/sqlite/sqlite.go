// Package sqlite provides a SQLite implementation of the
// quotawatch.HistoryStore interface, backed by the pure-Go modernc driver.
// It suits single-machine monitors that want history to survive restarts
// without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_id TEXT NOT NULL,
	captured_at INTEGER NOT NULL,
	account_email TEXT NOT NULL DEFAULT '',
	account_tier TEXT NOT NULL DEFAULT '',
	quotas TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_provider_time
	ON snapshots (provider_id, captured_at DESC);
`

// Store implements quotawatch.HistoryStore using SQLite
type Store struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite storage configuration
type Config struct {
	// Path is the database file (default: "quotawatch.db")
	Path string

	// MaxEntries caps the snapshots kept per provider (0 = unlimited)
	MaxEntries int
}

// New creates a new SQLite history store, creating the schema on first use
func New(config Config) (*Store, error) {
	// Set defaults
	if config.Path == "" {
		config.Path = "quotawatch.db"
	}

	db, err := sql.Open("sqlite", config.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection avoids lock contention; SQLite gains nothing
	// from more writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// Append implements quotawatch.HistoryStore
func (s *Store) Append(ctx context.Context, snapshot *quotawatch.Snapshot) error {
	if snapshot == nil || snapshot.ProviderID == "" {
		return fmt.Errorf("snapshot with provider id is required")
	}

	quotas, err := json.Marshal(snapshot.Quotas)
	if err != nil {
		return fmt.Errorf("failed to marshal quotas: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (provider_id, captured_at, account_email, account_tier, quotas)
			VALUES (?, ?, ?, ?, ?)`,
		snapshot.ProviderID,
		snapshot.CapturedAt.UnixMilli(),
		snapshot.AccountEmail,
		snapshot.AccountTier,
		string(quotas),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if s.config.MaxEntries > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM snapshots WHERE provider_id = ? AND id NOT IN (
				SELECT id FROM snapshots WHERE provider_id = ?
				ORDER BY captured_at DESC, id DESC LIMIT ?)`,
			snapshot.ProviderID, snapshot.ProviderID, s.config.MaxEntries,
		)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}
	return nil
}

// Recent implements quotawatch.HistoryStore
func (s *Store) Recent(ctx context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unlimited
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT captured_at, account_email, account_tier, quotas
			FROM snapshots WHERE provider_id = ?
			ORDER BY captured_at DESC, id DESC LIMIT ?`,
		providerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var out []*quotawatch.Snapshot
	for rows.Next() {
		var capturedAt int64
		var quotas string
		snap := &quotawatch.Snapshot{ProviderID: providerID}

		if err := rows.Scan(&capturedAt, &snap.AccountEmail, &snap.AccountTier, &quotas); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(quotas), &snap.Quotas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quotas: %w", err)
		}
		snap.CapturedAt = time.UnixMilli(capturedAt).UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

// Prune implements quotawatch.HistoryStore
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE captured_at < ?`, before.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
