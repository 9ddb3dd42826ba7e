// Package postgres provides a PostgreSQL implementation of the
// quotawatch.HistoryStore interface using a pgx connection pool. It suits
// deployments where several monitors share one durable history, and can
// expire old snapshots with a background cleanup worker.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id BIGSERIAL PRIMARY KEY,
	provider_id TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	account_email TEXT NOT NULL DEFAULT '',
	account_tier TEXT NOT NULL DEFAULT '',
	quotas JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_provider_time
	ON snapshots (provider_id, captured_at DESC);
`

// Store implements quotawatch.HistoryStore using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	Retention       time.Duration // How long snapshots are kept
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		Retention:       7 * 24 * time.Hour, // 7 days default
	}
}

// New creates a new PostgreSQL history store, creating the schema on first use
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Create context for background cleanup worker
	cleanupCtx, cancel := context.WithCancel(context.Background())

	s := &Store{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	// Start cleanup goroutine if enabled
	if config.CleanupEnabled && config.Retention > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (provider_id, captured_at, account_email, account_tier, quotas)
			VALUES ($1, $2, $3, $4, $5)`,
		snapshot.ProviderID,
		snapshot.CapturedAt.UTC(),
		snapshot.AccountEmail,
		snapshot.AccountTier,
		quotas,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Recent implements quotawatch.HistoryStore
func (s *Store) Recent(ctx context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	query := `SELECT captured_at, account_email, account_tier, quotas
		FROM snapshots WHERE provider_id = $1
		ORDER BY captured_at DESC, id DESC`
	args := []any{providerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var out []*quotawatch.Snapshot
	for rows.Next() {
		var quotas []byte
		snap := &quotawatch.Snapshot{ProviderID: providerID}

		if err := rows.Scan(&snap.CapturedAt, &snap.AccountEmail, &snap.AccountTier, &quotas); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal(quotas, &snap.Quotas); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quotas: %w", err)
		}
		snap.CapturedAt = snap.CapturedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

// Prune implements quotawatch.HistoryStore
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE captured_at < $1`, before.UTC())
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Store) Close() error {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// startCleanup periodically removes snapshots older than the retention window
func (s *Store) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.config.Retention)
			// Cleanup failures are retried on the next tick.
			_ = s.Prune(context.Background(), cutoff)
		}
	}
}
