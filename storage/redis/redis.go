// Package redis provides a Redis implementation of the
// quotawatch.HistoryStore interface. Snapshots live in one sorted set per
// provider, scored by capture time, so recency queries and pruning map to
// plain ZSET operations.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// Store implements quotawatch.HistoryStore using Redis
type Store struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "quotawatch:")
	KeyPrefix string

	// MaxEntries caps the snapshots kept per provider (default: 500)
	MaxEntries int

	// TTL is the expiration applied to history keys on every append
	// (0 = no expiration)
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "quotawatch:",
		MaxEntries: 500,
	}
}

// New creates a new Redis history store
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "quotawatch:"
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 500
	}

	return &Store{client: client, config: config}, nil
}

// Append implements quotawatch.HistoryStore
func (s *Store) Append(ctx context.Context, snapshot *quotawatch.Snapshot) error {
	if snapshot == nil || snapshot.ProviderID == "" {
		return fmt.Errorf("snapshot with provider id is required")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := s.historyKey(snapshot.ProviderID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(snapshot.CapturedAt.UnixMilli()),
		Member: string(data),
	})
	pipe.SAdd(ctx, s.providersKey(), snapshot.ProviderID)
	// Keep only the newest MaxEntries members.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(s.config.MaxEntries + 1)))
	if s.config.TTL > 0 {
		pipe.Expire(ctx, key, s.config.TTL)
		pipe.Expire(ctx, s.providersKey(), s.config.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// Recent implements quotawatch.HistoryStore
func (s *Store) Recent(ctx context.Context, providerID string, limit int) ([]*quotawatch.Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := s.client.ZRevRange(ctx, s.historyKey(providerID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	out := make([]*quotawatch.Snapshot, 0, len(members))
	for _, member := range members {
		var snap quotawatch.Snapshot
		if err := json.Unmarshal([]byte(member), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		out = append(out, &snap)
	}
	return out, nil
}

// Prune implements quotawatch.HistoryStore
func (s *Store) Prune(ctx context.Context, before time.Time) error {
	providers, err := s.client.SMembers(ctx, s.providersKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}

	cutoff := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for _, id := range providers {
		key := s.historyKey(id)
		if err := s.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
			return fmt.Errorf("failed to prune %s: %w", id, err)
		}

		count, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", id, err)
		}
		if count == 0 {
			if err := s.client.SRem(ctx, s.providersKey(), id).Err(); err != nil {
				return fmt.Errorf("failed to deregister %s: %w", id, err)
			}
		}
	}
	return nil
}

// Close closes the Redis client connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// historyKey generates the Redis key for a provider's snapshot history
func (s *Store) historyKey(providerID string) string {
	return fmt.Sprintf("%shistory:%s", s.config.KeyPrefix, providerID)
}

// providersKey generates the Redis key for the set of known provider IDs
func (s *Store) providersKey() string {
	return s.config.KeyPrefix + "providers"
}
