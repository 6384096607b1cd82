// Package redis provides a Redis implementation of the entitlement.Ledger
// interface. Claims are single SET NX commands, so concurrent deliveries of
// the same event race on one key and exactly one wins.
//
// Project rows are not stored here; pair this ledger with a ProjectStore
// such as storage/postgres.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// Storage implements entitlement.Ledger using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	now    func() time.Time
}

// Config holds Redis ledger configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "payrecon:webhook:")
	KeyPrefix string

	// ClaimTTL bounds how long a processed event id is remembered
	// (0 = no expiration). It must exceed the processor's retry horizon.
	ClaimTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "payrecon:webhook:",
		ClaimTTL:  30 * 24 * time.Hour,
	}
}

// New creates a new Redis ledger
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultConfig().KeyPrefix
	}

	return &Storage{
		client: client,
		config: config,
		now:    time.Now,
	}, nil
}

type claimRecord struct {
	EventType string    `json:"event_type"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Claim implements entitlement.Ledger
func (s *Storage) Claim(ctx context.Context, claim entitlement.Claim) (bool, error) {
	if claim.Key == "" {
		return false, entitlement.ErrInvalidClaim
	}

	data, err := json.Marshal(claimRecord{EventType: claim.EventType, ClaimedAt: s.now().UTC()})
	if err != nil {
		return false, fmt.Errorf("failed to marshal claim: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(claim.Key), data, s.config.ClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	return ok, nil
}

// Claimed implements entitlement.ClaimChecker
func (s *Storage) Claimed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up webhook event: %w", err)
	}
	return n > 0, nil
}

// Release implements entitlement.Ledger
func (s *Storage) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) key(eventKey string) string {
	return s.config.KeyPrefix + eventKey
}
