package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
)

// SettlementCache implements ports.SettlementCache using Redis, keyed by receipt digest.
type SettlementCache struct {
	client goredis.UniversalClient
	prefix string
}

// NewSettlementCache creates a new Redis-backed settlement cache.
func NewSettlementCache(client goredis.UniversalClient) *SettlementCache {
	return &SettlementCache{
		client: client,
		prefix: "settlement:",
	}
}

// Get returns nil, nil if the digest is not cached.
func (c *SettlementCache) Get(ctx context.Context, digest common.Hash) (*domain.Settlement, error) {
	val, err := c.client.Get(ctx, c.prefix+digest.Hex()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis settlement get: %w", err)
	}

	var s domain.Settlement
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("decode cached settlement: %w", err)
	}
	return &s, nil
}

// Set stores a settlement with TTL.
func (c *SettlementCache) Set(ctx context.Context, s *domain.Settlement, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+s.Digest.Hex(), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis settlement set: %w", err)
	}
	return nil
}
