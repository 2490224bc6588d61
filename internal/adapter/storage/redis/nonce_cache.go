package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
)

// minNonceTTL keeps an entry around briefly even when its message has already expired.
const minNonceTTL = time.Second

// NonceCache implements ports.NonceCache on Redis. Entries live until the signed
// message expires plus grace, after which the expiry check alone rejects a replay.
type NonceCache struct {
	client goredis.UniversalClient
	prefix string
	grace  time.Duration
	now    func() time.Time
}

// NewNonceCache creates a Redis-backed nonce cache. grace absorbs clock skew
// between this process and Redis.
func NewNonceCache(client goredis.UniversalClient, grace time.Duration) *NonceCache {
	return &NonceCache{
		client: client,
		prefix: "nonce:",
		grace:  grace,
		now:    time.Now,
	}
}

// Seen reports whether the pair is cached.
func (c *NonceCache) Seen(ctx context.Context, signer common.Address, nonce common.Hash) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+domain.NonceCacheKey(signer, nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("redis nonce exists: %w", err)
	}
	return n > 0, nil
}

// Remember stores the pair with SET NX and reports whether it was new.
func (c *NonceCache) Remember(ctx context.Context, signer common.Address, nonce common.Hash, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(c.now()) + c.grace
	if ttl < minNonceTTL {
		ttl = minNonceTTL
	}
	result, err := c.client.SetArgs(ctx, c.prefix+domain.NonceCacheKey(signer, nonce), 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis nonce remember: %w", err)
	}
	return result == "OK", nil
}
