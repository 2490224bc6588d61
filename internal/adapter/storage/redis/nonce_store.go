package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NonceStore implements ports.NonceStore using Redis SET NX. It guards the
// operator API against replayed HMAC-signed requests. The stored value is the
// unix time the nonce was first seen.
type NonceStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewNonceStore creates a new Redis-backed request nonce store.
func NewNonceStore(client goredis.UniversalClient) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: "ocs:opnonce:",
	}
}

// CheckAndSet claims nonce under scope for ttl. It reports false when the nonce
// was already claimed.
func (s *NonceStore) CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error) {
	key := s.prefix + scope + ":" + nonce
	result, err := s.client.SetArgs(ctx, key, time.Now().Unix(), goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis request nonce check: %w", err)
	}
	return result == "OK", nil
}
