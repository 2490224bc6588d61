package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const healthKey = "settlementd:health"

// HealthCheck implements ports.HealthChecker for Redis. It probes with a short-lived
// write, since every cache the engine keeps here is written on the hot path and a
// read-only replica would answer PING but reject SET.
type HealthCheck struct {
	client goredis.UniversalClient
}

func NewHealthCheck(client goredis.UniversalClient) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if err := h.client.Set(ctx, healthKey, time.Now().Unix(), 5*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write probe: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "redis"
}
