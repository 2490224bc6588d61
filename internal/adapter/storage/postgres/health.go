package postgres

import (
	"context"
	"errors"
	"fmt"
)

var errSchemaMissing = errors.New("ledger schema not migrated")

// HealthCheck implements ports.HealthChecker for the ledger database. A reachable
// server without the consumed_nonces table is reported unhealthy.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var migrated bool
	err := h.pool.QueryRow(ctx, `SELECT to_regclass('consumed_nonces') IS NOT NULL`).Scan(&migrated)
	if err != nil {
		return fmt.Errorf("ledger database: %w", err)
	}
	if !migrated {
		return errSchemaMissing
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
