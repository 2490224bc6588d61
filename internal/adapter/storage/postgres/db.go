package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"offchain-settlement/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const applicationName = "settlementd"

// NewPool opens the ledger database pool. Every session carries the configured
// statement and lock timeouts, so a transaction queued behind a locked channel
// row fails with an error rather than waiting indefinitely.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	for k, v := range runtimeParams(cfg) {
		poolCfg.ConnConfig.RuntimeParams[k] = v
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("dbname", cfg.DBName).
		Int32("max_conns", cfg.MaxConns).
		Dur("statement_timeout", cfg.StatementTimeout).
		Dur("lock_timeout", cfg.LockTimeout).
		Msg("ledger database pool established")

	return pool, nil
}

// runtimeParams are the session settings sent on connect. Zero timeouts are left
// to the server default.
func runtimeParams(cfg config.DatabaseConfig) map[string]string {
	params := map[string]string{"application_name": applicationName}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = millis(cfg.StatementTimeout)
	}
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = millis(cfg.LockTimeout)
	}
	return params
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}
