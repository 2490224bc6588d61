package service

import (
	"context"
	"fmt"
	"time"

	"offchain-settlement/internal/core/domain"
	"offchain-settlement/internal/core/ports"
	"offchain-settlement/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// NonceLedger guards the (signer, nonce) space. The repository is authoritative;
// the cache only short-circuits obvious replays and is written after commit.
type NonceLedger struct {
	repo    ports.NonceRepository
	cache   ports.NonceCache
	metrics ports.Metrics
	log     zerolog.Logger
}

// NewNonceLedger creates a NonceLedger. cache may be nil.
func NewNonceLedger(repo ports.NonceRepository, cache ports.NonceCache, metrics ports.Metrics, log zerolog.Logger) *NonceLedger {
	return &NonceLedger{
		repo:    repo,
		cache:   cache,
		metrics: metricsOrNoop(metrics),
		log:     log,
	}
}

// Check returns RPL_001 if the nonce is known to be consumed.
func (l *NonceLedger) Check(ctx context.Context, tx pgx.Tx, signer common.Address, nonce common.Hash) error {
	if l.cache != nil {
		seen, err := l.cache.Seen(ctx, signer, nonce)
		switch {
		case err != nil:
			l.metrics.ObserveNonceCache(cacheError)
			l.log.Warn().Err(err).Str("signer", signer.Hex()).Msg("nonce cache lookup failed, falling through to DB")
		case seen:
			l.metrics.ObserveNonceCache(cacheHit)
			return apperror.ErrReplay()
		default:
			l.metrics.ObserveNonceCache(cacheMiss)
		}
	}

	consumed, err := l.repo.IsConsumed(ctx, tx, signer, nonce)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("check nonce: %w", err))
	}
	if consumed {
		return apperror.ErrReplay()
	}
	return nil
}

// TryConsume durably records the nonce inside tx. Losing the insert race is a replay.
func (l *NonceLedger) TryConsume(ctx context.Context, tx pgx.Tx, n *domain.ConsumedNonce) error {
	inserted, err := l.repo.Consume(ctx, tx, n)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("consume nonce: %w", err))
	}
	if !inserted {
		return apperror.ErrReplay()
	}
	return nil
}

// Remember caches a committed nonce until the message it belonged to expires.
// Must only be called after the consuming transaction committed.
func (l *NonceLedger) Remember(ctx context.Context, n *domain.ConsumedNonce) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.Remember(ctx, n.Signer, n.Nonce, time.Unix(n.ExpiresAt, 0)); err != nil {
		l.log.Warn().Err(err).Str("signer", n.Signer.Hex()).Msg("failed to cache consumed nonce")
	}
}
