package memory

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// NonceRepo implements ports.NonceRepository on a Store. Consume takes the
// pair's lock, so a second transaction inserting the same pair waits for the
// first to end and then finds the pair taken, as with a primary key in PostgreSQL.
type NonceRepo struct {
	store *Store
}

func NewNonceRepo(store *Store) *NonceRepo {
	return &NonceRepo{store: store}
}

func (r *NonceRepo) IsConsumed(ctx context.Context, tx pgx.Tx, signer common.Address, nonce common.Hash) (bool, error) {
	t, err := r.store.tx(tx)
	if err != nil {
		return false, err
	}
	key := domain.NonceCacheKey(signer, nonce)
	if _, ok := t.nonces[key]; ok {
		return true, nil
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	_, ok := r.store.nonces[key]
	return ok, nil
}

func (r *NonceRepo) Consume(ctx context.Context, tx pgx.Tx, n *domain.ConsumedNonce) (bool, error) {
	t, err := r.store.tx(tx)
	if err != nil {
		return false, err
	}
	key := domain.NonceCacheKey(n.Signer, n.Nonce)
	if err := t.lock(ctx, nonceLockKey(key)); err != nil {
		return false, fmt.Errorf("lock nonce: %w", err)
	}
	if _, ok := t.nonces[key]; ok {
		return false, nil
	}
	r.store.mu.RLock()
	_, committed := r.store.nonces[key]
	r.store.mu.RUnlock()
	if committed {
		return false, nil
	}
	t.nonces[key] = *n
	return true, nil
}
