package postgres

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// NonceRepo implements ports.NonceRepository on the consumed_nonces table.
// The (signer, nonce) primary key makes Consume linearizable per key: of two
// transactions inserting the same pair, the second blocks until the first ends
// and then inserts nothing.
type NonceRepo struct {
	pool Pool
}

// NewNonceRepo creates a new NonceRepo.
func NewNonceRepo(pool Pool) *NonceRepo {
	return &NonceRepo{pool: pool}
}

// IsConsumed reports whether the pair has been committed or is pending in tx.
func (r *NonceRepo) IsConsumed(ctx context.Context, tx pgx.Tx, signer common.Address, nonce common.Hash) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM consumed_nonces WHERE signer = $1 AND nonce = $2)`

	var exists bool
	if err := tx.QueryRow(ctx, query, domain.AddressKey(signer), nonce.Hex()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check consumed nonce: %w", err)
	}
	return exists, nil
}

// Consume inserts the pair and reports false if it was already there.
func (r *NonceRepo) Consume(ctx context.Context, tx pgx.Tx, n *domain.ConsumedNonce) (bool, error) {
	query := `INSERT INTO consumed_nonces (signer, nonce, kind, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signer, nonce) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		domain.AddressKey(n.Signer), n.Nonce.Hex(), string(n.Kind), n.ExpiresAt, n.ConsumedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert consumed nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
