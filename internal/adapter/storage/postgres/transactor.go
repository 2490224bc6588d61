package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ledgerTxOptions pins ledger transactions to READ COMMITTED read-write.
// Serialization per channel and stream comes from SELECT ... FOR UPDATE, and
// replay safety from the consumed_nonces primary key.
var ledgerTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.ReadCommitted,
	AccessMode: pgx.ReadWrite,
}

// Transactor implements ports.DBTransactor. Every ledger mutation runs in one of
// its transactions so row locks and the nonce insert commit together.
type Transactor struct {
	pool Pool
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin starts a ledger transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.BeginTx(ctx, ledgerTxOptions)
	if err != nil {
		return nil, fmt.Errorf("begin ledger transaction: %w", err)
	}
	return tx, nil
}
