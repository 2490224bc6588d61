package postgres

import (
	"context"
	"errors"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// ChannelRepo implements ports.ChannelRepository.
type ChannelRepo struct {
	pool Pool
}

// NewChannelRepo creates a new ChannelRepo.
func NewChannelRepo(pool Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

// Get fetches a channel without locking.
func (r *ChannelRepo) Get(ctx context.Context, payer common.Address) (*domain.Channel, error) {
	query := `SELECT payer, balance::text, created_at, updated_at
		FROM channels WHERE payer = $1`

	ch, err := scanChannel(r.pool.QueryRow(ctx, query, domain.AddressKey(payer)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

// GetForUpdate fetches a channel with pessimistic locking.
// This MUST be called within a transaction.
func (r *ChannelRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, payer common.Address) (*domain.Channel, error) {
	query := `SELECT payer, balance::text, created_at, updated_at
		FROM channels WHERE payer = $1 FOR UPDATE`

	ch, err := scanChannel(tx.QueryRow(ctx, query, domain.AddressKey(payer)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel for update: %w", err)
	}
	return ch, nil
}

// CreateIfAbsent inserts a channel row unless one already exists for the payer.
func (r *ChannelRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, ch *domain.Channel) (bool, error) {
	query := `INSERT INTO channels (payer, balance, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4)
		ON CONFLICT (payer) DO NOTHING`

	tag, err := tx.Exec(ctx, query,
		domain.AddressKey(ch.Payer), ch.Balance.String(), ch.CreatedAt, ch.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert channel: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateBalance writes a new balance. The caller must hold the row lock.
func (r *ChannelRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, payer common.Address, balance domain.Amount) error {
	query := `UPDATE channels SET balance = $1::numeric, updated_at = NOW() WHERE payer = $2`

	tag, err := tx.Exec(ctx, query, balance.String(), domain.AddressKey(payer))
	if err != nil {
		return fmt.Errorf("update channel balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("channel not found: %s", payer.Hex())
	}
	return nil
}

func scanChannel(row pgx.Row) (*domain.Channel, error) {
	var payer, balance string
	ch := &domain.Channel{}
	if err := row.Scan(&payer, &balance, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if ch.Payer, err = addressColumn("payer", payer); err != nil {
		return nil, err
	}
	if ch.Balance, err = amountColumn("balance", balance); err != nil {
		return nil, err
	}
	return ch, nil
}
