package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChannelRepository defines persistence operations for payer channels.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
// Lookups return (nil, nil) when the row does not exist.
type ChannelRepository interface {
	Get(ctx context.Context, payer common.Address) (*domain.Channel, error)
	// GetForUpdate locks the payer's row until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, payer common.Address) (*domain.Channel, error)
	// CreateIfAbsent inserts ch and reports whether it was created; an existing row is left untouched.
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, ch *domain.Channel) (bool, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, payer common.Address, balance domain.Amount) error
}

// StreamRepository defines persistence operations for vesting streams.
type StreamRepository interface {
	Create(ctx context.Context, tx pgx.Tx, s *domain.Stream) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Stream, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Stream, error)
	// ListByAccount returns streams where account is sender or recipient, newest first.
	ListByAccount(ctx context.Context, account common.Address) ([]domain.Stream, error)
	Update(ctx context.Context, tx pgx.Tx, s *domain.Stream) error
}

// NonceRepository is the authoritative (signer, nonce) ledger.
type NonceRepository interface {
	IsConsumed(ctx context.Context, tx pgx.Tx, signer common.Address, nonce common.Hash) (bool, error)
	// Consume inserts the entry and reports false if it already existed.
	Consume(ctx context.Context, tx pgx.Tx, n *domain.ConsumedNonce) (bool, error)
}

// SettlementRepository stores applied receipts keyed by their EIP-712 digest.
type SettlementRepository interface {
	Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error
	GetByDigest(ctx context.Context, digest common.Hash) (*domain.Settlement, error)
}

// EventRepository is the append-only log of committed ledger mutations.
type EventRepository interface {
	Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent) error
	ListAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
