package postgres

import (
	"context"
	"errors"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const streamColumns = `id, sender, recipient, deposit::text, withdrawn::text,
	start_time, cliff_time, end_time, cancelable, active, created_at, updated_at`

// StreamRepo implements ports.StreamRepository.
type StreamRepo struct {
	pool Pool
}

// NewStreamRepo creates a new StreamRepo.
func NewStreamRepo(pool Pool) *StreamRepo {
	return &StreamRepo{pool: pool}
}

// Create inserts a new stream.
func (r *StreamRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Stream) error {
	query := `INSERT INTO streams (id, sender, recipient, deposit, withdrawn,
		start_time, cliff_time, end_time, cancelable, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		s.ID, domain.AddressKey(s.Sender), domain.AddressKey(s.Recipient),
		s.Deposit.String(), s.Withdrawn.String(),
		s.StartTime, s.CliffTime, s.EndTime, s.Cancelable, s.Active,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

// GetByID fetches a stream without locking.
func (r *StreamRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	s, err := scanStream(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream by id: %w", err)
	}
	return s, nil
}

// GetByIDForUpdate fetches a stream with pessimistic locking.
// This MUST be called within a transaction.
func (r *StreamRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1 FOR UPDATE`

	s, err := scanStream(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream for update: %w", err)
	}
	return s, nil
}

// ListByAccount returns every stream the account sends or receives, newest first.
func (r *StreamRepo) ListByAccount(ctx context.Context, account common.Address) ([]domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams
		WHERE sender = $1 OR recipient = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, domain.AddressKey(account))
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []domain.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream row: %w", err)
		}
		streams = append(streams, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream rows: %w", err)
	}
	return streams, nil
}

// Update writes the mutable stream state. The caller must hold the row lock.
func (r *StreamRepo) Update(ctx context.Context, tx pgx.Tx, s *domain.Stream) error {
	query := `UPDATE streams SET withdrawn = $1::numeric, active = $2, updated_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, s.Withdrawn.String(), s.Active, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream not found: %s", s.ID)
	}
	return nil
}

func scanStream(row pgx.Row) (*domain.Stream, error) {
	var sender, recipient, deposit, withdrawn string
	s := &domain.Stream{}
	err := row.Scan(
		&s.ID, &sender, &recipient, &deposit, &withdrawn,
		&s.StartTime, &s.CliffTime, &s.EndTime, &s.Cancelable, &s.Active,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Sender, err = addressColumn("sender", sender); err != nil {
		return nil, err
	}
	if s.Recipient, err = addressColumn("recipient", recipient); err != nil {
		return nil, err
	}
	if s.Deposit, err = amountColumn("deposit", deposit); err != nil {
		return nil, err
	}
	if s.Withdrawn, err = amountColumn("withdrawn", withdrawn); err != nil {
		return nil, err
	}
	return s, nil
}
