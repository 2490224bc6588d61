package postgres

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// EventRepo implements ports.EventRepository on the ledger_events table.
type EventRepo struct {
	pool Pool
}

// NewEventRepo creates a new EventRepo.
func NewEventRepo(pool Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Append inserts the event inside tx and stores the assigned sequence number on e.
func (r *EventRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent) error {
	query := `INSERT INTO ledger_events (id, kind, account, counterparty, reference, amount, fee, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
		RETURNING seq`

	var counterparty *string
	if e.Counterparty != nil {
		c := domain.AddressKey(*e.Counterparty)
		counterparty = &c
	}

	err := tx.QueryRow(ctx, query,
		e.ID, string(e.Kind), domain.AddressKey(e.Account), counterparty, e.Reference,
		e.Amount.String(), e.Fee.String(), []byte(e.Details), e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert ledger event: %w", err)
	}
	return nil
}

// ListAfter returns up to limit committed events with seq > afterSeq, in seq order.
func (r *EventRepo) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error) {
	query := `SELECT seq, id, kind, account, counterparty, reference, amount::text, fee::text, details, created_at
		FROM ledger_events WHERE seq > $1
		ORDER BY seq ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var (
			e                          domain.LedgerEvent
			kind, account, amount, fee string
			counterparty               *string
			details                    []byte
		)
		if err := rows.Scan(
			&e.Seq, &e.ID, &kind, &account, &counterparty, &e.Reference,
			&amount, &fee, &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		if e.Account, err = addressColumn("account", account); err != nil {
			return nil, err
		}
		if counterparty != nil {
			c, err := addressColumn("counterparty", *counterparty)
			if err != nil {
				return nil, err
			}
			e.Counterparty = &c
		}
		if e.Amount, err = amountColumn("amount", amount); err != nil {
			return nil, err
		}
		if e.Fee, err = amountColumn("fee", fee); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			e.Details = details
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}
