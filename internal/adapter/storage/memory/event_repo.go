package memory

import (
	"context"
	"sort"

	"offchain-settlement/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// EventRepo implements ports.EventRepository on a Store. Sequence numbers are
// assigned at commit, so the committed log is gap-free and in commit order.
type EventRepo struct {
	store *Store
}

func NewEventRepo(store *Store) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) Append(ctx context.Context, tx pgx.Tx, e *domain.LedgerEvent) error {
	t, err := r.store.tx(tx)
	if err != nil {
		return err
	}
	t.events = append(t.events, e)
	return nil
}

func (r *EventRepo) ListAfter(ctx context.Context, afterSeq int64, limit int) ([]domain.LedgerEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events := r.store.events
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > afterSeq })
	end := len(events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]domain.LedgerEvent, end-start)
	copy(out, events[start:end])
	return out, nil
}
