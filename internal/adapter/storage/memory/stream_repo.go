package memory

import (
	"context"
	"fmt"
	"slices"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StreamRepo implements ports.StreamRepository on a Store.
type StreamRepo struct {
	store *Store
}

func NewStreamRepo(store *Store) *StreamRepo {
	return &StreamRepo{store: store}
}

func (r *StreamRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Stream) error {
	t, err := r.store.tx(tx)
	if err != nil {
		return err
	}
	if err := t.lock(ctx, streamLockKey(s.ID)); err != nil {
		return fmt.Errorf("lock stream: %w", err)
	}
	if _, ok := r.current(t, s.ID); ok {
		return fmt.Errorf("insert stream: duplicate id %s", s.ID)
	}
	t.streams[s.ID] = *s
	return nil
}

func (r *StreamRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Stream, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.streams[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *StreamRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Stream, error) {
	t, err := r.store.tx(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, streamLockKey(id)); err != nil {
		return nil, fmt.Errorf("lock stream: %w", err)
	}
	s, ok := r.current(t, id)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// ListByAccount returns streams the account sends or receives, newest first.
func (r *StreamRepo) ListByAccount(ctx context.Context, account common.Address) ([]domain.Stream, error) {
	r.store.mu.RLock()
	var out []domain.Stream
	for _, s := range r.store.streams {
		if s.Sender == account || s.Recipient == account {
			out = append(out, s)
		}
	}
	r.store.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Stream) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (r *StreamRepo) Update(ctx context.Context, tx pgx.Tx, s *domain.Stream) error {
	t, err := r.store.tx(tx)
	if err != nil {
		return err
	}
	if err := t.lock(ctx, streamLockKey(s.ID)); err != nil {
		return fmt.Errorf("lock stream: %w", err)
	}
	if _, ok := r.current(t, s.ID); !ok {
		return fmt.Errorf("stream not found: %s", s.ID)
	}
	t.streams[s.ID] = *s
	return nil
}

func (r *StreamRepo) current(t *Tx, id uuid.UUID) (domain.Stream, bool) {
	if s, ok := t.streams[id]; ok {
		return s, true
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.streams[id]
	return s, ok
}
