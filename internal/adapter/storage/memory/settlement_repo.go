package memory

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// SettlementRepo implements ports.SettlementRepository on a Store.
type SettlementRepo struct {
	store *Store
}

func NewSettlementRepo(store *Store) *SettlementRepo {
	return &SettlementRepo{store: store}
}

func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Settlement) error {
	t, err := r.store.tx(tx)
	if err != nil {
		return err
	}
	if _, ok := t.settlements[s.Digest]; ok {
		return fmt.Errorf("insert settlement: duplicate digest %s", s.Digest.Hex())
	}
	t.settlements[s.Digest] = *s
	return nil
}

func (r *SettlementRepo) GetByDigest(ctx context.Context, digest common.Hash) (*domain.Settlement, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.settlements[digest]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
