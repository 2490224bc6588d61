package memory

import (
	"context"
	"fmt"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
)

// ChannelRepo implements ports.ChannelRepository on a Store.
type ChannelRepo struct {
	store *Store
}

func NewChannelRepo(store *Store) *ChannelRepo {
	return &ChannelRepo{store: store}
}

func (r *ChannelRepo) Get(ctx context.Context, payer common.Address) (*domain.Channel, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ch, ok := r.store.channels[domain.AddressKey(payer)]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

// GetForUpdate locks the payer's channel until tx ends and returns its latest state.
func (r *ChannelRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, payer common.Address) (*domain.Channel, error) {
	t, err := r.store.tx(tx)
	if err != nil {
		return nil, err
	}
	if err := t.lock(ctx, channelLockKey(payer)); err != nil {
		return nil, fmt.Errorf("lock channel: %w", err)
	}
	ch, ok := r.current(t, domain.AddressKey(payer))
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (r *ChannelRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, ch *domain.Channel) (bool, error) {
	t, err := r.store.tx(tx)
	if err != nil {
		return false, err
	}
	if err := t.lock(ctx, channelLockKey(ch.Payer)); err != nil {
		return false, fmt.Errorf("lock channel: %w", err)
	}
	key := domain.AddressKey(ch.Payer)
	if _, ok := r.current(t, key); ok {
		return false, nil
	}
	t.channels[key] = *ch
	return true, nil
}

func (r *ChannelRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, payer common.Address, balance domain.Amount) error {
	t, err := r.store.tx(tx)
	if err != nil {
		return err
	}
	if err := t.lock(ctx, channelLockKey(payer)); err != nil {
		return fmt.Errorf("lock channel: %w", err)
	}
	key := domain.AddressKey(payer)
	ch, ok := r.current(t, key)
	if !ok {
		return fmt.Errorf("channel not found: %s", payer.Hex())
	}
	ch.Balance = balance
	ch.UpdatedAt = nowUTC()
	t.channels[key] = ch
	return nil
}

// current returns the transaction's own write if any, else the committed row.
func (r *ChannelRepo) current(t *Tx, key string) (domain.Channel, bool) {
	if ch, ok := t.channels[key]; ok {
		return ch, true
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ch, ok := r.store.channels[key]
	return ch, ok
}
