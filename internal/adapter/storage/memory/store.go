package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrForeignTx is returned when a repository receives a transaction it did not create.
	ErrForeignTx = errors.New("transaction does not belong to the memory store")
	// ErrUnsupported is returned by the SQL surface of Tx.
	ErrUnsupported = errors.New("memory store does not execute SQL")
)

// Store is an in-process ledger with the same transactional guarantees the
// repositories rely on from PostgreSQL: row locks held until commit or rollback,
// a (signer, nonce) key that admits one insert, and writes that become visible
// only on commit. Nothing survives a restart.
type Store struct {
	mu          sync.RWMutex
	channels    map[string]domain.Channel
	streams     map[uuid.UUID]domain.Stream
	nonces      map[string]domain.ConsumedNonce
	settlements map[common.Hash]domain.Settlement
	events      []domain.LedgerEvent
	seq         int64

	locks *lockTable
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		channels:    make(map[string]domain.Channel),
		streams:     make(map[uuid.UUID]domain.Stream),
		nonces:      make(map[string]domain.ConsumedNonce),
		settlements: make(map[common.Hash]domain.Settlement),
		locks:       newLockTable(),
	}
}

// Begin starts a transaction. Store implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newTx(s), nil
}

// tx unwraps a pgx.Tx handed back to a repository.
func (s *Store) tx(t pgx.Tx) (*Tx, error) {
	mt, ok := t.(*Tx)
	if !ok || mt.store != s {
		return nil, ErrForeignTx
	}
	if mt.closed {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

func channelLockKey(payer common.Address) string { return "channel:" + domain.AddressKey(payer) }
func streamLockKey(id uuid.UUID) string          { return "stream:" + id.String() }
func nonceLockKey(key string) string             { return "nonce:" + key }

// commit publishes the writes of t atomically.
func (s *Store) commit(t *Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for digest := range t.settlements {
		if _, exists := s.settlements[digest]; exists {
			return fmt.Errorf("duplicate settlement digest %s", digest.Hex())
		}
	}

	for k, ch := range t.channels {
		s.channels[k] = ch
	}
	for id, st := range t.streams {
		s.streams[id] = st
	}
	for k, n := range t.nonces {
		s.nonces[k] = n
	}
	for digest, st := range t.settlements {
		s.settlements[digest] = st
	}
	for _, e := range t.events {
		s.seq++
		e.Seq = s.seq
		s.events = append(s.events, *e)
	}
	return nil
}
