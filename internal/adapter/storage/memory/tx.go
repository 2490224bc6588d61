package memory

import (
	"context"
	"sync"

	"offchain-settlement/internal/core/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx buffers writes until Commit and holds its row locks until it ends.
// A Tx is used by one goroutine at a time, like a pgx.Tx.
type Tx struct {
	store  *Store
	mu     sync.Mutex
	closed bool

	held        map[string]struct{}
	channels    map[string]domain.Channel
	streams     map[uuid.UUID]domain.Stream
	nonces      map[string]domain.ConsumedNonce
	settlements map[common.Hash]domain.Settlement
	events      []*domain.LedgerEvent
}

var _ pgx.Tx = (*Tx)(nil)

func newTx(s *Store) *Tx {
	return &Tx{
		store:       s,
		held:        make(map[string]struct{}),
		channels:    make(map[string]domain.Channel),
		streams:     make(map[uuid.UUID]domain.Stream),
		nonces:      make(map[string]domain.ConsumedNonce),
		settlements: make(map[common.Hash]domain.Settlement),
	}
}

// lock takes the row lock for key unless this transaction already holds it.
func (t *Tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

// Commit publishes buffered writes and releases every lock.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	defer t.releaseAll()
	return t.store.commit(t)
}

// Rollback discards buffered writes. Rolling back a finished transaction
// returns pgx.ErrTxClosed, matching pgx.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.releaseAll()
	return nil
}

func (t *Tx) releaseAll() {
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
}

// Begin would start a savepoint; nested transactions are not supported.
func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, ErrUnsupported
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, ErrUnsupported
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return unsupportedBatch{}
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, ErrUnsupported
}

func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrUnsupported
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, ErrUnsupported
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return unsupportedRow{}
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

type unsupportedRow struct{}

func (unsupportedRow) Scan(dest ...any) error { return ErrUnsupported }

type unsupportedBatch struct{}

func (unsupportedBatch) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, ErrUnsupported }
func (unsupportedBatch) Query() (pgx.Rows, error)         { return nil, ErrUnsupported }
func (unsupportedBatch) QueryRow() pgx.Row                { return unsupportedRow{} }
func (unsupportedBatch) Close() error                     { return nil }
