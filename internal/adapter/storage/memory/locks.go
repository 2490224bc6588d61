package memory

import (
	"context"
	"sync"
)

// lockTable hands out exclusive per-key locks, the in-process stand-in for
// SELECT ... FOR UPDATE. Acquisition honours context cancellation.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*rowLock)}
}

func (t *lockTable) acquire(ctx context.Context, key string) error {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &rowLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		t.unref(key, l)
		t.mu.Unlock()
		return ctx.Err()
	}
}

func (t *lockTable) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		return
	}
	<-l.sem
	t.unref(key, l)
}

// unref must be called with t.mu held.
func (t *lockTable) unref(key string, l *rowLock) {
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// size reports how many keys are locked or waited on.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
