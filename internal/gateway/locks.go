package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehall/attic/internal/errors"
)

// lockTable hands out one mutex per key. Keys are never removed; the table
// grows with the number of distinct (domain, project, kind) triples touched,
// which is small and bounded by the vault.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (t *lockTable) get(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[key] = ch
	}
	return ch
}

// acquire takes the lock for key, waiting at most timeout. It returns a
// release func on success and a CONFLICT error when the wait times out, so
// a stuck writer surfaces as a retryable condition instead of a deadlock.
func (t *lockTable) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	ch := t.get(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, errors.NewConflict(fmt.Sprintf("timed out waiting for write lock on '%s'", key))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
