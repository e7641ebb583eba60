package claim

import (
	"context"
	"sync"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// lockTable serializes claims per identity. Entries are created on first use
// and removed once no goroutine holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*lockEntry)}
}

// lock blocks until key is free or ctx is done. The returned func releases it.
func (t *lockTable) lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			t.release(key, e)
		})
	}, nil
}

func (t *lockTable) release(key string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.locks, key)
	}
}
