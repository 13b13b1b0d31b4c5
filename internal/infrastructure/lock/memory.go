// Package lock provides shared.KeyLocker implementations: an in-process
// refcounted lock table for single-instance deployments and a redis-backed
// locker for deployments that run several engine instances.
package lock

import (
	"context"
	"sync"

	"github.com/ledgersync/backend/internal/domain/shared"
)

// keyLock is one slot of the lock table; refs counts holders plus waiters
type keyLock struct {
	sem  chan struct{}
	refs int
}

// MemoryKeyLocker implements shared.KeyLocker with an in-memory lock table.
// Entries are dropped as soon as nobody holds or waits on the key.
type MemoryKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewMemoryKeyLocker creates an empty in-process locker
func NewMemoryKeyLocker() *MemoryKeyLocker {
	return &MemoryKeyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done
func (l *MemoryKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited
func (l *MemoryKeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *MemoryKeyLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Ensure MemoryKeyLocker implements shared.KeyLocker
var _ shared.KeyLocker = (*MemoryKeyLocker)(nil)
