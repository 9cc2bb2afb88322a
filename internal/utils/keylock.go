package utils

import (
	"context"
	"sync"
)

// KeyedLock is a set of mutexes addressed by string key. Holders of different
// keys never block each other. Lock waits honour context cancellation, which a
// plain sync.Mutex cannot do.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{} // buffered(1); a token in the channel means "held"
	refs int
}

// NewKeyedLock creates an empty lock set.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyEntry)}
}

// Lock blocks until key is held or ctx is done. On success it returns the
// function that releases the key; calling it more than once is a no-op.
func (k *KeyedLock) Lock(ctx context.Context, key string) (func(), error) {
	entry := k.acquireEntry(key)

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.releaseEntry(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.releaseEntry(key, entry)
		})
	}, nil
}

// Held reports the number of keys currently locked or waited on.
func (k *KeyedLock) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyedLock) acquireEntry(key string) *keyEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.locks[key]
	if !ok {
		entry = &keyEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (k *KeyedLock) releaseEntry(key string, entry *keyEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}
