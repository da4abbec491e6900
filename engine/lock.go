package engine

import (
	"context"
	"sync"
)

// KeyedMutex is the single-process Locker. Entries are reference counted and
// removed when the last holder or waiter leaves.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	select {
	case ent.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, ent)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-ent.ch
			k.release(key, ent)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, ent *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ent.refs--
	if ent.refs == 0 {
		delete(k.locks, key)
	}
}
