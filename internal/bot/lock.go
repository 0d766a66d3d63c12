package bot

import (
	"context"
	"sync"
)

// Locker serializes message handling per identity. Unlock must be called
// exactly once.
type Locker interface {
	Lock(ctx context.Context, identity string) (unlock func(), err error)
}

// KeyedMutex is the in-process Locker. Distinct identities never contend.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, identity string) (func(), error) {
	l := k.acquireRef(identity)
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.releaseRef(identity, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.releaseRef(identity, l)
		})
	}, nil
}

func (k *KeyedMutex) acquireRef(identity string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[identity]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[identity] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) releaseRef(identity string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, identity)
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
