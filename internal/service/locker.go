package service

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
)

// Locker serialises work on a key. Acquire blocks until the lock is held or
// ctx is done; the returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker used when Redis is not configured.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Acquire implements Locker. ttl is ignored because the lock cannot outlive
// the process.
func (m *KeyedMutex) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lock.ch
				m.drop(key, lock)
			})
		}, nil
	case <-ctx.Done():
		m.drop(key, lock)
		return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrLocked.Code, appErrors.ErrLocked.Status, "lock "+key+" is held by another request")
	}
}

func (m *KeyedMutex) drop(key string, lock *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, key)
	}
}
