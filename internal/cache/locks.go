package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a key lock cannot be acquired in time.
var ErrLockTimeout = errors.New("cache: lock timeout")

type keyLock struct {
	ch   chan struct{}
	refs int
}

// KeyLocks provides per-key exclusive locks with bounded acquisition.
type KeyLocks[K comparable] struct {
	mu      sync.Mutex
	locks   map[K]*keyLock
	timeout time.Duration
}

// NewKeyLocks constructs a lock table. A zero timeout waits on the context only.
func NewKeyLocks[K comparable](timeout time.Duration) *KeyLocks[K] {
	return &KeyLocks[K]{locks: make(map[K]*keyLock), timeout: timeout}
}

// Lock acquires the lock for key.
func (l *KeyLocks[K]) Lock(ctx context.Context, key K) error {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case entry.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, entry)
		return errors.Join(ErrLockTimeout, ctx.Err())
	case <-timeout:
		l.release(key, entry)
		return ErrLockTimeout
	}
}

// Unlock releases the lock for key. Unlocking a key that is not locked is a no-op.
func (l *KeyLocks[K]) Unlock(key K) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-entry.ch:
	default:
		return
	}
	l.release(key, entry)
}

func (l *KeyLocks[K]) release(key K, entry *keyLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
