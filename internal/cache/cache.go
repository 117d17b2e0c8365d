// Package cache is the in-process key/value store the engine treats as its single source of truth.
//
// Values are stored by value. Callers must treat maps and slices reachable from a
// stored value as immutable and build modified copies before writing them back.
package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound indicates a missing key.
var ErrNotFound = errors.New("cache: not found")

// DefaultLockTimeout bounds key lock acquisition when no option overrides it.
const DefaultLockTimeout = 5 * time.Second

// Cache stores values by key with per-key write locks and synchronous listeners.
type Cache[K cmp.Ordered, V any] struct {
	name     string
	mu       sync.RWMutex
	items    map[K]V
	locks    *KeyLocks[K]
	flow     Flow[V]
	validate func(V) error
	logger   *zap.Logger

	listenersMu sync.RWMutex
	listeners   map[EventKind][]Listener[K, V]
}

// Option customizes a cache.
type Option[K cmp.Ordered, V any] func(*Cache[K, V])

// WithFlow overrides the event flow.
func WithFlow[K cmp.Ordered, V any](flow Flow[V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		if flow != nil {
			c.flow = flow
		}
	}
}

// WithLockTimeout overrides the key lock timeout.
func WithLockTimeout[K cmp.Ordered, V any](timeout time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.locks = NewKeyLocks[K](timeout)
	}
}

// WithValidator rejects values before they are committed.
func WithValidator[K cmp.Ordered, V any](validate func(V) error) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.validate = validate
	}
}

// WithLogger assigns a logger.
func WithLogger[K cmp.Ordered, V any](logger *zap.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a named cache.
func New[K cmp.Ordered, V any](name string, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:      name,
		items:     make(map[K]V),
		locks:     NewKeyLocks[K](DefaultLockTimeout),
		flow:      DefaultFlow[V],
		logger:    zap.NewNop(),
		listeners: make(map[EventKind][]Listener[K, V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("cache", name))
	return c
}

// Name returns the cache name.
func (c *Cache[K, V]) Name() string {
	return c.name
}

// Get returns a snapshot of the value stored under key.
func (c *Cache[K, V]) Get(key K) (V, error) {
	c.mu.RLock()
	value, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %v: %w", c.name, key, ErrNotFound)
	}
	return value, nil
}

// Has reports whether key is present.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.RLock()
	_, ok := c.items[key]
	c.mu.RUnlock()
	return ok
}

// Keys returns all keys in ascending order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	keys := make([]K, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Lock acquires the write lock of key.
func (c *Cache[K, V]) Lock(ctx context.Context, key K) error {
	if err := c.locks.Lock(ctx, key); err != nil {
		return fmt.Errorf("%s %v: %w", c.name, key, err)
	}
	return nil
}

// Unlock releases the write lock of key.
func (c *Cache[K, V]) Unlock(key K) {
	c.locks.Unlock(key)
}

// Put stores value under key and publishes the resulting events.
func (c *Cache[K, V]) Put(ctx context.Context, key K, value V) error {
	if err := c.Lock(ctx, key); err != nil {
		return err
	}
	defer c.Unlock(key)
	return c.PutLocked(ctx, key, value)
}

// PutLocked stores value while the caller holds the key lock.
func (c *Cache[K, V]) PutLocked(ctx context.Context, key K, value V) error {
	if c.validate != nil {
		if err := c.validate(value); err != nil {
			return fmt.Errorf("%s %v: %w", c.name, key, err)
		}
	}
	c.mu.Lock()
	old, existed := c.items[key]
	c.items[key] = value
	c.mu.Unlock()

	var oldPtr *V
	if existed {
		oldPtr = &old
	}
	c.publish(ctx, key, oldPtr, value, c.flow(oldPtr, value))
	return nil
}

// Compute runs fn on the current value under the key lock. fn returns the new value and
// whether it must be written; the returned value is the stored one after the call.
func (c *Cache[K, V]) Compute(ctx context.Context, key K, fn func(current V, found bool) (V, bool, error)) (V, error) {
	var zero V
	if err := c.Lock(ctx, key); err != nil {
		return zero, err
	}
	defer c.Unlock(key)

	c.mu.RLock()
	current, found := c.items[key]
	c.mu.RUnlock()

	next, write, err := fn(current, found)
	if err != nil {
		return zero, err
	}
	if !write {
		return current, nil
	}
	if err := c.PutLocked(ctx, key, next); err != nil {
		return zero, err
	}
	return next, nil
}

// Remove deletes key. Removal does not publish events.
func (c *Cache[K, V]) Remove(ctx context.Context, key K) error {
	if err := c.Lock(ctx, key); err != nil {
		return err
	}
	defer c.Unlock(key)
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Tx stages writes of a transaction.
type Tx[K cmp.Ordered, V any] struct {
	cache  *Cache[K, V]
	locked map[K]struct{}
	staged map[K]V
	order  []K
}

// Get reads a locked key, observing writes staged earlier in the transaction.
func (tx *Tx[K, V]) Get(key K) (V, error) {
	if value, ok := tx.staged[key]; ok {
		return value, nil
	}
	return tx.cache.Get(key)
}

// Put stages a write of a key locked by the transaction.
func (tx *Tx[K, V]) Put(key K, value V) error {
	if _, ok := tx.locked[key]; !ok {
		return fmt.Errorf("%s %v: key not locked by transaction", tx.cache.name, key)
	}
	if _, ok := tx.staged[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.staged[key] = value
	return nil
}

// Transaction locks keys in ascending order, runs fn, and commits staged writes when fn succeeds.
// Events are published after every staged value has been validated, in staging order.
func (c *Cache[K, V]) Transaction(ctx context.Context, keys []K, fn func(tx *Tx[K, V]) error) error {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make([]K, 0, len(sorted))
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			c.Unlock(locked[i])
		}
	}()
	for _, key := range sorted {
		if err := c.Lock(ctx, key); err != nil {
			return err
		}
		locked = append(locked, key)
	}

	tx := &Tx[K, V]{
		cache:  c,
		locked: make(map[K]struct{}, len(sorted)),
		staged: make(map[K]V),
	}
	for _, key := range sorted {
		tx.locked[key] = struct{}{}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if c.validate != nil {
		for _, key := range tx.order {
			if err := c.validate(tx.staged[key]); err != nil {
				return fmt.Errorf("%s %v: %w", c.name, key, err)
			}
		}
	}

	type committed struct {
		key    K
		old    *V
		value  V
		events EventSet
	}
	writes := make([]committed, 0, len(tx.order))
	c.mu.Lock()
	for _, key := range tx.order {
		value := tx.staged[key]
		var oldPtr *V
		if old, ok := c.items[key]; ok {
			oldPtr = &old
		}
		c.items[key] = value
		writes = append(writes, committed{key: key, old: oldPtr, value: value, events: c.flow(oldPtr, value)})
	}
	c.mu.Unlock()

	for _, w := range writes {
		c.publish(ctx, w.key, w.old, w.value, w.events)
	}
	return nil
}

// RegisterListener subscribes listener to one event kind.
func (c *Cache[K, V]) RegisterListener(kind EventKind, listener Listener[K, V]) {
	if listener == nil {
		return
	}
	c.listenersMu.Lock()
	c.listeners[kind] = append(c.listeners[kind], listener)
	c.listenersMu.Unlock()
}

func (c *Cache[K, V]) publish(ctx context.Context, key K, old *V, value V, events EventSet) {
	for _, kind := range events.Kinds() {
		c.listenersMu.RLock()
		listeners := append([]Listener[K, V](nil), c.listeners[kind]...)
		c.listenersMu.RUnlock()

		for _, listener := range listeners {
			event := Event[K, V]{Kind: kind, Key: key, Old: old, Value: value}
			if err := listener(ctx, event); err != nil {
				c.logger.Warn("cache listener failed",
					zap.Any("key", key),
					zap.Stringer("event", kind),
					zap.Error(err),
				)
			}
		}
	}
}
