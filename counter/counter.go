// Package counter implements the single-key atomic accumulator used by
// sequence-adjacent bookkeeping (e.g. governance version numbers,
// per-scope rate counters) that doesn't warrant a full ledger entry.
package counter

import (
	"context"
	"errors"
	"sync"
)

// ErrCacheMiss is returned by Get when the backend has no value for key,
// signaling the caller should fall through to the next backend in a
// Chained counter.
var ErrCacheMiss = errors.New("counter: cache miss")

// Counter is a single-key integer accumulator.
type Counter interface {
	Increment(ctx context.Context, key string, amount int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Memory is an in-process Counter for single-process use and tests.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemory constructs a Memory counter.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

func (m *Memory) Increment(_ context.Context, key string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] += amount
	return m.values[key], nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return 0, ErrCacheMiss
	}
	return v, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Relational is backed by a composite-key UPSERT table; Upserter is
// implemented by a grove-backed store adapter.
type Relational struct {
	upserter Upserter
}

// Upserter performs the UPSERT-returning-new-total semantics a
// relational backend provides natively.
type Upserter interface {
	UpsertIncrement(ctx context.Context, key string, amount int64) (int64, error)
	SelectValue(ctx context.Context, key string) (int64, error)
	DeleteValue(ctx context.Context, key string) error
}

// NewRelational constructs a Relational counter over upserter.
func NewRelational(upserter Upserter) *Relational {
	return &Relational{upserter: upserter}
}

func (r *Relational) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return r.upserter.UpsertIncrement(ctx, key, amount)
}

func (r *Relational) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.upserter.SelectValue(ctx, key)
	if err != nil {
		return 0, ErrCacheMiss
	}
	return v, nil
}

func (r *Relational) Reset(ctx context.Context, key string) error {
	return r.upserter.DeleteValue(ctx, key)
}

// TTLTable is a SQL-table-backed distributed-cache stand-in: rows carry
// an expires_at column, and Get reports ErrCacheMiss for an expired or
// absent row exactly as a Redis-style TTL backend would. No ecosystem
// example in this pack exercises a real cache client, so this tier is
// grounded on the relational entitlement-cache idiom instead.
type TTLTable struct {
	store TTLStore
}

// TTLStore is the narrow persistence surface a TTL-backed counter needs.
type TTLStore interface {
	IncrementWithTTL(ctx context.Context, key string, amount int64) (int64, error)
	GetIfFresh(ctx context.Context, key string) (int64, bool, error)
	Delete(ctx context.Context, key string) error
}

// NewTTLTable constructs a TTLTable counter over store.
func NewTTLTable(store TTLStore) *TTLTable {
	return &TTLTable{store: store}
}

func (t *TTLTable) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return t.store.IncrementWithTTL(ctx, key, amount)
}

func (t *TTLTable) Get(ctx context.Context, key string) (int64, error) {
	v, fresh, err := t.store.GetIfFresh(ctx, key)
	if err != nil {
		return 0, err
	}
	if !fresh {
		return 0, ErrCacheMiss
	}
	return v, nil
}

func (t *TTLTable) Reset(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

// Chained tries each backend in order: primary, then fallback, then
// bootstrap. Increment and Get fall through to the next backend on
// error; Reset is best-effort across all of them.
type Chained struct {
	backends []Counter
}

// NewChained constructs a Chained counter trying backends in order.
func NewChained(backends ...Counter) *Chained {
	return &Chained{backends: backends}
}

func (c *Chained) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	var lastErr error
	for _, b := range c.backends {
		total, err := b.Increment(ctx, key, amount)
		if err == nil {
			return total, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Chained) Get(ctx context.Context, key string) (int64, error) {
	var lastErr error = ErrCacheMiss
	for _, b := range c.backends {
		v, err := b.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (c *Chained) Reset(ctx context.Context, key string) error {
	var firstErr error
	for _, b := range c.backends {
		if err := b.Reset(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
