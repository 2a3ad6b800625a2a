// Package syncutil provides per-key locking primitives shared by the fleet
// and quota packages.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex provides an exact per-key mutex with context-aware acquisition.
// Entries are created lazily on first use and discarded once no goroutine
// holds or waits on them, so memory stays proportional to current contention
// rather than to the number of keys ever seen.
//
// Two different keys never block each other.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// keyedEntry is a channel-based mutex with a waiter refcount. The channel
// holds one token when unlocked; refs counts holders plus waiters.
type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the mutex for key, respecting context cancellation while
// waiting. On success it returns an unlock function which the caller MUST
// invoke exactly once. On cancellation it returns nil and the context error.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{} // Start unlocked.
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case <-e.ch:
		return func() {
			e.ch <- struct{}{}
			m.release(key, e)
		}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

// release drops one reference and removes the entry once uncontended.
func (m *KeyedMutex) release(key string, e *keyedEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// Len returns the number of live lock entries. Exposed for tests and the
// health endpoint.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
