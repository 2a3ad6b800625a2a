package subscription

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory subscription store for demo/development.
type MemoryStore struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription // by tenant ID
	history map[string][]*HistoryEntry
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:    make(map[string]*Subscription),
		history: make(map[string][]*HistoryEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[s.TenantID]; exists {
		return ErrAlreadyExists
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[s.TenantID]; !ok {
		return ErrNotFound
	}
	cp := *s
	m.subs[s.TenantID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, tenantID)
	return nil
}

func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*Subscription
	for _, s := range m.subs {
		if s.Status == StatusActive && !s.ExpiresAt.After(now) {
			cp := *s
			due = append(due, &cp)
			if limit > 0 && len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (m *MemoryStore) MarkExpired(_ context.Context, tenantID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[tenantID]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != StatusActive || s.ExpiresAt.After(now) {
		return false, nil
	}
	s.Status = StatusExpired
	s.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, e *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.history[e.TenantID] = append(m.history[e.TenantID], &cp)
	return nil
}

func (m *MemoryStore) History(_ context.Context, tenantID string, limit int) ([]*HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[tenantID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*HistoryEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
