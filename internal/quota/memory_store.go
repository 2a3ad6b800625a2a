package quota

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory quota store for demo/development.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State      // by tenantID + "/" + userID
	tokens map[string]*GrantToken // by token value
}

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
		tokens: make(map[string]*GrantToken),
	}
}

func stateKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

func (m *MemoryStore) GetState(_ context.Context, tenantID, userID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[stateKey(tenantID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SaveState(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.states[stateKey(s.TenantID, s.UserID)] = &cp
	return nil
}

func (m *MemoryStore) CreateToken(_ context.Context, t *GrantToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *MemoryStore) GetToken(_ context.Context, token string) (*GrantToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrTokenInvalid
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) MarkTokenUsed(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tokens[token]
	if !ok {
		return false, ErrTokenInvalid
	}
	if t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (m *MemoryStore) TenantStats(_ context.Context, tenantID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TenantID: tenantID}
	for _, s := range m.states {
		if s.TenantID != tenantID {
			continue
		}
		stats.Users++
		if s.Premium {
			stats.PremiumUsers++
		}
	}
	for _, t := range m.tokens {
		if t.TenantID != tenantID {
			continue
		}
		stats.TokensIssued++
		if t.Used {
			stats.TokensRedeemed++
		}
	}
	return stats, nil
}

var _ Store = (*MemoryStore)(nil)
