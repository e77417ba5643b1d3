package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions idle longer than
// ttl are treated as abandoned.
type MemoryStore struct {
	mu    sync.Mutex
	items map[int64]*Session
	ttl   time.Duration
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. A zero ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[int64]*Session),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, partnerID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[partnerID]
	if !ok {
		return nil, nil
	}
	if m.expired(s, m.now()) {
		delete(m.items, partnerID)
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.Clone()
	c.UpdatedAt = m.now()
	s.UpdatedAt = c.UpdatedAt
	m.items[s.PartnerID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, partnerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, partnerID)
	return nil
}

// Sweep drops abandoned sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, s := range m.items {
		if m.expired(s, now) {
			delete(m.items, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryStore) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.UpdatedAt) > m.ttl
}
