package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and local development.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemStore creates an empty in-memory session store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]Session)}
}

func (m *MemStore) Create(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemStore) Get(_ context.Context, id, ownerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !live(s, ownerID) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemStore) Consume(_ context.Context, id, ownerID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !live(s, ownerID) {
		return Session{}, ErrSessionNotFound
	}
	s.ConsumedAt = time.Now().UTC()
	m.sessions[id] = s
	return s, nil
}

func live(s Session, ownerID string) bool {
	return s.OwnerID == ownerID && s.ConsumedAt.IsZero() && time.Now().Before(s.ExpiresAt)
}
