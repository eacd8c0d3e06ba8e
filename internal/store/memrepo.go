package store

import (
	"context"
	"sync"

	"github.com/kapu/alkkagi-arena-go/internal/game"
)

// memrepo is the repository used when no database is configured, and in
// tests. Same contract as the postgres implementation.
type memrepo struct {
	mu       sync.RWMutex
	sessions map[string]*game.Session
	profiles map[string]*Profile
}

func NewMemoryRepository() Repository {
	return &memrepo{
		sessions: make(map[string]*game.Session),
		profiles: make(map[string]*Profile),
	}
}

func (m *memrepo) SaveSnapshot(ctx context.Context, sess *game.Session) error {
	if sess == nil {
		return nil
	}
	m.mu.Lock()
	m.sessions[sess.ID] = sess.Clone()
	m.mu.Unlock()
	return nil
}

func (m *memrepo) GetSnapshot(ctx context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

func (m *memrepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *memrepo) UpsertProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return nil
	}
	cp := *p
	m.mu.Lock()
	m.profiles[p.PlayerID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memrepo) GetProfile(ctx context.Context, playerID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[playerID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memrepo) Close() error { return nil }
