// Package engine orchestrates live sessions: it owns the per-session
// mutation guard, routes client actions to the mode handler, drives
// deadline transitions on a tick, and dispatches the resulting events to
// the store, the broadcaster, and the reward sink.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/metrics"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotParticipant  = errors.New("user is not in this session")
	ErrUnknownMode     = errors.New("no handler registered for mode")
	ErrCapacity        = errors.New("session capacity reached")
)

// ModeHandler is the per-mode strategy. Handlers receive an already
// cloned session and mutate it freely; the engine swaps the clone in only
// when the handler returns nil error.
type ModeHandler interface {
	Mode() game.Mode
	HandleAction(s *game.Session, actor game.Color, action game.ActionType, p game.ActionPayload, now time.Time) ([]game.Event, error)
	Advance(s *game.Session, now time.Time) ([]game.Event, error)
}

// handle pairs a live session with its mutation guard. Exactly one
// transition runs per session at a time; contenders get a busy result
// instead of queueing.
type handle struct {
	mu   sync.Mutex
	sess *game.Session
}

// Registry tracks registered mode handlers and live sessions.
type Registry struct {
	mu       sync.RWMutex
	modes    map[game.Mode]ModeHandler
	sessions map[string]*handle
	max      int
}

func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		modes:    make(map[game.Mode]ModeHandler),
		sessions: make(map[string]*handle),
		max:      maxSessions,
	}
}

func (r *Registry) RegisterMode(h ModeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modes[h.Mode()] = h
}

func (r *Registry) handlerFor(m game.Mode) (ModeHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.modes[m]
	if !ok {
		return nil, ErrUnknownMode
	}
	return h, nil
}

// Insert registers a live session, enforcing the capacity ceiling.
func (r *Registry) Insert(sess *game.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; ok {
		return nil
	}
	if r.max > 0 && len(r.sessions) >= r.max {
		return ErrCapacity
	}
	r.sessions[sess.ID] = &handle{sess: sess}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

func (r *Registry) lookup(id string) (*handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[id]
	return h, ok
}

// Snapshot returns a deep copy of a live session for read-only use.
func (r *Registry) Snapshot(id string) (*game.Session, bool) {
	h, ok := r.lookup(id)
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess.Clone(), true
}

// IDs lists registered session ids. The tick driver iterates this list;
// sessions removed mid-scan simply come back empty on lookup.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
