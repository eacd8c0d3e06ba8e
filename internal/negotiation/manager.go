// Package negotiation turns two users' proposed settings into an
// initialized session. Records live in redis with a TTL matching the
// deadline; acceptance atomically hands off to the session factory and
// deletes the record.
package negotiation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
)

// Participant identifies one side of the handshake.
type Participant struct {
	ID   string
	Name string
}

// SessionFactory creates the session once both sides agree. The factory
// owns color assignment and registry insertion.
type SessionFactory func(ctx context.Context, challenger, opponent Participant, set game.Settings) (*game.Session, error)

type Manager struct {
	rdb     *redis.Client
	factory SessionFactory
	ttl     time.Duration
	clock   game.Clock
}

func NewManager(rdb *redis.Client, factory SessionFactory, ttl time.Duration, clock game.Clock) *Manager {
	if clock == nil {
		clock = game.WallClock
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Manager{rdb: rdb, factory: factory, ttl: ttl, clock: clock}
}

func negKey(id string) string      { return "arena:neg:" + strings.TrimSpace(id) }
func negUserKey(uid string) string { return "arena:neg:user:" + strings.TrimSpace(uid) }

// Propose opens a negotiation from challenger to opponent. One pending
// negotiation per opponent at a time.
func (m *Manager) Propose(ctx context.Context, challenger, opponent Participant, set game.Settings) (*Negotiation, error) {
	if strings.TrimSpace(challenger.ID) == "" || strings.TrimSpace(opponent.ID) == "" {
		return nil, ErrInvalidArgs
	}
	if challenger.ID == opponent.ID {
		return nil, ErrSelfChallenge
	}
	now := m.clock()
	n := &Negotiation{
		ID:             uuid.NewString(),
		ChallengerID:   challenger.ID,
		ChallengerName: challenger.Name,
		OpponentID:     opponent.ID,
		OpponentName:   opponent.Name,
		Settings:       set,
		ProposerID:     challenger.ID,
		Status:         StatusPending,
		Deadline:       now.Add(m.ttl),
		CreatedAt:      now,
	}

	// one pending negotiation per opponent
	ok, err := m.rdb.SetNX(ctx, negUserKey(opponent.ID), n.ID, m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyPending
	}
	if err := m.save(ctx, n); err != nil {
		return nil, err
	}
	obslog.L().Info("negotiation_propose",
		zap.String("negotiation_id", n.ID),
		zap.String("challenger_id", challenger.ID),
		zap.String("opponent_id", opponent.ID),
		zap.String("mode", string(set.Mode)),
	)
	return n, nil
}

// CounterPropose replaces the settings and flips the proposer, so the
// other side must now accept or counter. Resets the deadline.
func (m *Manager) CounterPropose(ctx context.Context, id, byUserID string, set game.Settings) (*Negotiation, error) {
	n, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if byUserID != n.ChallengerID && byUserID != n.OpponentID {
		return nil, ErrNotParticipant
	}
	if byUserID == n.ProposerID {
		return nil, ErrNotYourTurn
	}
	now := m.clock()
	if now.After(n.Deadline) {
		_ = m.delete(ctx, n)
		return nil, ErrExpired
	}
	n.Settings = set
	n.ProposerID = byUserID
	n.Deadline = now.Add(m.ttl)
	if err := m.save(ctx, n); err != nil {
		return nil, err
	}
	obslog.L().Info("negotiation_counter", zap.String("negotiation_id", n.ID), zap.String("by", byUserID))
	return n, nil
}

// Accept finalizes the handshake. Only the non-proposer may accept, and
// only before the deadline. On success the session exists and the
// negotiation is gone.
func (m *Manager) Accept(ctx context.Context, id, byUserID string) (*game.Session, error) {
	n, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if byUserID != n.ChallengerID && byUserID != n.OpponentID {
		return nil, ErrNotParticipant
	}
	if byUserID == n.ProposerID {
		return nil, ErrNotYourTurn
	}
	if m.clock().After(n.Deadline) {
		_ = m.delete(ctx, n)
		return nil, ErrExpired
	}

	sess, err := m.factory(ctx,
		Participant{ID: n.ChallengerID, Name: n.ChallengerName},
		Participant{ID: n.OpponentID, Name: n.OpponentName},
		n.Settings,
	)
	if err != nil {
		return nil, err
	}
	if err := m.delete(ctx, n); err != nil {
		return nil, err
	}
	obslog.L().Info("negotiation_accept",
		zap.String("negotiation_id", n.ID),
		zap.String("session_id", sess.ID),
		zap.String("by", byUserID),
	)
	return sess, nil
}

// Decline deletes the negotiation with no side effects.
func (m *Manager) Decline(ctx context.Context, id, byUserID string) error {
	n, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if byUserID != n.ChallengerID && byUserID != n.OpponentID {
		return ErrNotParticipant
	}
	obslog.L().Info("negotiation_decline", zap.String("negotiation_id", n.ID), zap.String("by", byUserID))
	return m.delete(ctx, n)
}

// Get loads a negotiation, expiring it on read when past deadline.
func (m *Manager) Get(ctx context.Context, id string) (*Negotiation, error) {
	n, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.clock().After(n.Deadline) {
		_ = m.delete(ctx, n)
		return nil, ErrExpired
	}
	return n, nil
}

func (m *Manager) save(ctx context.Context, n *Negotiation) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, negKey(n.ID), raw, m.ttl).Err()
}

func (m *Manager) load(ctx context.Context, id string) (*Negotiation, error) {
	raw, err := m.rdb.Get(ctx, negKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var n Negotiation
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (m *Manager) delete(ctx context.Context, n *Negotiation) error {
	if err := m.rdb.Del(ctx, negKey(n.ID)).Err(); err != nil {
		return err
	}
	return m.rdb.Del(ctx, negUserKey(n.OpponentID)).Err()
}
