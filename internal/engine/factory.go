package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/alkkagi-arena-go/internal/collab"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/negotiation"
	"github.com/kapu/alkkagi-arena-go/internal/obslog"
)

var ErrAIDisabled = errors.New("ai opponents are disabled")

// Factory creates sessions once a negotiation settles (or directly for
// AI matches) and registers them as live.
type Factory struct {
	eng          *Engine
	allowAIGames bool
	dir          collab.UserDirectory

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFactory(eng *Engine, allowAIGames bool, rng *rand.Rand) *Factory {
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(uuid.New().ID())))
	}
	return &Factory{eng: eng, allowAIGames: allowAIGames, rng: rng}
}

// SetUserDirectory enables equipped-item bonuses from the economy
// service at session creation.
func (f *Factory) SetUserDirectory(dir collab.UserDirectory) { f.dir = dir }

// SessionFactory adapts the factory to the negotiation handshake.
func (f *Factory) SessionFactory() negotiation.SessionFactory {
	return func(ctx context.Context, challenger, opponent negotiation.Participant, set game.Settings) (*game.Session, error) {
		return f.Create(ctx,
			game.Player{ID: challenger.ID, Name: challenger.Name},
			game.Player{ID: opponent.ID, Name: opponent.Name},
			set,
		)
	}
}

// Create builds, registers, and persists a new session. Seat assignment:
// an honored color preference fixes the seats; otherwise the challenger
// sits Black provisionally and the turn-order phase settles it.
func (f *Factory) Create(ctx context.Context, challenger, opponent game.Player, set game.Settings) (*game.Session, error) {
	if set.Mode == "" {
		set.Mode = game.ModeAlkkagi
	}
	rules, err := f.eng.catalog.Preset(set.Preset)
	if err != nil {
		return nil, err
	}

	black, white := challenger, opponent
	switch {
	case set.ColorPreference == game.White:
		black, white = opponent, challenger
	case set.AIOpponent && set.ColorPreference != game.Black:
		// no stated wish against the AI: fair draw instead of turn-order
		if f.coinFlip() {
			black, white = opponent, challenger
		}
	}

	now := f.eng.clock()
	sess := game.NewSession(uuid.NewString(), set, rules, black, white, now)
	f.applyItemBonuses(ctx, sess)
	if err := f.eng.reg.Insert(sess); err != nil {
		return nil, err
	}
	if err := f.eng.st.Save(ctx, sess); err != nil {
		f.eng.reg.Remove(sess.ID)
		return nil, err
	}
	if err := f.eng.st.IndexParticipants(ctx, sess.ID, challenger.ID, opponent.ID); err != nil {
		obslog.L().Warn("session_index_error", zap.String("session_id", sess.ID), zap.Error(err))
	}

	obslog.L().Info("session_created",
		zap.String("session_id", sess.ID),
		zap.String("mode", string(sess.Mode)),
		zap.String("preset", sess.Preset),
		zap.String("status", string(sess.Status)),
		zap.String("black_id", black.ID),
		zap.String("white_id", white.ID),
	)
	f.eng.bcast.BroadcastState(sess)
	return sess, nil
}

// CreateAIMatch starts a session against the built-in opponent. The human
// keeps their preferred color, defaulting to Black.
func (f *Factory) CreateAIMatch(ctx context.Context, user game.Player, set game.Settings) (*game.Session, error) {
	if !f.allowAIGames {
		return nil, ErrAIDisabled
	}
	set.AIOpponent = true
	if set.ColorPreference == "" || set.ColorPreference == game.ColorNone {
		set.ColorPreference = game.Black
	}
	bot := game.Player{
		ID:   "ai:" + uuid.NewString(),
		Name: "Arena AI",
		IsAI: true,
	}
	return f.Create(ctx, user, bot, set)
}

// applyItemBonuses tops up each human seat's starting items with their
// equipped bonuses. Lookup failures degrade to base inventory.
func (f *Factory) applyItemBonuses(ctx context.Context, sess *game.Session) {
	if f.dir == nil {
		return
	}
	for _, c := range []game.Color{game.Black, game.White} {
		p := sess.Player(c)
		if p == nil || p.IsAI {
			continue
		}
		snap, err := f.dir.Snapshot(ctx, p.ID)
		if err != nil {
			obslog.L().Warn("item_bonus_lookup_error", zap.String("user_id", p.ID), zap.Error(err))
			continue
		}
		for it, n := range snap.ItemBonus {
			if n > 0 {
				p.Items[it] += n
			}
		}
	}
}

func (f *Factory) coinFlip() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Intn(2) == 0
}
