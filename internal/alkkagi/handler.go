// Package alkkagi is the mode handler for flick-the-stone sessions. It
// owns the placement/playing/animating/round-end phases and composes the
// shared phase handlers and the physics resolver. Other modes implement
// the same contract with their own phase sets.
package alkkagi

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/phase"
)

var (
	ErrNotApplicable  = errors.New("action not applicable in current phase")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrIllegalPlace   = errors.New("illegal placement")
	ErrQuotaExhausted = errors.New("placement quota exhausted")
	ErrUnknownStone   = errors.New("no such stone")
	ErrUnknownItem    = errors.New("unknown item")
	ErrItemDepleted   = errors.New("item not available")
	ErrItemActive     = errors.New("item already active")
)

const (
	maxFlickSpeed = 900.0
	slowFactor    = 0.6

	// Placement zones: each seat owns a horizontal band of the board.
	blackZoneMax = 0.40 // Black places with y <= height * blackZoneMax
	whiteZoneMin = 0.60 // White places with y >= height * whiteZoneMin
)

// Handler drives Alkkagi sessions. Safe for concurrent use; the engine
// serializes per session but distinct sessions call in parallel.
type Handler struct {
	catalog *config.RuleCatalog

	mu  sync.Mutex
	rng *rand.Rand
}

func NewHandler(catalog *config.RuleCatalog, rng *rand.Rand) *Handler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Handler{catalog: catalog, rng: rng}
}

func (h *Handler) Mode() game.Mode { return game.ModeAlkkagi }

func (h *Handler) rules(s *game.Session) (config.Rules, error) {
	return h.catalog.Preset(s.Preset)
}

// float64n is the handler's serialized randomness source.
func (h *Handler) float64n() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

// HandleAction applies one validated client action to the (already
// cloned) session. Unknown phase/action combinations return
// ErrNotApplicable; the router maps that to a typed rejection.
func (h *Handler) HandleAction(s *game.Session, actor game.Color, action game.ActionType, p game.ActionPayload, now time.Time) ([]game.Event, error) {
	rules, err := h.rules(s)
	if err != nil {
		return nil, err
	}

	switch action {
	case game.ActionResign:
		if err := s.End(actor.Opponent(), game.WinResign, now); err != nil {
			return nil, err
		}
		return []game.Event{game.EndedEvent(s, now)}, nil

	case game.ActionAdminAbort:
		if err := s.End(game.ColorNone, game.WinAdmin, now); err != nil {
			return nil, err
		}
		return []game.Event{game.EndedEvent(s, now)}, nil

	case game.ActionPickTurnOrder:
		h.mu.Lock()
		resolved, err := phase.SubmitTurnOrderPick(s, actor, p.Pick, now, rules, h.rng)
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if resolved {
			return []game.Event{game.Notice(s.ID, "turn order decided")}, nil
		}
		return nil, nil

	case game.ActionConfirm:
		return h.handleConfirm(s, actor, now, rules)

	case game.ActionPlaceStone:
		return h.handlePlace(s, actor, p, now, rules)

	case game.ActionFlickStone:
		return h.handleFlick(s, actor, p, now, rules)

	case game.ActionUseItem:
		return h.handleItem(s, actor, p, now)
	}
	return nil, ErrNotApplicable
}

func (h *Handler) handleConfirm(s *game.Session, actor game.Color, now time.Time, rules config.Rules) ([]game.Event, error) {
	switch s.Status {
	case game.StatusPregameConfirm:
		both, err := phase.SubmitConfirm(s, actor, now)
		if err != nil {
			return nil, err
		}
		if both {
			h.startPlacement(s, now, rules)
		}
		return nil, nil
	case game.StatusRoundEnd:
		both, err := phase.SubmitConfirm(s, actor, now)
		if err != nil {
			return nil, err
		}
		if both {
			h.startNextRound(s, now, rules)
		}
		return nil, nil
	}
	return nil, ErrNotApplicable
}

func (h *Handler) handleItem(s *game.Session, actor game.Color, p game.ActionPayload, now time.Time) ([]game.Event, error) {
	if s.Status != game.StatusPlaying {
		return nil, ErrNotApplicable
	}
	if p.Item != game.ItemSlow && p.Item != game.ItemAim {
		return nil, ErrUnknownItem
	}
	pl := s.Player(actor)
	if pl == nil {
		return nil, phase.ErrNotInSession
	}
	if pl.ActiveItems[p.Item] {
		return nil, ErrItemActive
	}
	if pl.Items[p.Item] <= 0 {
		return nil, ErrItemDepleted
	}
	pl.Items[p.Item]--
	pl.ActiveItems[p.Item] = true
	s.UpdatedAt = now
	return []game.Event{game.Notice(s.ID, string(actor) + " activated " + string(p.Item))}, nil
}
