package alkkagi

import (
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/phase"
)

// Advance is the tick entry point: it checks the session's deadlines
// against now and applies at most one state transition. It is the only
// code that compares deadline fields to the clock.
func (h *Handler) Advance(s *game.Session, now time.Time) ([]game.Event, error) {
	if s.Ended() {
		return nil, nil
	}
	rules, err := h.rules(s)
	if err != nil {
		return nil, err
	}

	if events, ended := phase.DisconnectExpired(s, now); ended {
		return events, nil
	}

	switch s.Status {
	case game.StatusAnimating:
		ak := s.Alkkagi
		if ak.AnimationDoneAt != nil && !now.Before(*ak.AnimationDoneAt) {
			return h.finishAnimation(s, now, rules)
		}

	case game.StatusTurnOrder:
		if s.DeadlinePassed(now) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return phase.TurnOrderTimeout(s, now, rules, h.rng)
		}

	case game.StatusPregameConfirm:
		if changed, done := phase.AutoConfirmAI(s, now); changed {
			if done {
				h.startPlacement(s, now, rules)
			}
			return []game.Event{game.Notice(s.ID, "ai confirmed")}, nil
		}
		if s.DeadlinePassed(now) {
			var events []game.Event
			for _, c := range []game.Color{game.Black, game.White} {
				if s.Confirm != nil && !s.Confirm.Confirmed[c] {
					ev, ended := phase.RecordTimeoutFoul(s, c, now, rules)
					events = append(events, ev...)
					if ended {
						return events, nil
					}
				}
			}
			h.startPlacement(s, now, rules)
			events = append(events, game.Notice(s.ID, "placement forced by deadline"))
			return events, nil
		}

	case game.StatusPlacement:
		if s.DeadlinePassed(now) {
			return h.placementTimeout(s, now, rules)
		}

	case game.StatusSimulPlacement:
		if s.DeadlinePassed(now) {
			return h.simulPlacementTimeout(s, now, rules)
		}

	case game.StatusPlaying:
		if s.DeadlinePassed(now) {
			// flicking has no safe default: foul only, same seat keeps
			// the turn with a fresh deadline
			events, ended := phase.RecordTimeoutFoul(s, s.CurrentTurn, now, rules)
			if ended {
				return events, nil
			}
			s.SetDeadline(now.Add(rules.FlickTimeout))
			return events, nil
		}

	case game.StatusRoundEnd:
		if changed, done := phase.AutoConfirmAI(s, now); changed {
			if done {
				h.startNextRound(s, now, rules)
			}
			return []game.Event{game.Notice(s.ID, "ai confirmed")}, nil
		}
		if s.DeadlinePassed(now) {
			var events []game.Event
			for _, c := range []game.Color{game.Black, game.White} {
				if s.Confirm != nil && !s.Confirm.Confirmed[c] {
					ev, ended := phase.RecordTimeoutFoul(s, c, now, rules)
					events = append(events, ev...)
					if ended {
						return events, nil
					}
				}
			}
			h.startNextRound(s, now, rules)
			return events, nil
		}
	}
	return nil, nil
}

// placementTimeout applies the turn-by-turn fallback: a foul for the seat
// on the clock and, if the session survives, a random legal placement on
// their behalf.
func (h *Handler) placementTimeout(s *game.Session, now time.Time, rules config.Rules) ([]game.Event, error) {
	c := s.CurrentTurn
	events, ended := phase.RecordTimeoutFoul(s, c, now, rules)
	if ended {
		return events, nil
	}
	if !h.placeRandomly(s, c, now, rules) {
		// board exhausted; treat as quota filled
		s.Alkkagi.Placed[c] = rules.StonesPerRound
	}
	events = append(events, game.Notice(s.ID, "auto-placed for "+string(c)))

	ak := s.Alkkagi
	if ak.Placed[game.Black] >= rules.StonesPerRound && ak.Placed[game.White] >= rules.StonesPerRound {
		h.startPlaying(s, now, rules)
		return events, nil
	}
	next := c.Opponent()
	if ak.Placed[next] >= rules.StonesPerRound {
		next = c
	}
	s.CurrentTurn = next
	s.SetDeadline(now.Add(rules.PlacementTimeout))
	return events, nil
}

// simulPlacementTimeout fouls every seat short of quota, fills the gaps
// randomly, and moves straight into play.
func (h *Handler) simulPlacementTimeout(s *game.Session, now time.Time, rules config.Rules) ([]game.Event, error) {
	var events []game.Event
	ak := s.Alkkagi
	for _, c := range []game.Color{game.Black, game.White} {
		if ak.Placed[c] >= rules.StonesPerRound {
			continue
		}
		ev, ended := phase.RecordTimeoutFoul(s, c, now, rules)
		events = append(events, ev...)
		if ended {
			return events, nil
		}
		for ak.Placed[c] < rules.StonesPerRound {
			if !h.placeRandomly(s, c, now, rules) {
				ak.Placed[c] = rules.StonesPerRound
				break
			}
		}
		events = append(events, game.Notice(s.ID, "auto-placed for "+string(c)))
	}
	h.mergeStaged(s, now, rules)
	h.startPlaying(s, now, rules)
	return events, nil
}
