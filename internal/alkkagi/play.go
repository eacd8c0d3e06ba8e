package alkkagi

import (
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/phase"
	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

func (h *Handler) handleFlick(s *game.Session, actor game.Color, p game.ActionPayload, now time.Time, rules config.Rules) ([]game.Event, error) {
	if s.Status != game.StatusPlaying {
		return nil, ErrNotApplicable
	}
	if actor != s.CurrentTurn {
		return nil, ErrNotYourTurn
	}

	ak := s.Alkkagi
	var target *physics.Stone
	for i := range ak.Stones {
		if ak.Stones[i].ID == p.StoneID {
			target = &ak.Stones[i]
			break
		}
	}
	if target == nil || !target.OnBoard || target.Owner != string(actor) {
		return nil, ErrUnknownStone
	}

	impulse := physics.Vec2{X: p.VX, Y: p.VY}
	if impulse.Len() == 0 {
		return nil, ErrNotApplicable
	}
	if l := impulse.Len(); l > maxFlickSpeed {
		impulse = impulse.Scale(maxFlickSpeed / l)
	}

	var events []game.Event

	// opponent's slow item dampens this flick, consumed on use
	opp := s.Player(actor.Opponent())
	if opp != nil && opp.ActiveItems[game.ItemSlow] {
		impulse = impulse.Scale(slowFactor)
		delete(opp.ActiveItems, game.ItemSlow)
		events = append(events, game.Notice(s.ID, "slow applied to "+string(actor)))
	}
	// aim assist is client-side; the activation is spent on the flick
	if me := s.Player(actor); me != nil && me.ActiveItems[game.ItemAim] {
		delete(me.ActiveItems, game.ItemAim)
	}

	// charge the turn's duration against the flicker's clock
	if s.Deadline != nil {
		spent := now.Sub(s.Deadline.Add(-rules.FlickTimeout))
		if spent > 0 && !phase.ChargeTime(s, actor, spent, rules) {
			_ = s.End(actor.Opponent(), game.WinTimeout, now)
			events = append(events, game.EndedEvent(s, now))
			return events, nil
		}
	}

	board := physics.Board{Width: rules.BoardWidth, Height: rules.BoardHeight}
	out := physics.Simulate(board, ak.Stones, physics.Impulse{StoneID: target.ID, V: impulse})
	ak.Stones = out.Stones

	s.AppendMove(game.Move{
		Color:   actor,
		Action:  game.ActionFlickStone,
		VX:      impulse.X,
		VY:      impulse.Y,
		StoneID: target.ID,
		At:      now,
	})

	s.Status = game.StatusAnimating
	done := now.Add(rules.AnimationGrace)
	ak.AnimationDoneAt = &done
	s.SetDeadline(done)
	s.UpdatedAt = now
	return events, nil
}

func countOnBoard(stones []physics.Stone, c game.Color) int {
	n := 0
	for i := range stones {
		if stones[i].OnBoard && stones[i].Owner == string(c) {
			n++
		}
	}
	return n
}

// lastFlicker finds the seat that made the most recent flick.
func lastFlicker(s *game.Session) game.Color {
	for i := len(s.Moves) - 1; i >= 0; i-- {
		if s.Moves[i].Action == game.ActionFlickStone {
			return s.Moves[i].Color
		}
	}
	return s.CurrentTurn
}

// finishAnimation runs after the post-simulation grace window: either the
// round is over (one side has no stones) or the turn alternates.
func (h *Handler) finishAnimation(s *game.Session, now time.Time, rules config.Rules) ([]game.Event, error) {
	ak := s.Alkkagi
	ak.AnimationDoneAt = nil
	flicker := lastFlicker(s)

	blackLeft := countOnBoard(ak.Stones, game.Black)
	whiteLeft := countOnBoard(ak.Stones, game.White)

	if blackLeft > 0 && whiteLeft > 0 {
		s.Status = game.StatusPlaying
		s.CurrentTurn = flicker.Opponent()
		s.SetDeadline(now.Add(rules.FlickTimeout))
		s.UpdatedAt = now
		return nil, nil
	}

	// Round over. A side with zero stones loses the round; clearing both
	// sides at once counts against the flicker.
	loser := game.Black
	if whiteLeft == 0 && blackLeft == 0 {
		loser = flicker
	} else if whiteLeft == 0 {
		loser = game.White
	}
	winner := loser.Opponent()
	ak.RoundWins[winner]++
	ak.PlacesFirst = loser

	events := []game.Event{{
		Type:      game.EventRoundEnd,
		SessionID: s.ID,
		Color:     winner,
		Message:   "round won by " + string(winner),
	}}

	// Final round with a strict leader ends the match outright; otherwise
	// both sides confirm before the next (or extra) round begins.
	if ak.Round >= rules.Rounds && ak.RoundWins[winner] != ak.RoundWins[loser] {
		lead := game.Black
		if ak.RoundWins[game.White] > ak.RoundWins[game.Black] {
			lead = game.White
		}
		_ = s.End(lead, game.WinAlkkagi, now)
		events = append(events, game.EndedEvent(s, now))
		return events, nil
	}

	s.Status = game.StatusRoundEnd
	s.CurrentTurn = game.ColorNone
	s.Confirm = &game.ConfirmState{Confirmed: map[game.Color]bool{}}
	s.SetDeadline(now.Add(rules.ConfirmTimeout))
	s.UpdatedAt = now
	return events, nil
}

// startNextRound clears the loser's stones, keeps the winner's survivors,
// and opens a fresh placement phase with the loser placing first.
func (h *Handler) startNextRound(s *game.Session, now time.Time, rules config.Rules) {
	ak := s.Alkkagi
	survivors := ak.Stones[:0:0]
	for _, st := range ak.Stones {
		if st.OnBoard && st.Owner != string(ak.PlacesFirst) {
			survivors = append(survivors, st)
		}
	}
	ak.Stones = survivors
	ak.Round++
	h.startPlacement(s, now, rules)
}
