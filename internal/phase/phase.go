// Package phase holds the sub-state-machines shared by every game mode:
// turn-order resolution, two-sided confirmation, disconnection grace, and
// the timeout/foul/forfeiture ladder. All functions are pure transitions
// over an already-cloned session; randomness comes in through an explicit
// *rand.Rand so outcomes replay under a fixed seed.
package phase

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
)

var (
	ErrWrongPhase   = errors.New("action not valid in current phase")
	ErrInvalidPick  = errors.New("invalid turn-order pick")
	ErrAlreadyDone  = errors.New("already submitted")
	ErrNotInSession = errors.New("player not in session")
)

// seatKey keys TurnOrderState.Picks by the provisional seat.
func seatKey(c game.Color) string { return string(c) }

// SubmitTurnOrderPick records one player's turn-order input and resolves
// the assignment once both sides have answered. Returns true when the
// session advanced out of the turn-order phase.
func SubmitTurnOrderPick(s *game.Session, c game.Color, pick string, now time.Time, rules config.Rules, rng *rand.Rand) (bool, error) {
	if s.Status != game.StatusTurnOrder || s.TurnOrder == nil {
		return false, ErrWrongPhase
	}
	pick = strings.ToLower(strings.TrimSpace(pick))
	if pick == "" {
		return false, ErrInvalidPick
	}
	if _, dup := s.TurnOrder.Picks[seatKey(c)]; dup {
		return false, ErrAlreadyDone
	}
	if err := validatePick(s.TurnOrder.Method, c, pick); err != nil {
		return false, err
	}
	s.TurnOrder.Picks[seatKey(c)] = pick
	s.UpdatedAt = now
	if len(s.TurnOrder.Picks) < 2 {
		return false, nil
	}
	return resolveTurnOrder(s, now, rules, rng), nil
}

func validatePick(m game.TurnOrderMethod, c game.Color, pick string) error {
	switch m {
	case game.OrderPreference:
		if pick != "black" && pick != "white" {
			return ErrInvalidPick
		}
	case game.OrderRPS:
		if pick != "rock" && pick != "paper" && pick != "scissors" {
			return ErrInvalidPick
		}
	case game.OrderGuess:
		// provisional Black hides a stone count, provisional White guesses
		// its parity
		if c == game.Black {
			if n, err := strconv.Atoi(pick); err != nil || n < 1 {
				return ErrInvalidPick
			}
		} else if pick != "odd" && pick != "even" {
			return ErrInvalidPick
		}
	case game.OrderDice:
		if pick != "roll" {
			return ErrInvalidPick
		}
	default:
		return ErrInvalidPick
	}
	return nil
}

// resolveTurnOrder decides which player id takes Black and moves the
// session into the pre-game confirmation phase. Ties re-open the pick
// window; the per-phase timeout guarantees termination regardless.
func resolveTurnOrder(s *game.Session, now time.Time, rules config.Rules, rng *rand.Rand) bool {
	to := s.TurnOrder
	a, b := to.Picks[seatKey(game.Black)], to.Picks[seatKey(game.White)]

	blackStays := true
	switch to.Method {
	case game.OrderPreference:
		switch {
		case a == "black" && b == "white":
			blackStays = true
		case a == "white" && b == "black":
			blackStays = false
		default: // same wish: coin flip
			blackStays = rng.Intn(2) == 0
		}
	case game.OrderRPS:
		w := rpsWinner(a, b)
		if w == 0 {
			// tie: clear and re-ask inside the same deadline
			to.Picks = map[string]string{}
			s.UpdatedAt = now
			return false
		}
		blackStays = w == 1
	case game.OrderGuess:
		n, _ := strconv.Atoi(a)
		correct := (n%2 == 1 && b == "odd") || (n%2 == 0 && b == "even")
		blackStays = !correct // correct guess wins Black for the guesser
	case game.OrderDice:
		for {
			da, db := rng.Intn(6)+1, rng.Intn(6)+1
			if da != db {
				blackStays = da > db
				break
			}
		}
	}

	if !blackStays {
		s.SwapSeats()
	}
	enterPregameConfirm(s, now, rules)
	return true
}

func rpsWinner(a, b string) int {
	if a == b {
		return 0
	}
	beats := map[string]string{"rock": "scissors", "paper": "rock", "scissors": "paper"}
	if beats[a] == b {
		return 1
	}
	return 2
}

// TurnOrderTimeout applies the deadline fallback: each silent seat takes a
// foul, then a random (or default) assignment unblocks the session.
func TurnOrderTimeout(s *game.Session, now time.Time, rules config.Rules, rng *rand.Rand) ([]game.Event, error) {
	if s.Status != game.StatusTurnOrder || s.TurnOrder == nil {
		return nil, ErrWrongPhase
	}
	var events []game.Event
	for _, c := range []game.Color{game.Black, game.White} {
		if _, ok := s.TurnOrder.Picks[seatKey(c)]; ok {
			continue
		}
		ev, ended := RecordTimeoutFoul(s, c, now, rules)
		events = append(events, ev...)
		if ended {
			return events, nil
		}
	}
	if rng.Intn(2) == 1 {
		s.SwapSeats()
	}
	enterPregameConfirm(s, now, rules)
	events = append(events, game.Notice(s.ID, "turn order resolved by timeout"))
	return events, nil
}

func enterPregameConfirm(s *game.Session, now time.Time, rules config.Rules) {
	s.Status = game.StatusPregameConfirm
	s.TurnOrder = nil
	s.Confirm = &game.ConfirmState{Confirmed: map[game.Color]bool{}}
	s.SetDeadline(now.Add(rules.ConfirmTimeout))
	s.UpdatedAt = now
}

// SubmitConfirm marks one side's acknowledgement. Reports whether both
// sides have now confirmed; the mode handler owns the follow-up
// transition.
func SubmitConfirm(s *game.Session, c game.Color, now time.Time) (bool, error) {
	if s.Confirm == nil {
		return false, ErrWrongPhase
	}
	if s.Confirm.Confirmed[c] {
		return false, ErrAlreadyDone
	}
	s.Confirm.Confirmed[c] = true
	s.UpdatedAt = now
	return s.Confirm.Confirmed[game.Black] && s.Confirm.Confirmed[game.White], nil
}

// AutoConfirmAI confirms on behalf of AI seats. Reports whether any seat
// was confirmed and whether that completed the handshake.
func AutoConfirmAI(s *game.Session, now time.Time) (changed, done bool) {
	if s.Confirm == nil {
		return false, false
	}
	for _, c := range []game.Color{game.Black, game.White} {
		p := s.Player(c)
		if p != nil && p.IsAI && !s.Confirm.Confirmed[c] {
			s.Confirm.Confirmed[c] = true
			s.UpdatedAt = now
			changed = true
		}
	}
	done = changed && s.Confirm.Confirmed[game.Black] && s.Confirm.Confirmed[game.White]
	return changed, done
}

// MarkDisconnected opens the grace window for a seat and bumps its
// disconnect counter. Reconnecting before expiry carries no further
// penalty.
func MarkDisconnected(s *game.Session, c game.Color, now time.Time, rules config.Rules) []game.Event {
	p := s.Player(c)
	if p == nil || !p.Connected {
		return nil
	}
	p.Connected = false
	s.DisconnectCounts[c]++
	s.Disconnect = &game.DisconnectState{
		Color:    c,
		Since:    now,
		Deadline: now.Add(rules.DisconnectGrace),
	}
	s.UpdatedAt = now
	return []game.Event{game.Notice(s.ID, string(c)+" disconnected")}
}

// MarkReconnected clears the grace window.
func MarkReconnected(s *game.Session, c game.Color, now time.Time) []game.Event {
	p := s.Player(c)
	if p == nil {
		return nil
	}
	p.Connected = true
	if s.Disconnect != nil && s.Disconnect.Color == c {
		s.Disconnect = nil
	}
	s.UpdatedAt = now
	return []game.Event{game.Notice(s.ID, string(c)+" reconnected")}
}

// DisconnectExpired ends the session in the opponent's favor once the
// grace window elapses without a reconnect.
func DisconnectExpired(s *game.Session, now time.Time) ([]game.Event, bool) {
	if s.Disconnect == nil || now.Before(s.Disconnect.Deadline) {
		return nil, false
	}
	loser := s.Disconnect.Color
	s.Disconnect = nil
	_ = s.End(loser.Opponent(), game.WinDisconnect, now)
	return []game.Event{game.EndedEvent(s, now)}, true
}

// RecordTimeoutFoul increments the seat's foul counter and, at the
// configured limit, forfeits the session to the opponent. The bool result
// reports the forfeiture.
func RecordTimeoutFoul(s *game.Session, c game.Color, now time.Time, rules config.Rules) ([]game.Event, bool) {
	s.TimeoutFouls[c]++
	s.UpdatedAt = now
	events := []game.Event{{
		Type:      game.EventFoul,
		SessionID: s.ID,
		Color:     c,
		Message:   "timeout foul " + strconv.Itoa(s.TimeoutFouls[c]) + "/" + strconv.Itoa(rules.FoulLimit),
	}}
	if s.TimeoutFouls[c] >= rules.FoulLimit {
		_ = s.End(c.Opponent(), game.WinTimeout, now)
		events = append(events, game.EndedEvent(s, now))
		return events, true
	}
	return events, false
}

// ChargeTime subtracts a completed turn's duration from the seat's main
// clock, spilling into byoyomi periods once the main time is gone.
// Returns false when the seat has exhausted every period.
func ChargeTime(s *game.Session, c game.Color, spent time.Duration, rules config.Rules) bool {
	if spent <= 0 {
		return true
	}
	left := s.MainTimeLeft[c]
	if left >= spent {
		s.MainTimeLeft[c] = left - spent
		return true
	}
	over := spent - left
	s.MainTimeLeft[c] = 0
	for over > 0 {
		if s.ByoyomiLeft[c] <= 0 {
			return false
		}
		s.ByoyomiLeft[c]--
		if over <= rules.ByoyomiTime {
			return true
		}
		over -= rules.ByoyomiTime
	}
	return true
}
