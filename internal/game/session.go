package game

import (
	"errors"
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

var ErrAlreadyEnded = errors.New("session already ended")

// Session is the aggregate root for one live match. All mutation goes
// through the action router or the tick driver while the per-session
// guard is held; a session with Status == StatusEnded is immutable.
type Session struct {
	ID     string `json:"id"`
	Mode   Mode   `json:"mode"`
	Preset string `json:"preset"`
	Status Status `json:"status"`

	Players     map[Color]*Player `json:"players"`
	CurrentTurn Color             `json:"current_turn"`

	MainTimeLeft map[Color]time.Duration `json:"main_time_left"`
	ByoyomiLeft  map[Color]int           `json:"byoyomi_left"`
	Deadline     *time.Time              `json:"deadline,omitempty"`

	Moves []Move `json:"moves"`

	Winner    Color     `json:"winner,omitempty"`
	WinReason WinReason `json:"win_reason,omitempty"`

	TimeoutFouls     map[Color]int `json:"timeout_fouls"`
	DisconnectCounts map[Color]int `json:"disconnect_counts"`

	TurnOrder  *TurnOrderState  `json:"turn_order,omitempty"`
	Confirm    *ConfirmState    `json:"confirm,omitempty"`
	Disconnect *DisconnectState `json:"disconnect,omitempty"`
	Alkkagi    *AlkkagiState    `json:"alkkagi,omitempty"`

	Processing *ProcessingGuard `json:"processing,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession builds a fresh session in the turn-order phase (or straight
// into placement when one seat is AI and a color preference is fixed).
func NewSession(id string, set Settings, rules config.Rules, black, white Player, now time.Time) *Session {
	seed := func(p Player) *Player {
		cp := p
		cp.Connected = true
		if cp.Items == nil {
			cp.Items = map[ItemType]int{
				ItemSlow: rules.BaseItemCount,
				ItemAim:  rules.BaseItemCount,
			}
		}
		cp.ActiveItems = make(map[ItemType]bool)
		return &cp
	}

	s := &Session{
		ID:     id,
		Mode:   set.Mode,
		Preset: set.Preset,
		Players: map[Color]*Player{
			Black: seed(black),
			White: seed(white),
		},
		CurrentTurn: ColorNone,
		MainTimeLeft: map[Color]time.Duration{
			Black: rules.MainTime,
			White: rules.MainTime,
		},
		ByoyomiLeft: map[Color]int{
			Black: rules.ByoyomiPeriods,
			White: rules.ByoyomiPeriods,
		},
		Moves:            []Move{},
		TimeoutFouls:     map[Color]int{Black: 0, White: 0},
		DisconnectCounts: map[Color]int{Black: 0, White: 0},
		Confirm:          &ConfirmState{Confirmed: map[Color]bool{}},
		Alkkagi: &AlkkagiState{
			Stones:      []physics.Stone{},
			Placed:      map[Color]int{Black: 0, White: 0},
			Round:       1,
			RoundWins:   map[Color]int{Black: 0, White: 0},
			PlacesFirst: Black,
			NextStoneID: 1,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Colors fixed up front (direct choice or AI shortcut) skip the
	// turn-order mini-game and go straight to the pre-game handshake.
	if set.AIOpponent || set.ColorPreference == Black || set.ColorPreference == White {
		s.Status = StatusPregameConfirm
		s.SetDeadline(now.Add(rules.ConfirmTimeout))
		return s
	}

	method := set.TurnOrderMethod
	if method == "" {
		method = OrderRPS
	}
	s.Status = StatusTurnOrder
	s.TurnOrder = &TurnOrderState{Method: method, Picks: map[string]string{}}
	s.Confirm = nil
	s.SetDeadline(now.Add(rules.TurnOrderTimeout))
	return s
}

// SwapSeats exchanges the two players between Black and White. Only legal
// before any per-color state diverges (turn-order phase).
func (s *Session) SwapSeats() {
	s.Players[Black], s.Players[White] = s.Players[White], s.Players[Black]
}

// PlayerColor returns the seat for a user id, or ColorNone.
func (s *Session) PlayerColor(userID string) Color {
	for c, p := range s.Players {
		if p != nil && p.ID == userID {
			return c
		}
	}
	return ColorNone
}

// Player returns the seat occupant, nil for ColorNone.
func (s *Session) Player(c Color) *Player {
	if s.Players == nil {
		return nil
	}
	return s.Players[c]
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool { return s.Status == StatusEnded }

// End transitions to the terminal state. Winner/WinReason are written
// exactly once; a second call is rejected.
func (s *Session) End(winner Color, reason WinReason, now time.Time) error {
	if s.Ended() {
		return ErrAlreadyEnded
	}
	s.Status = StatusEnded
	s.Winner = winner
	s.WinReason = reason
	s.CurrentTurn = ColorNone
	s.Deadline = nil
	s.TurnOrder = nil
	s.Confirm = nil
	s.Disconnect = nil
	s.UpdatedAt = now
	return nil
}

// AppendMove records a history entry. History is append-only.
func (s *Session) AppendMove(m Move) {
	s.Moves = append(s.Moves, m)
}

// SetDeadline replaces the current phase deadline.
func (s *Session) SetDeadline(t time.Time) {
	cp := t
	s.Deadline = &cp
}

// DeadlinePassed reports whether the phase deadline elapsed by now.
func (s *Session) DeadlinePassed(now time.Time) bool {
	return s.Deadline != nil && now.After(*s.Deadline)
}

// Clone returns a deep copy. Handlers mutate the copy and the caller
// swaps it in only on success, keeping transitions all-or-nothing.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Players = make(map[Color]*Player, len(s.Players))
	for c, p := range s.Players {
		if p == nil {
			continue
		}
		pc := *p
		pc.Items = copyIntMap(p.Items)
		pc.ActiveItems = copyBoolMap(p.ActiveItems)
		cp.Players[c] = &pc
	}
	cp.MainTimeLeft = copyDurMap(s.MainTimeLeft)
	cp.ByoyomiLeft = copyCountMap(s.ByoyomiLeft)
	cp.TimeoutFouls = copyCountMap(s.TimeoutFouls)
	cp.DisconnectCounts = copyCountMap(s.DisconnectCounts)
	cp.Moves = append([]Move(nil), s.Moves...)
	if s.Deadline != nil {
		d := *s.Deadline
		cp.Deadline = &d
	}
	if s.TurnOrder != nil {
		to := *s.TurnOrder
		to.Picks = make(map[string]string, len(s.TurnOrder.Picks))
		for k, v := range s.TurnOrder.Picks {
			to.Picks[k] = v
		}
		cp.TurnOrder = &to
	}
	if s.Confirm != nil {
		cf := *s.Confirm
		cf.Confirmed = copyBoolColorMap(s.Confirm.Confirmed)
		cp.Confirm = &cf
	}
	if s.Disconnect != nil {
		dc := *s.Disconnect
		cp.Disconnect = &dc
	}
	if s.Alkkagi != nil {
		ak := *s.Alkkagi
		ak.Stones = append([]physics.Stone(nil), s.Alkkagi.Stones...)
		if s.Alkkagi.Staged != nil {
			ak.Staged = make(map[Color][]physics.Stone, len(s.Alkkagi.Staged))
			for c, st := range s.Alkkagi.Staged {
				ak.Staged[c] = append([]physics.Stone(nil), st...)
			}
		}
		ak.Placed = copyCountMap(s.Alkkagi.Placed)
		ak.RoundWins = copyCountMap(s.Alkkagi.RoundWins)
		if s.Alkkagi.AnimationDoneAt != nil {
			t := *s.Alkkagi.AnimationDoneAt
			ak.AnimationDoneAt = &t
		}
		cp.Alkkagi = &ak
	}
	if s.Processing != nil {
		g := *s.Processing
		cp.Processing = &g
	}
	return &cp
}

func copyIntMap(m map[ItemType]int) map[ItemType]int {
	if m == nil {
		return nil
	}
	out := make(map[ItemType]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolMap(m map[ItemType]bool) map[ItemType]bool {
	if m == nil {
		return nil
	}
	out := make(map[ItemType]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolColorMap(m map[Color]bool) map[Color]bool {
	if m == nil {
		return nil
	}
	out := make(map[Color]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCountMap(m map[Color]int) map[Color]int {
	if m == nil {
		return nil
	}
	out := make(map[Color]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyDurMap(m map[Color]time.Duration) map[Color]time.Duration {
	if m == nil {
		return nil
	}
	out := make(map[Color]time.Duration, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
