package game

import (
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

// Color identifies a seat. ColorNone is used for simultaneous phases.
type Color string

const (
	Black     Color = "black"
	White     Color = "white"
	ColorNone Color = "none"
)

func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return ColorNone
}

// Mode selects the rule set a session runs under.
type Mode string

const (
	ModeAlkkagi Mode = "alkkagi"
)

// Status is the closed set of session phases. A session has exactly one
// status at any time and the status decides which optional payload fields
// are authoritative.
type Status string

const (
	StatusTurnOrder      Status = "TURN_ORDER"
	StatusPregameConfirm Status = "PREGAME_CONFIRM"
	StatusPlacement      Status = "ALKKAGI_PLACEMENT"
	StatusSimulPlacement Status = "ALKKAGI_SIMUL_PLACEMENT"
	StatusPlaying        Status = "ALKKAGI_PLAYING"
	StatusAnimating      Status = "ALKKAGI_ANIMATING"
	StatusRoundEnd       Status = "ALKKAGI_ROUND_END"
	StatusEnded          Status = "ENDED"
)

// WinReason records why a session ended. Set exactly once.
type WinReason string

const (
	WinAlkkagi    WinReason = "alkkagi_win"
	WinTimeout    WinReason = "timeout"
	WinDisconnect WinReason = "disconnect"
	WinResign     WinReason = "resign"
	WinAdmin      WinReason = "admin_abort"
	WinNone       WinReason = ""
)

// ItemType is a one-shot consumable usable during play.
type ItemType string

const (
	ItemSlow ItemType = "slow"
	ItemAim  ItemType = "aim"
)

// ActionType is the closed set of client action names.
type ActionType string

const (
	ActionPickTurnOrder ActionType = "pick_turn_order"
	ActionConfirm       ActionType = "confirm"
	ActionPlaceStone    ActionType = "place_stone"
	ActionFlickStone    ActionType = "flick_stone"
	ActionUseItem       ActionType = "use_item"
	ActionResign        ActionType = "resign"
	ActionAdminAbort    ActionType = "admin_abort"
)

// Player is one seat in a session.
type Player struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	IsAI           bool             `json:"is_ai,omitempty"`
	Connected      bool             `json:"connected"`
	Items          map[ItemType]int `json:"items,omitempty"`
	ActiveItems    map[ItemType]bool `json:"active_items,omitempty"`
}

// Move is an append-only history entry. Never mutated once written.
type Move struct {
	Color   Color      `json:"color"`
	Action  ActionType `json:"action"`
	X       float64    `json:"x,omitempty"`
	Y       float64    `json:"y,omitempty"`
	VX      float64    `json:"vx,omitempty"`
	VY      float64    `json:"vy,omitempty"`
	StoneID int        `json:"stone_id,omitempty"`
	At      time.Time  `json:"at"`
}

// TurnOrderMethod selects how Black/White get assigned.
type TurnOrderMethod string

const (
	OrderPreference TurnOrderMethod = "preference"
	OrderRPS        TurnOrderMethod = "rps"
	OrderGuess      TurnOrderMethod = "guess"
	OrderDice       TurnOrderMethod = "dice"
)

// TurnOrderState carries the turn-order mini-game. Present only while
// Status == StatusTurnOrder.
type TurnOrderState struct {
	Method TurnOrderMethod   `json:"method"`
	Picks  map[string]string `json:"picks"` // seat key -> submitted input
}

// ConfirmState tracks a two-sided acknowledgement (pre-game or round end).
type ConfirmState struct {
	Confirmed map[Color]bool `json:"confirmed"`
}

// DisconnectState is present while a seat is inside its grace window.
type DisconnectState struct {
	Color    Color     `json:"color"`
	Since    time.Time `json:"since"`
	Deadline time.Time `json:"deadline"`
}

// AlkkagiState is the mode payload for ModeAlkkagi sessions. Meaningful
// only when Session.Mode == ModeAlkkagi.
type AlkkagiState struct {
	Stones []physics.Stone `json:"stones"`

	// Placements staged during simultaneous placement, merged once on
	// phase exit.
	Staged map[Color][]physics.Stone `json:"staged,omitempty"`

	Placed      map[Color]int `json:"placed"`
	Round       int           `json:"round"`
	RoundWins   map[Color]int `json:"round_wins"`
	PlacesFirst Color         `json:"places_first"`
	NextStoneID int           `json:"next_stone_id"`

	// AnimationDoneAt holds the end of the post-simulation grace window
	// while Status == StatusAnimating.
	AnimationDoneAt *time.Time `json:"animation_done_at,omitempty"`
}

// ProcessingGuard is the visible record of the per-session mutation token.
type ProcessingGuard struct {
	ActorID string    `json:"actor_id"`
	Since   time.Time `json:"since"`
}

// Settings is what a negotiation agrees on before a session exists.
type Settings struct {
	Mode            Mode            `json:"mode"`
	Preset          string          `json:"preset"`
	ColorPreference Color           `json:"color_preference,omitempty"` // challenger's wish
	TurnOrderMethod TurnOrderMethod `json:"turn_order_method,omitempty"`
	AIOpponent      bool            `json:"ai_opponent,omitempty"`
}
