package game

import "time"

// EventType tags engine output events. Events are returned by apply/advance
// and dispatched by the orchestrator; mode logic never calls collaborators
// directly.
type EventType string

const (
	// EventState signals that the session snapshot changed and should be
	// broadcast to participants and spectators.
	EventState EventType = "state"
	// EventNotice is an informational message for the participants
	// (timeout fallbacks, disconnect warnings). Not an error.
	EventNotice EventType = "notice"
	// EventFoul records a timeout foul against a seat.
	EventFoul EventType = "foul"
	// EventRoundEnd marks a finished Alkkagi round.
	EventRoundEnd EventType = "round_end"
	// EventEnded marks the terminal transition; Stats is populated.
	EventEnded EventType = "ended"
)

// EndStats summarises a finished session for the reward collaborator.
type EndStats struct {
	SessionID string        `json:"session_id"`
	Mode      Mode          `json:"mode"`
	WinnerID  string        `json:"winner_id,omitempty"`
	LoserID   string        `json:"loser_id,omitempty"`
	Winner    Color         `json:"winner,omitempty"`
	Reason    WinReason     `json:"reason"`
	Rounds    int           `json:"rounds"`
	Fouls     map[Color]int `json:"fouls"`
	Duration  time.Duration `json:"duration"`
}

// Event is one engine output. SessionID is always set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Color     Color     `json:"color,omitempty"`
	Message   string    `json:"message,omitempty"`
	Stats     *EndStats `json:"stats,omitempty"`
}

// Notice builds an informational event for a session.
func Notice(sessionID, msg string) Event {
	return Event{Type: EventNotice, SessionID: sessionID, Message: msg}
}

// StateChanged builds the broadcast trigger event.
func StateChanged(sessionID string) Event {
	return Event{Type: EventState, SessionID: sessionID}
}

// EndedEvent builds the terminal event including reward stats.
func EndedEvent(s *Session, now time.Time) Event {
	stats := &EndStats{
		SessionID: s.ID,
		Mode:      s.Mode,
		Winner:    s.Winner,
		Reason:    s.WinReason,
		Fouls:     copyCountMap(s.TimeoutFouls),
		Duration:  now.Sub(s.CreatedAt),
	}
	if s.Alkkagi != nil {
		stats.Rounds = s.Alkkagi.Round
	}
	if s.Winner == ColorNone {
		// no winner (admin abort): both seats settle as a draw
		if b := s.Player(Black); b != nil {
			stats.WinnerID = b.ID
		}
		if w := s.Player(White); w != nil {
			stats.LoserID = w.ID
		}
	} else {
		if w := s.Player(s.Winner); w != nil {
			stats.WinnerID = w.ID
		}
		if l := s.Player(s.Winner.Opponent()); l != nil {
			stats.LoserID = l.ID
		}
	}
	return Event{Type: EventEnded, SessionID: s.ID, Color: s.Winner, Stats: stats}
}
