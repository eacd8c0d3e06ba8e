package negotiation

import (
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/game"
)

// Status is the negotiation lifecycle. A negotiation never survives its
// resolution: accept, decline, and expiry all delete it.
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusPending Status = "PENDING"
)

// Negotiation is the ephemeral pre-session handshake record.
type Negotiation struct {
	ID             string        `json:"id"`
	ChallengerID   string        `json:"challenger_id"`
	ChallengerName string        `json:"challenger_name"`
	OpponentID     string        `json:"opponent_id"`
	OpponentName   string        `json:"opponent_name"`
	Settings       game.Settings `json:"settings"`

	// ProposerID is whoever made the last offer; the other side must act.
	ProposerID string    `json:"proposer_id"`
	Status     Status    `json:"status"`
	Deadline   time.Time `json:"deadline"`
	CreatedAt  time.Time `json:"created_at"`
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

var (
	ErrInvalidArgs    = staticErr("invalid arguments")
	ErrSelfChallenge  = staticErr("cannot challenge yourself")
	ErrAlreadyPending = staticErr("opponent already has a pending negotiation")
	ErrNotFound       = staticErr("negotiation not found")
	ErrNotYourTurn    = staticErr("not your turn to act on this negotiation")
	ErrExpired        = staticErr("negotiation deadline passed")
	ErrNotParticipant = staticErr("user is not part of this negotiation")
)
