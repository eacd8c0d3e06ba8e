// Package ai fills a seat when no human occupies it. Providers only see a
// session snapshot and answer with a regular client action; the tick
// driver feeds it through the same router path as human input.
package ai

import (
	"math"
	"math/rand"
	"sync"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

// Provider produces the next action for an AI seat, or ok=false when the
// phase needs no input from it.
type Provider interface {
	NextAction(s *game.Session, seat game.Color, rules config.Rules) (game.ActionType, game.ActionPayload, bool)
}

// Baseline is a straightforward opponent: random legal placements and
// flicks aimed at the nearest enemy stone.
type Baseline struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewBaseline(seed int64) *Baseline {
	return &Baseline{rng: rand.New(rand.NewSource(seed))}
}

func (b *Baseline) NextAction(s *game.Session, seat game.Color, rules config.Rules) (game.ActionType, game.ActionPayload, bool) {
	switch s.Status {
	case game.StatusPlacement:
		if s.CurrentTurn != seat {
			return "", game.ActionPayload{}, false
		}
		return b.placement(s, seat, rules)
	case game.StatusSimulPlacement:
		if s.Alkkagi != nil && s.Alkkagi.Placed[seat] >= rules.StonesPerRound {
			return "", game.ActionPayload{}, false
		}
		return b.placement(s, seat, rules)
	case game.StatusPlaying:
		if s.CurrentTurn != seat {
			return "", game.ActionPayload{}, false
		}
		return b.flick(s, seat)
	}
	return "", game.ActionPayload{}, false
}

func (b *Baseline) placement(s *game.Session, seat game.Color, rules config.Rules) (game.ActionType, game.ActionPayload, bool) {
	r := rules.StoneRadius
	minX, maxX := r, rules.BoardWidth-r
	var minY, maxY float64
	if seat == game.Black {
		minY, maxY = r, rules.BoardHeight*0.40
	} else {
		minY, maxY = rules.BoardHeight*0.60, rules.BoardHeight-r
	}

	blocked := append([]physics.Stone(nil), s.Alkkagi.Stones...)
	if s.Alkkagi.Staged != nil {
		blocked = append(blocked, s.Alkkagi.Staged[seat]...)
	}
	for try := 0; try < 32; try++ {
		b.mu.Lock()
		pos := physics.Vec2{
			X: minX + b.rng.Float64()*(maxX-minX),
			Y: minY + b.rng.Float64()*(maxY-minY),
		}
		b.mu.Unlock()
		if !physics.Overlapping(blocked, pos, r) {
			return game.ActionPlaceStone, game.ActionPayload{X: pos.X, Y: pos.Y}, true
		}
	}
	// no free spot found; let the deadline fallback handle it
	return "", game.ActionPayload{}, false
}

func (b *Baseline) flick(s *game.Session, seat game.Color) (game.ActionType, game.ActionPayload, bool) {
	ak := s.Alkkagi
	var mine, theirs []physics.Stone
	for _, st := range ak.Stones {
		if !st.OnBoard {
			continue
		}
		if st.Owner == string(seat) {
			mine = append(mine, st)
		} else {
			theirs = append(theirs, st)
		}
	}
	if len(mine) == 0 || len(theirs) == 0 {
		return "", game.ActionPayload{}, false
	}

	// pick the closest pair and shoot through the target
	best := math.MaxFloat64
	var shooter, target physics.Stone
	for _, m := range mine {
		for _, t := range theirs {
			if d := t.Pos.Sub(m.Pos).Len(); d < best {
				best = d
				shooter, target = m, t
			}
		}
	}
	dir := target.Pos.Sub(shooter.Pos).Normalize()
	speed := 320 + best*1.8
	if speed > 880 {
		speed = 880
	}
	v := dir.Scale(speed)
	return game.ActionFlickStone, game.ActionPayload{StoneID: shooter.ID, VX: v.X, VY: v.Y}, true
}
