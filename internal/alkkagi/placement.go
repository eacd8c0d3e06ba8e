package alkkagi

import (
	"time"

	"github.com/kapu/alkkagi-arena-go/internal/config"
	"github.com/kapu/alkkagi-arena-go/internal/game"
	"github.com/kapu/alkkagi-arena-go/internal/physics"
)

func (h *Handler) startPlacement(s *game.Session, now time.Time, rules config.Rules) {
	ak := s.Alkkagi
	ak.Placed = map[game.Color]int{game.Black: 0, game.White: 0}
	s.Confirm = nil
	if rules.SimultaneousPlacement {
		s.Status = game.StatusSimulPlacement
		s.CurrentTurn = game.ColorNone
		ak.Staged = map[game.Color][]physics.Stone{}
	} else {
		s.Status = game.StatusPlacement
		s.CurrentTurn = ak.PlacesFirst
	}
	s.SetDeadline(now.Add(rules.PlacementTimeout))
	s.UpdatedAt = now
}

// zoneFor is the legal placement band for a seat, inset by the stone
// radius on every edge.
func zoneFor(c game.Color, rules config.Rules) (minX, maxX, minY, maxY float64) {
	r := rules.StoneRadius
	minX, maxX = r, rules.BoardWidth-r
	if c == game.Black {
		minY, maxY = r, rules.BoardHeight*blackZoneMax
	} else {
		minY, maxY = rules.BoardHeight*whiteZoneMin, rules.BoardHeight-r
	}
	return
}

func inZone(c game.Color, pos physics.Vec2, rules config.Rules) bool {
	minX, maxX, minY, maxY := zoneFor(c, rules)
	return pos.X >= minX && pos.X <= maxX && pos.Y >= minY && pos.Y <= maxY
}

// blockedBy collects every stone a new placement must clear: the shared
// on-board set plus, during simultaneous placement, the actor's own staged
// stones. Opponent staging stays hidden until the merge.
func blockedBy(s *game.Session, c game.Color) []physics.Stone {
	stones := append([]physics.Stone(nil), s.Alkkagi.Stones...)
	if s.Alkkagi.Staged != nil {
		stones = append(stones, s.Alkkagi.Staged[c]...)
	}
	return stones
}

func (h *Handler) handlePlace(s *game.Session, actor game.Color, p game.ActionPayload, now time.Time, rules config.Rules) ([]game.Event, error) {
	ak := s.Alkkagi
	pos := physics.Vec2{X: p.X, Y: p.Y}

	switch s.Status {
	case game.StatusPlacement:
		if actor != s.CurrentTurn {
			return nil, ErrNotYourTurn
		}
	case game.StatusSimulPlacement:
		// both seats act independently
	default:
		return nil, ErrNotApplicable
	}

	if ak.Placed[actor] >= rules.StonesPerRound {
		return nil, ErrQuotaExhausted
	}
	if !inZone(actor, pos, rules) {
		return nil, ErrIllegalPlace
	}
	if physics.Overlapping(blockedBy(s, actor), pos, rules.StoneRadius) {
		return nil, ErrIllegalPlace
	}

	stone := physics.Stone{
		ID:      ak.NextStoneID,
		Owner:   string(actor),
		Pos:     pos,
		Radius:  rules.StoneRadius,
		OnBoard: true,
	}
	ak.NextStoneID++
	ak.Placed[actor]++
	s.AppendMove(game.Move{
		Color:   actor,
		Action:  game.ActionPlaceStone,
		X:       pos.X,
		Y:       pos.Y,
		StoneID: stone.ID,
		At:      now,
	})

	if s.Status == game.StatusSimulPlacement {
		ak.Staged[actor] = append(ak.Staged[actor], stone)
		s.UpdatedAt = now
		if ak.Placed[game.Black] >= rules.StonesPerRound && ak.Placed[game.White] >= rules.StonesPerRound {
			h.mergeStaged(s, now, rules)
			h.startPlaying(s, now, rules)
		}
		return nil, nil
	}

	ak.Stones = append(ak.Stones, stone)
	s.UpdatedAt = now

	bothDone := ak.Placed[game.Black] >= rules.StonesPerRound && ak.Placed[game.White] >= rules.StonesPerRound
	if bothDone {
		h.startPlaying(s, now, rules)
		return nil, nil
	}

	// alternate unless the opponent already finished their quota
	next := actor.Opponent()
	if ak.Placed[next] >= rules.StonesPerRound {
		next = actor
	}
	s.CurrentTurn = next
	s.SetDeadline(now.Add(rules.PlacementTimeout))
	return nil, nil
}

// mergeStaged moves both staging areas into the shared collection exactly
// once. Cross-color overlaps (legal while staging was hidden) are pushed
// apart deterministically.
func (h *Handler) mergeStaged(s *game.Session, now time.Time, rules config.Rules) {
	ak := s.Alkkagi
	for _, c := range []game.Color{game.Black, game.White} {
		ak.Stones = append(ak.Stones, ak.Staged[c]...)
	}
	ak.Staged = nil
	deoverlap(ak.Stones)
	s.UpdatedAt = now
}

// deoverlap separates intersecting circles by positional correction only.
// Bounded passes; placement zones keep colors far apart so this settles
// immediately in practice.
func deoverlap(stones []physics.Stone) {
	for pass := 0; pass < 8; pass++ {
		moved := false
		for i := range stones {
			for j := i + 1; j < len(stones); j++ {
				a, b := &stones[i], &stones[j]
				delta := b.Pos.Sub(a.Pos)
				dist := delta.Len()
				minDist := a.Radius + b.Radius
				if dist >= minDist {
					continue
				}
				n := delta.Normalize()
				if dist == 0 {
					n = physics.Vec2{X: 1}
				}
				shift := (minDist - dist) / 2
				a.Pos = a.Pos.Sub(n.Scale(shift))
				b.Pos = b.Pos.Add(n.Scale(shift))
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

func (h *Handler) startPlaying(s *game.Session, now time.Time, rules config.Rules) {
	s.Status = game.StatusPlaying
	s.CurrentTurn = game.Black
	s.SetDeadline(now.Add(rules.FlickTimeout))
	s.UpdatedAt = now
}

// randomPlacement finds a legal spot for the seat, trying random samples
// first and falling back to a coarse grid sweep so the fallback can never
// fail on a board with free space.
func (h *Handler) randomPlacement(s *game.Session, c game.Color, rules config.Rules) (physics.Vec2, bool) {
	minX, maxX, minY, maxY := zoneFor(c, rules)
	blocked := blockedBy(s, c)
	for try := 0; try < 64; try++ {
		pos := physics.Vec2{
			X: minX + h.float64n()*(maxX-minX),
			Y: minY + h.float64n()*(maxY-minY),
		}
		if !physics.Overlapping(blocked, pos, rules.StoneRadius) {
			return pos, true
		}
	}
	step := rules.StoneRadius * 2.1
	for y := minY; y <= maxY; y += step {
		for x := minX; x <= maxX; x += step {
			pos := physics.Vec2{X: x, Y: y}
			if !physics.Overlapping(blocked, pos, rules.StoneRadius) {
				return pos, true
			}
		}
	}
	return physics.Vec2{}, false
}

// placeRandomly applies the timeout fallback placement for a seat.
func (h *Handler) placeRandomly(s *game.Session, c game.Color, now time.Time, rules config.Rules) bool {
	pos, ok := h.randomPlacement(s, c, rules)
	if !ok {
		return false
	}
	ak := s.Alkkagi
	stone := physics.Stone{
		ID:      ak.NextStoneID,
		Owner:   string(c),
		Pos:     pos,
		Radius:  rules.StoneRadius,
		OnBoard: true,
	}
	ak.NextStoneID++
	ak.Placed[c]++
	if s.Status == game.StatusSimulPlacement {
		ak.Staged[c] = append(ak.Staged[c], stone)
	} else {
		ak.Stones = append(ak.Stones, stone)
	}
	s.AppendMove(game.Move{
		Color:   c,
		Action:  game.ActionPlaceStone,
		X:       pos.X,
		Y:       pos.Y,
		StoneID: stone.ID,
		At:      now,
	})
	s.UpdatedAt = now
	return true
}
