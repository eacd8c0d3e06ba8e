// Package physics is the deterministic rigid-body resolver for flick-based
// modes. Simulation is fixed-step with a hard iteration bound; it reads no
// clock and performs no I/O, so identical inputs always produce identical
// results.
package physics

import "math"

// Vec2 is a 2D vector.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2      { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2      { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Dot(o Vec2) float64   { return v.X*o.X + v.Y*o.Y }
func (v Vec2) Len() float64         { return math.Hypot(v.X, v.Y) }

// Normalize returns the unit vector, or zero for a zero-length input.
func (v Vec2) Normalize() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Stone is one physical piece. Owner is the seat color string; the engine
// never shares stones across sessions.
type Stone struct {
	ID      int     `json:"id"`
	Owner   string  `json:"owner"`
	Pos     Vec2    `json:"pos"`
	Vel     Vec2    `json:"vel"`
	Radius  float64 `json:"radius"`
	OnBoard bool    `json:"on_board"`
}

// Board is the playable rectangle, origin at the top-left corner.
type Board struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether a point lies inside the board rectangle.
func (b Board) Contains(p Vec2) bool {
	return p.X >= 0 && p.X <= b.Width && p.Y >= 0 && p.Y <= b.Height
}

// Impulse is the initial velocity a flick imparts to one stone.
type Impulse struct {
	StoneID int  `json:"stone_id"`
	V       Vec2 `json:"v"`
}

// Outcome is the result of a completed simulation.
type Outcome struct {
	Stones     []Stone
	Iterations int
	KnockedOut []int // ids that left the board this pass, in order
}

const (
	// MaxIterations bounds the integration loop against numerical
	// non-convergence.
	MaxIterations = 600

	timeStep    = 1.0 / 60.0
	friction    = 0.98
	restitution = 0.92
	stopSpeed   = 0.6 // speeds below this snap to exactly zero
)

// Simulate applies the impulse and integrates until every stone is
// stationary or MaxIterations is reached. The input slice is not mutated.
func Simulate(board Board, stones []Stone, imp Impulse) Outcome {
	out := Outcome{Stones: append([]Stone(nil), stones...)}

	for i := range out.Stones {
		if out.Stones[i].ID == imp.StoneID && out.Stones[i].OnBoard {
			out.Stones[i].Vel = imp.V
		}
	}

	for out.Iterations = 0; out.Iterations < MaxIterations; out.Iterations++ {
		if !anyMoving(out.Stones) {
			break
		}
		step(board, out.Stones, &out.KnockedOut)
	}

	// Safety bound hit: freeze whatever is still moving so the outcome is
	// stationary regardless.
	for i := range out.Stones {
		out.Stones[i].Vel = Vec2{}
	}
	return out
}

func anyMoving(stones []Stone) bool {
	for i := range stones {
		if stones[i].OnBoard && (stones[i].Vel.X != 0 || stones[i].Vel.Y != 0) {
			return true
		}
	}
	return false
}

func step(board Board, stones []Stone, knockedOut *[]int) {
	// integrate + friction + snap
	for i := range stones {
		s := &stones[i]
		if !s.OnBoard {
			continue
		}
		s.Pos = s.Pos.Add(s.Vel.Scale(timeStep))
		s.Vel = s.Vel.Scale(friction)
		if s.Vel.Len() < stopSpeed {
			s.Vel = Vec2{}
		}
	}

	// pairwise circle-circle collisions among on-board stones
	for i := 0; i < len(stones); i++ {
		if !stones[i].OnBoard {
			continue
		}
		for j := i + 1; j < len(stones); j++ {
			if !stones[j].OnBoard {
				continue
			}
			collide(&stones[i], &stones[j])
		}
	}

	// knockout: center outside the rectangle removes the stone for good
	for i := range stones {
		s := &stones[i]
		if s.OnBoard && !board.Contains(s.Pos) {
			s.OnBoard = false
			s.Vel = Vec2{}
			*knockedOut = append(*knockedOut, s.ID)
		}
	}
}

// collide resolves one equal-mass circle pair: impulse exchange along the
// contact normal plus positional de-overlap.
func collide(a, b *Stone) {
	delta := b.Pos.Sub(a.Pos)
	dist := delta.Len()
	minDist := a.Radius + b.Radius
	if dist >= minDist {
		return
	}

	var n Vec2
	if dist == 0 {
		// coincident centers: pick a fixed axis to stay deterministic
		n = Vec2{1, 0}
		dist = 1e-9
	} else {
		n = delta.Scale(1 / dist)
	}

	// de-overlap, split evenly
	overlap := minDist - dist
	a.Pos = a.Pos.Sub(n.Scale(overlap / 2))
	b.Pos = b.Pos.Add(n.Scale(overlap / 2))

	// approaching along the normal?
	closing := a.Vel.Sub(b.Vel).Dot(n)
	if closing <= 0 {
		return
	}
	j := (1 + restitution) * closing / 2
	a.Vel = a.Vel.Sub(n.Scale(j))
	b.Vel = b.Vel.Add(n.Scale(j))
}

// Overlapping reports whether a circle at pos would sit closer than the
// sum of radii to any on-board stone. Used for placement legality.
func Overlapping(stones []Stone, pos Vec2, radius float64) bool {
	for i := range stones {
		s := &stones[i]
		if !s.OnBoard {
			continue
		}
		if s.Pos.Sub(pos).Len() < s.Radius+radius {
			return true
		}
	}
	return false
}
