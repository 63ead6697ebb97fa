package grid

import "math/rand"

// StepToward returns the cell one unit from p toward target. The X axis is
// always closed first; diagonal steps never happen.
func StepToward(p, target Point) Point {
	dx := target.X - p.X
	dy := target.Y - p.Y
	switch {
	case dx != 0:
		p.X += sign(dx)
	case dy != 0:
		p.Y += sign(dy)
	}
	return p
}

// FallbackCandidates lists the passable cells of the 3×3 neighborhood around p,
// p included, ordered by x then y.
func (w *World) FallbackCandidates(p Point) []Point {
	var out []Point
	for x := p.X - 1; x <= p.X+1; x++ {
		for y := p.Y - 1; y <= p.Y+1; y++ {
			c := Point{x, y}
			if w.Passable(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// Move takes one greedy step from p toward target. When that cell is out of
// bounds or blocked it jumps to a random passable neighbor instead. boxedIn is
// true when no neighbor qualified and p is returned unchanged.
func (w *World) Move(p, target Point, rng *rand.Rand) (next Point, boxedIn bool) {
	if step := StepToward(p, target); w.Passable(step) {
		return step, false
	}
	cands := w.FallbackCandidates(p)
	if len(cands) == 0 {
		return p, true
	}
	return cands[rng.Intn(len(cands))], false
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
