package grid

import (
	"fmt"

	"github.com/samber/lo"
)

// Point is a cell coordinate on the grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// World is the size×size city grid shared by every agent.
type World struct {
	Size    int
	Roads   [][]bool // decorative only, indexed [y][x]
	Stops   []Point  // ordered, duplicates allowed
	Blocked map[Point]struct{}
}

func NewWorld(size int) *World {
	roads := make([][]bool, size)
	for y := range roads {
		roads[y] = make([]bool, size)
	}
	return &World{
		Size:    size,
		Roads:   roads,
		Blocked: make(map[Point]struct{}),
	}
}

func (w *World) InBounds(p Point) bool {
	return p.X >= 0 && p.X < w.Size && p.Y >= 0 && p.Y < w.Size
}

func (w *World) IsBlocked(p Point) bool {
	_, ok := w.Blocked[p]
	return ok
}

func (w *World) IsBusStop(p Point) bool { return lo.Contains(w.Stops, p) }

// Passable reports whether an agent may stand on p.
func (w *World) Passable(p Point) bool { return w.InBounds(p) && !w.IsBlocked(p) }

// Block marks p as impassable. Only meant for scenario setup.
func (w *World) Block(p Point) error {
	if !w.InBounds(p) {
		return fmt.Errorf("blocked cell %s outside %dx%d grid", p, w.Size, w.Size)
	}
	w.Blocked[p] = struct{}{}
	return nil
}

// AddStop appends a bus stop. Duplicates are kept.
func (w *World) AddStop(p Point) error {
	if !w.InBounds(p) {
		return fmt.Errorf("bus stop %s outside %dx%d grid", p, w.Size, w.Size)
	}
	w.Stops = append(w.Stops, p)
	return nil
}

// BlockedCells returns the blocked set in row-major order.
func (w *World) BlockedCells() []Point {
	out := make([]Point, 0, len(w.Blocked))
	for y := 0; y < w.Size; y++ {
		for x := 0; x < w.Size; x++ {
			if w.IsBlocked(Point{x, y}) {
				out = append(out, Point{x, y})
			}
		}
	}
	return out
}
