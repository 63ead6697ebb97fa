package render

import (
	"bufio"
	"fmt"
	"io"
)

// Cell glyphs, painted in this order so later layers win.
const (
	GlyphRoad       = '='
	GlyphEmpty      = '.'
	GlyphStop       = 'o'
	GlyphBlocked    = 'X'
	GlyphVehicle    = 'B'
	GlyphPedestrian = 'p'
	GlyphRiding     = '&' // pedestrian sharing a cell with a vehicle
)

// TextRenderer draws frames as character grids.
type TextRenderer struct {
	w io.Writer
}

func NewTextRenderer(w io.Writer) *TextRenderer { return &TextRenderer{w: w} }

func (r *TextRenderer) Render(f Frame) error {
	bw := bufio.NewWriter(r.w)
	fmt.Fprintf(bw, "--- tick %d ---\n", f.Tick)
	for _, row := range Draw(f) {
		bw.Write(row)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Draw paints f into rows indexed [y][x]. It depends on nothing but the frame.
func Draw(f Frame) [][]byte {
	rows := make([][]byte, f.Size)
	for y := range rows {
		rows[y] = make([]byte, f.Size)
		for x := range rows[y] {
			rows[y][x] = GlyphEmpty
			if y < len(f.Roads) && x < len(f.Roads[y]) && f.Roads[y][x] {
				rows[y][x] = GlyphRoad
			}
		}
	}
	put := func(x, y int, g byte) {
		if x >= 0 && y >= 0 && y < f.Size && x < f.Size {
			rows[y][x] = g
		}
	}
	for _, s := range f.Stops {
		put(s.X, s.Y, GlyphStop)
	}
	for _, b := range f.Blocked {
		put(b.X, b.Y, GlyphBlocked)
	}
	for _, v := range f.Vehicles {
		put(v.Position.X, v.Position.Y, GlyphVehicle)
	}
	for _, p := range f.Pedestrians {
		g := byte(GlyphPedestrian)
		if p.Position.Y >= 0 && p.Position.Y < f.Size && p.Position.X >= 0 && p.Position.X < f.Size {
			if c := rows[p.Position.Y][p.Position.X]; c == GlyphVehicle || c == GlyphRiding {
				g = GlyphRiding
			}
		}
		put(p.Position.X, p.Position.Y, g)
	}
	return rows
}
