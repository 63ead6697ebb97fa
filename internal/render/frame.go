package render

import "gridtransit/internal/grid"

// Frame is the renderable state of one tick. It holds copies only, so sinks
// may keep or serialize it after the simulation moves on.
type Frame struct {
	RunID       string            `json:"runId"`
	Tick        int               `json:"tick"`
	Size        int               `json:"size"`
	Roads       [][]bool          `json:"roads"`
	Stops       []grid.Point      `json:"stops"`
	Blocked     []grid.Point      `json:"blocked"`
	Vehicles    []VehicleState    `json:"vehicles"`
	Pedestrians []PedestrianState `json:"pedestrians"`
}

type VehicleState struct {
	ID         int        `json:"id"`
	Position   grid.Point `json:"position"`
	NextStop   int        `json:"nextStop"`
	Status     string     `json:"status"`
	Moving     bool       `json:"moving"`
	Passengers int        `json:"passengers"`
}

type PedestrianState struct {
	ID          int        `json:"id"`
	Position    grid.Point `json:"position"`
	Destination grid.Point `json:"destination"`
	Boarded     bool       `json:"boarded"`
	VehicleID   int        `json:"vehicleId,omitempty"`
	Arrived     bool       `json:"arrived"`
}

// Renderer consumes one frame per tick.
type Renderer interface {
	Render(f Frame) error
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(f Frame) error

func (fn RendererFunc) Render(f Frame) error { return fn(f) }
