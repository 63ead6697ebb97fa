package sim

import (
	"math/rand"

	"gridtransit/internal/grid"
)

// Pedestrian walks greedily toward Destination unless it rides a vehicle.
type Pedestrian struct {
	ID          int
	Origin      grid.Point
	Destination grid.Point
	Position    grid.Point

	Boarded   bool
	Vehicle   *Vehicle   // not owned; set on boarding
	BoardedAt grid.Point // (-1,-1) until boarding

	FootSteps    int
	VehicleSteps int
}

func NewPedestrian(id int, origin, destination grid.Point) *Pedestrian {
	return &Pedestrian{
		ID:          id,
		Origin:      origin,
		Destination: destination,
		Position:    origin,
		BoardedAt:   grid.Point{X: -1, Y: -1},
	}
}

func (p *Pedestrian) Arrived() bool { return p.Position == p.Destination }

// Riding reports whether p is currently on a vehicle's manifest.
func (p *Pedestrian) Riding() bool { return p.Vehicle != nil && p.Vehicle.Carries(p) }

type PedestrianReport struct {
	BoardedOn *Vehicle
	Walked    bool
	BoxedIn   bool
}

// Advance moves p by at most one cell. When rule is non-nil and p stands on a
// bus stop shared with a vehicle the rule admits, p boards one of them at
// random instead of walking.
func (p *Pedestrian) Advance(w *grid.World, vehicles []*Vehicle, rule BoardingRule, rng *rand.Rand) PedestrianReport {
	var rep PedestrianReport
	if p.Arrived() {
		return rep
	}
	if p.Boarded {
		p.VehicleSteps++
		return rep
	}
	if rule != nil && w.IsBusStop(p.Position) {
		if v := pickVehicle(rng, vehiclesAt(vehicles, p.Position, rule)); v != nil {
			v.Board(p)
			p.VehicleSteps++
			rep.BoardedOn = v
			return rep
		}
	}

	p.FootSteps++
	next, boxed := w.Move(p.Position, p.Destination, rng)
	if boxed {
		rep.BoxedIn = true
		return rep
	}
	p.Position = next
	rep.Walked = true
	return rep
}
