package sim

import (
	"math/rand"
	"slices"

	"gridtransit/internal/grid"
)

// Status is the boarding status the stop path checks. Advance only ever
// assigns StatusWaiting; StatusEnRoute exists for callers that hold a vehicle
// back from stop-side boarding.
type Status int

const (
	StatusWaiting Status = iota
	StatusEnRoute
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusEnRoute:
		return "en-route"
	}
	return "unknown"
}

// Vehicle follows a cyclic list of stops one cell at a time.
type Vehicle struct {
	ID       int
	Route    []grid.Point
	NextStop int
	Position grid.Point
	Manifest []*Pedestrian
	Status   Status
	Moving   bool // committed a move since its last arrival
}

func NewVehicle(id int, route []grid.Point, start grid.Point) *Vehicle {
	return &Vehicle{
		ID:       id,
		Route:    slices.Clone(route),
		Position: start,
		Status:   StatusWaiting,
	}
}

// Target is the stop the vehicle is currently heading for.
func (v *Vehicle) Target() grid.Point { return v.Route[v.NextStop] }

// VehicleReport describes one Advance call.
type VehicleReport struct {
	Moves     int
	Arrived   bool // reached Target and moved the index on
	Completed bool // the arrival wrapped the route back to stop 0
	BoxedIn   int
}

// Advance spends up to steps single-cell moves toward the current target. An
// arrival at the target ends the call regardless of the budget left.
func (v *Vehicle) Advance(w *grid.World, steps int, rng *rand.Rand) VehicleReport {
	var rep VehicleReport
	if len(v.Route) == 0 {
		return rep
	}
	for i := 0; i < steps; i++ {
		if v.Position == v.Target() {
			v.NextStop = (v.NextStop + 1) % len(v.Route)
			rep.Arrived = true
			v.Moving = false
			if v.NextStop == 0 {
				v.Status = StatusWaiting
				rep.Completed = true
			}
			break
		}
		next, boxed := w.Move(v.Position, v.Target(), rng)
		if boxed {
			rep.BoxedIn++
			continue
		}
		v.Position = next
		v.Moving = true
		rep.Moves++
	}
	return rep
}

// Board links p to v. Boarding twice is a no-op.
func (v *Vehicle) Board(p *Pedestrian) {
	if v.Carries(p) {
		return
	}
	v.Manifest = append(v.Manifest, p)
	p.Boarded = true
	p.Vehicle = v
	p.BoardedAt = p.Position
}

// Disembark unlinks p from the manifest. p keeps its boarded flag and
// vehicle reference; it is simply no longer carried.
func (v *Vehicle) Disembark(p *Pedestrian) bool {
	i := slices.Index(v.Manifest, p)
	if i < 0 {
		return false
	}
	v.Manifest = slices.Delete(v.Manifest, i, i+1)
	return true
}

func (v *Vehicle) Carries(p *Pedestrian) bool { return slices.Contains(v.Manifest, p) }
