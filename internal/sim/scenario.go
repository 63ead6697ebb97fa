package sim

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"slices"

	"gridtransit/internal/grid"
)

type VehicleSpec struct {
	ID    int
	Start grid.Point
	Route []grid.Point
}

type PedestrianSpec struct {
	ID          int
	Origin      grid.Point
	Destination grid.Point
}

// Layout is the static description a run starts from, whether generated or
// loaded from a scenario store.
type Layout struct {
	Size        int
	Roads       [][]bool // optional, indexed [y][x]
	Stops       []grid.Point
	Blocked     []grid.Point
	Vehicles    []VehicleSpec
	Pedestrians []PedestrianSpec
}

type Scenario struct {
	World       *grid.World
	Vehicles    []*Vehicle
	Pedestrians []*Pedestrian
}

// Build validates l and instantiates its world and agents.
func (l Layout) Build() (*Scenario, error) {
	if l.Size <= 0 {
		return nil, fmt.Errorf("invalid grid size %d", l.Size)
	}
	w := grid.NewWorld(l.Size)
	if l.Roads != nil {
		if len(l.Roads) != l.Size {
			return nil, fmt.Errorf("road mask has %d rows, want %d", len(l.Roads), l.Size)
		}
		for y, row := range l.Roads {
			if len(row) != l.Size {
				return nil, fmt.Errorf("road mask row %d has %d cells, want %d", y, len(row), l.Size)
			}
			copy(w.Roads[y], row)
		}
	}
	for _, p := range l.Stops {
		if err := w.AddStop(p); err != nil {
			return nil, err
		}
	}
	for _, p := range l.Blocked {
		if err := w.Block(p); err != nil {
			return nil, err
		}
	}

	sc := &Scenario{World: w}
	for _, vs := range l.Vehicles {
		if len(vs.Route) == 0 {
			return nil, fmt.Errorf("vehicle %d has an empty route", vs.ID)
		}
		if !w.InBounds(vs.Start) {
			return nil, fmt.Errorf("vehicle %d starts outside the grid at %s", vs.ID, vs.Start)
		}
		for _, p := range vs.Route {
			if !w.InBounds(p) {
				return nil, fmt.Errorf("vehicle %d route stop %s outside the grid", vs.ID, p)
			}
		}
		sc.Vehicles = append(sc.Vehicles, NewVehicle(vs.ID, vs.Route, vs.Start))
	}
	for _, ps := range l.Pedestrians {
		if !w.InBounds(ps.Origin) || !w.InBounds(ps.Destination) {
			return nil, fmt.Errorf("pedestrian %d trip %s -> %s leaves the grid", ps.ID, ps.Origin, ps.Destination)
		}
		sc.Pedestrians = append(sc.Pedestrians, NewPedestrian(ps.ID, ps.Origin, ps.Destination))
	}
	return sc, nil
}

// RandomSetup parameterizes RandomLayout.
type RandomSetup struct {
	Size         int
	Stops        int
	Blocked      int
	Vehicles     int
	VehicleStart grid.Point
	Pedestrians  []PedestrianSpec
}

// RandomLayout generates a city: a random road mask, Stops random stop cells
// (repeats allowed), Blocked random blocked cells (repeats collapse), and one
// route per vehicle that visits every stop in an independent random order.
// A blocked draw that lands on the vehicle start or a pedestrian origin is
// dropped so no agent starts walled in.
func RandomLayout(rs RandomSetup, rng *rand.Rand) (Layout, error) {
	if rs.Size <= 0 {
		return Layout{}, fmt.Errorf("invalid grid size %d", rs.Size)
	}
	if rs.Vehicles > 0 && rs.Stops <= 0 {
		return Layout{}, errors.New("vehicles need at least one bus stop")
	}
	l := Layout{Size: rs.Size, Pedestrians: slices.Clone(rs.Pedestrians)}

	l.Roads = make([][]bool, rs.Size)
	for y := range l.Roads {
		l.Roads[y] = make([]bool, rs.Size)
		for x := range l.Roads[y] {
			l.Roads[y][x] = rng.Intn(2) == 1
		}
	}
	randomCell := func() grid.Point {
		return grid.Point{X: rng.Intn(rs.Size), Y: rng.Intn(rs.Size)}
	}
	for i := 0; i < rs.Stops; i++ {
		l.Stops = append(l.Stops, randomCell())
	}
	starts := make(map[grid.Point]struct{}, len(rs.Pedestrians)+1)
	if rs.Vehicles > 0 {
		starts[rs.VehicleStart] = struct{}{}
	}
	for _, ps := range rs.Pedestrians {
		starts[ps.Origin] = struct{}{}
	}
	for i := 0; i < rs.Blocked; i++ {
		c := randomCell()
		if _, ok := starts[c]; ok {
			log.Printf("random layout: skipped blocking start cell %s", c)
			continue
		}
		l.Blocked = append(l.Blocked, c)
	}
	for i := 0; i < rs.Vehicles; i++ {
		route := make([]grid.Point, len(l.Stops))
		for j, k := range rng.Perm(len(l.Stops)) {
			route[j] = l.Stops[k]
		}
		l.Vehicles = append(l.Vehicles, VehicleSpec{ID: i + 1, Start: rs.VehicleStart, Route: route})
	}
	for i := range l.Pedestrians {
		if l.Pedestrians[i].ID == 0 {
			l.Pedestrians[i].ID = i + 1
		}
	}
	return l, nil
}
