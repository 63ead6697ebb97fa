package sim

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gridtransit/internal/grid"
	"gridtransit/internal/metrics"
	"gridtransit/internal/render"
)

func newSim(t *testing.T, l Layout, opts Options, m *metrics.Collector) *Simulation {
	t.Helper()
	sc, err := l.Build()
	if err != nil {
		t.Fatalf("build layout: %v", err)
	}
	if opts.MaxSteps == 0 {
		opts.MinSteps, opts.MaxSteps = 1, 1
	}
	s, err := New(sc, rand.New(rand.NewSource(1)), opts, m)
	if err != nil {
		t.Fatalf("new simulation: %v", err)
	}
	return s
}

func TestNewValidates(t *testing.T) {
	sc, _ := Layout{Size: 3}.Build()
	rng := rand.New(rand.NewSource(1))
	if _, err := New(sc, rng, Options{MinSteps: 3, MaxSteps: 1}, nil); err == nil {
		t.Fatal("expected error for inverted step budget")
	}
	if _, err := New(sc, rng, Options{MaxSteps: 1, Policy: "nearest"}, nil); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if _, err := New(sc, nil, Options{MaxSteps: 1}, nil); err == nil {
		t.Fatal("expected error without a random source")
	}
	if _, err := New(nil, rng, Options{MaxSteps: 1}, nil); err == nil {
		t.Fatal("expected error without a scenario")
	}
}

func TestStopPathBoardsSingleWaitingVehicle(t *testing.T) {
	s := newSim(t, Layout{
		Size:        5,
		Stops:       []grid.Point{pt(2, 0)},
		Vehicles:    []VehicleSpec{{ID: 1, Start: pt(2, 0), Route: []grid.Point{pt(2, 0)}}},
		Pedestrians: []PedestrianSpec{{ID: 1, Origin: pt(1, 0), Destination: pt(4, 0)}},
	}, Options{Policy: PolicyWaiting}, nil)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	v, p := s.Vehicles[0], s.Pedestrians[0]
	if v.Status != StatusWaiting {
		t.Fatalf("vehicle status %v, want waiting", v.Status)
	}
	if !p.Boarded || p.Vehicle != v || !v.Carries(p) || p.BoardedAt != pt(2, 0) {
		t.Fatalf("pedestrian did not board: %+v", p)
	}
	if s.Stats.Boardings != 1 {
		t.Fatalf("Boardings = %d", s.Stats.Boardings)
	}
}

func TestStopPathBoardsVehicleThatDroveOntoStop(t *testing.T) {
	tests := []struct {
		policy BoardingPolicy
		boards bool
	}{
		{PolicyLegacy, true},
		{PolicyWaiting, true},
		{PolicyAny, false}, // the walker was off the stop when its own path ran
	}
	for _, tc := range tests {
		t.Run(string(tc.policy), func(t *testing.T) {
			s := newSim(t, Layout{
				Size:        5,
				Stops:       []grid.Point{pt(2, 2)},
				Vehicles:    []VehicleSpec{{ID: 1, Start: pt(1, 2), Route: []grid.Point{pt(2, 2), pt(4, 4)}}},
				Pedestrians: []PedestrianSpec{{ID: 1, Origin: pt(2, 3), Destination: pt(2, 0)}},
			}, Options{Policy: tc.policy}, nil)
			v, p := s.Vehicles[0], s.Pedestrians[0]

			// both step onto the stop at (2,2) during the same tick
			if err := s.Tick(context.Background()); err != nil {
				t.Fatal(err)
			}
			if v.Position != pt(2, 2) || !v.Moving || v.Status != StatusWaiting {
				t.Fatalf("vehicle pos=%v moving=%t status=%v", v.Position, v.Moving, v.Status)
			}
			if p.Boarded != tc.boards || v.Carries(p) != tc.boards {
				t.Fatalf("boarded=%t aboard=%t, want %t", p.Boarded, v.Carries(p), tc.boards)
			}
			if tc.boards && (p.Vehicle != v || p.BoardedAt != pt(2, 2) || s.Stats.Boardings != 1) {
				t.Fatalf("boarding not recorded: %+v boardings=%d", p, s.Stats.Boardings)
			}
		})
	}
}

func TestArrivedPedestrianDoesNotBoard(t *testing.T) {
	s := newSim(t, Layout{
		Size:        5,
		Stops:       []grid.Point{pt(2, 0)},
		Vehicles:    []VehicleSpec{{ID: 1, Start: pt(2, 0), Route: []grid.Point{pt(2, 0)}}},
		Pedestrians: []PedestrianSpec{{ID: 1, Origin: pt(1, 0), Destination: pt(2, 0)}},
	}, Options{}, nil)
	_ = s.Tick(context.Background())
	p := s.Pedestrians[0]
	if p.Boarded || !p.Arrived() {
		t.Fatalf("pedestrian should have walked onto its destination and stayed off the vehicle: %+v", p)
	}
}

func TestRidingPedestrianMovesInLockstep(t *testing.T) {
	m := metrics.NewCollector(6, 0)
	s := newSim(t, Layout{
		Size:        6,
		Stops:       []grid.Point{pt(0, 0)},
		Vehicles:    []VehicleSpec{{ID: 1, Start: pt(0, 0), Route: []grid.Point{pt(0, 0), pt(5, 0)}}},
		Pedestrians: []PedestrianSpec{{ID: 1, Origin: pt(0, 0), Destination: pt(3, 0)}},
	}, Options{Policy: PolicyLegacy}, m)
	v, p := s.Vehicles[0], s.Pedestrians[0]
	ctx := context.Background()

	// tick 1: the vehicle registers its arrival at (0,0); the pedestrian boards it
	_ = s.Tick(ctx)
	if !v.Carries(p) {
		t.Fatalf("pedestrian not aboard after tick 1: %+v", p)
	}
	for tick := 2; tick <= 3; tick++ {
		_ = s.Tick(ctx)
		if p.Position != v.Position || !v.Carries(p) {
			t.Fatalf("tick %d: pedestrian %v vehicle %v", tick, p.Position, v.Position)
		}
	}
	_ = s.Tick(ctx)
	if p.Position != pt(3, 0) || v.Carries(p) {
		t.Fatalf("pedestrian should leave at (3,0): pos=%v aboard=%t", p.Position, v.Carries(p))
	}
	_ = s.Tick(ctx)
	if p.Position != pt(3, 0) || v.Position != pt(4, 0) {
		t.Fatalf("arrived pedestrian moved: %v (vehicle %v)", p.Position, v.Position)
	}
	if p.FootSteps != 0 || p.VehicleSteps != 3 {
		t.Fatalf("counters foot=%d vehicle=%d", p.FootSteps, p.VehicleSteps)
	}

	if got := testutil.ToFloat64(m.Boardings.WithLabelValues("pedestrian")); got != 1 {
		t.Fatalf("pedestrian-path boardings = %v", got)
	}
	if got := testutil.ToFloat64(m.Disembarks); got != 1 {
		t.Fatalf("disembarks = %v", got)
	}
	if got := testutil.ToFloat64(m.Ticks); got != 5 {
		t.Fatalf("ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.PedestriansArrived); got != 1 {
		t.Fatalf("arrived gauge = %v", got)
	}
}

func TestManifestSweepRemovesEveryArrival(t *testing.T) {
	s := newSim(t, Layout{
		Size:     4,
		Vehicles: []VehicleSpec{{ID: 1, Start: pt(0, 0), Route: []grid.Point{pt(3, 0)}}},
	}, Options{}, nil)
	v := s.Vehicles[0]
	// three riders all getting off at (1,0), one staying on
	for i, dest := range []grid.Point{pt(1, 0), pt(1, 0), pt(3, 0), pt(1, 0)} {
		p := NewPedestrian(i+1, pt(0, 0), dest)
		s.Pedestrians = append(s.Pedestrians, p)
		v.Board(p)
	}
	_ = s.Tick(context.Background())
	if len(v.Manifest) != 1 || v.Manifest[0].Destination != pt(3, 0) {
		t.Fatalf("manifest after sweep: %d riders", len(v.Manifest))
	}
	if s.Stats.Disembarks != 3 {
		t.Fatalf("Disembarks = %d, want 3", s.Stats.Disembarks)
	}
}

func TestTickHonorsStopSignal(t *testing.T) {
	s := newSim(t, Layout{
		Size:        5,
		Vehicles:    []VehicleSpec{{ID: 1, Start: pt(0, 0), Route: []grid.Point{pt(4, 4)}}},
		Pedestrians: []PedestrianSpec{{ID: 1, Origin: pt(0, 0), Destination: pt(4, 0)}},
	}, Options{}, nil)
	s.SetStopSignal(StopFunc(func() bool { return true }))

	if err := s.Tick(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Tick error = %v, want ErrStopped", err)
	}
	if s.TickCount() != 0 || s.Vehicles[0].Position != pt(0, 0) || s.Pedestrians[0].Position != pt(0, 0) {
		t.Fatal("agents moved after a stop request")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	s := newSim(t, Layout{Size: 3}, Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.SetStopSignal(ContextSignal(ctx))
	cancel()
	if err := s.Run(ctx, 10); !errors.Is(err, ErrStopped) {
		t.Fatalf("Run error = %v, want ErrStopped", err)
	}
	if s.TickCount() != 0 {
		t.Fatalf("ran %d ticks after cancel", s.TickCount())
	}
}

func TestRunEmitsOneFramePerTick(t *testing.T) {
	s := newSim(t, Layout{
		Size:        4,
		Stops:       []grid.Point{pt(3, 3)},
		Blocked:     []grid.Point{pt(2, 2)},
		Vehicles:    []VehicleSpec{{ID: 4, Start: pt(0, 0), Route: []grid.Point{pt(3, 3)}}},
		Pedestrians: []PedestrianSpec{{ID: 9, Origin: pt(0, 3), Destination: pt(3, 3)}},
	}, Options{RunID: "run-1"}, nil)

	var frames []render.Frame
	s.AddRenderer(render.RendererFunc(func(f render.Frame) error {
		frames = append(frames, f)
		return nil
	}))
	s.AddRenderer(render.RendererFunc(func(render.Frame) error { return errors.New("display gone") }))

	if err := s.Run(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Tick != i+1 || f.RunID != "run-1" || f.Size != 4 {
			t.Fatalf("frame %d header: %+v", i, f)
		}
	}
	last := frames[2]
	if len(last.Vehicles) != 1 || last.Vehicles[0].ID != 4 || last.Vehicles[0].Position != s.Vehicles[0].Position {
		t.Fatalf("vehicle state %+v", last.Vehicles)
	}
	if len(last.Pedestrians) != 1 || last.Pedestrians[0].Position != pt(3, 3) {
		t.Fatalf("pedestrian state %+v", last.Pedestrians)
	}
	if len(last.Blocked) != 1 || last.Blocked[0] != pt(2, 2) {
		t.Fatalf("blocked %v", last.Blocked)
	}
}

func TestFrameIsACopy(t *testing.T) {
	s := newSim(t, Layout{Size: 2, Stops: []grid.Point{pt(1, 1)}}, Options{}, nil)
	f := s.Frame()
	f.Roads[0][0] = true
	f.Stops[0] = pt(0, 0)
	if s.World.Roads[0][0] || s.World.Stops[0] != pt(1, 1) {
		t.Fatal("frame aliases world state")
	}
}

func TestRandomRunKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	peds := []PedestrianSpec{
		{Origin: pt(1, 1), Destination: pt(6, 6)},
		{Origin: pt(2, 2), Destination: pt(5, 5)},
		{Origin: pt(9, 0), Destination: pt(0, 9)},
	}
	l, err := RandomLayout(RandomSetup{Size: 10, Stops: 40, Blocked: 15, Vehicles: 3, VehicleStart: pt(2, 4), Pedestrians: peds}, rng)
	if err != nil {
		t.Fatal(err)
	}
	sc, err := l.Build()
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(sc, rng, Options{MinSteps: 1, MaxSteps: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for tick := 0; tick < 300; tick++ {
		prev := make(map[*Pedestrian]grid.Point, len(s.Pedestrians))
		for _, p := range s.Pedestrians {
			prev[p] = p.Position
		}
		if err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
		for _, v := range s.Vehicles {
			if !s.World.Passable(v.Position) {
				t.Fatalf("tick %d: vehicle %d on %v", tick, v.ID, v.Position)
			}
			if v.NextStop < 0 || v.NextStop >= len(v.Route) {
				t.Fatalf("tick %d: vehicle %d NextStop %d", tick, v.ID, v.NextStop)
			}
		}
		for _, p := range s.Pedestrians {
			if !s.World.Passable(p.Position) {
				t.Fatalf("tick %d: pedestrian %d on %v", tick, p.ID, p.Position)
			}
			if p.Riding() && p.Position != p.Vehicle.Position {
				t.Fatalf("tick %d: pedestrian %d at %v but its vehicle is at %v", tick, p.ID, p.Position, p.Vehicle.Position)
			}
			if p.Arrived() && prev[p] == p.Destination && p.Position != prev[p] {
				t.Fatalf("tick %d: pedestrian %d left its destination", tick, p.ID)
			}
		}
	}
}
