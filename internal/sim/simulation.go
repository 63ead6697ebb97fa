package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"slices"
	"time"

	"github.com/samber/lo"

	"gridtransit/internal/grid"
	mmetrics "gridtransit/internal/metrics"
	"gridtransit/internal/render"
)

// ErrStopped is returned when the stop signal fired before a tick began.
var ErrStopped = errors.New("simulation stopped")

// StopSignal is polled once at the top of every tick.
type StopSignal interface {
	StopRequested() bool
}

// StopFunc adapts a plain function to StopSignal.
type StopFunc func() bool

func (f StopFunc) StopRequested() bool { return f() }

// ContextSignal requests a stop once ctx is done.
func ContextSignal(ctx context.Context) StopSignal {
	return StopFunc(func() bool { return ctx.Err() != nil })
}

type Options struct {
	RunID         string
	MinSteps      int // per-tick vehicle step budget, inclusive
	MaxSteps      int
	Policy        BoardingPolicy
	FrameInterval time.Duration // 0 runs ticks back to back
	LogAgents     bool
}

// Stats accumulates over a run.
type Stats struct {
	Ticks            int
	StopArrivals     int
	RouteCompletions int
	Boardings        int
	Disembarks       int
	BoxedIn          int
}

type Simulation struct {
	World       *grid.World
	Vehicles    []*Vehicle
	Pedestrians []*Pedestrian
	Stats       Stats

	rng       *rand.Rand
	opts      Options
	walkRule  BoardingRule
	stopRule  BoardingRule
	stop      StopSignal
	renderers []render.Renderer
	metrics   *mmetrics.Collector
	tick      int
}

func New(sc *Scenario, rng *rand.Rand, opts Options, metrics *mmetrics.Collector) (*Simulation, error) {
	if sc == nil || sc.World == nil {
		return nil, errors.New("scenario has no world")
	}
	if rng == nil {
		return nil, errors.New("random source is required")
	}
	if opts.MinSteps < 0 || opts.MaxSteps < opts.MinSteps {
		return nil, fmt.Errorf("invalid step budget [%d,%d]", opts.MinSteps, opts.MaxSteps)
	}
	policy, err := ParseBoardingPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	s := &Simulation{
		World:       sc.World,
		Vehicles:    sc.Vehicles,
		Pedestrians: sc.Pedestrians,
		rng:         rng,
		opts:        opts,
		metrics:     metrics,
	}
	s.walkRule, s.stopRule = policy.Rules()
	if metrics != nil {
		metrics.Vehicles.Set(float64(len(s.Vehicles)))
		metrics.Pedestrians.Set(float64(len(s.Pedestrians)))
	}
	return s, nil
}

// SetStopSignal replaces the stop source polled by Tick.
func (s *Simulation) SetStopSignal(sig StopSignal) { s.stop = sig }

// AddRenderer registers a sink that receives every frame.
func (s *Simulation) AddRenderer(r render.Renderer) { s.renderers = append(s.renderers, r) }

func (s *Simulation) TickCount() int { return s.tick }

// Run executes up to ticks ticks, sleeping FrameInterval between them. It
// returns ErrStopped when ctx or the stop signal ended the run early.
func (s *Simulation) Run(ctx context.Context, ticks int) error {
	var throttle <-chan time.Time
	if s.opts.FrameInterval > 0 {
		t := time.NewTicker(s.opts.FrameInterval)
		defer t.Stop()
		throttle = t.C
	}
	for i := 0; i < ticks; i++ {
		if err := s.Tick(ctx); err != nil {
			return err
		}
		if throttle == nil || i == ticks-1 {
			continue
		}
		select {
		case <-ctx.Done():
			return ErrStopped
		case <-throttle:
		}
	}
	return nil
}

// Tick advances every vehicle, then every pedestrian, then emits a frame.
func (s *Simulation) Tick(ctx context.Context) error {
	if ctx.Err() != nil || (s.stop != nil && s.stop.StopRequested()) {
		return ErrStopped
	}
	start := time.Now()
	s.tick++
	if s.opts.LogAgents {
		log.Printf("--- tick %d ---", s.tick)
	}

	for _, v := range s.Vehicles {
		s.advanceVehicle(v)
	}
	for _, p := range s.Pedestrians {
		s.advancePedestrian(p)
	}

	s.Stats.Ticks++
	if s.metrics != nil {
		s.metrics.Ticks.Inc()
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
		s.metrics.PedestriansBoarded.Set(float64(lo.CountBy(s.Pedestrians, (*Pedestrian).Riding)))
		s.metrics.PedestriansArrived.Set(float64(lo.CountBy(s.Pedestrians, (*Pedestrian).Arrived)))
	}

	s.emit(s.Frame())
	return nil
}

func (s *Simulation) advanceVehicle(v *Vehicle) {
	budget := s.opts.MinSteps + s.rng.Intn(s.opts.MaxSteps-s.opts.MinSteps+1)
	rep := v.Advance(s.World, budget, s.rng)
	if rep.BoxedIn > 0 {
		log.Printf("vehicle %d: no alternative cells, holding at %s", v.ID, v.Position)
		s.Stats.BoxedIn += rep.BoxedIn
		if s.metrics != nil {
			s.metrics.BoxedIn.WithLabelValues("vehicle").Add(float64(rep.BoxedIn))
		}
	}
	if rep.Arrived {
		s.Stats.StopArrivals++
		if s.metrics != nil {
			s.metrics.StopArrivals.Inc()
		}
		if s.opts.LogAgents {
			log.Printf("vehicle %d arrived at stop, next stop index %d", v.ID, v.NextStop)
		}
	}
	if rep.Completed {
		s.Stats.RouteCompletions++
		if s.metrics != nil {
			s.metrics.RouteCompletions.Inc()
		}
		if s.opts.LogAgents {
			log.Printf("vehicle %d completed its route", v.ID)
		}
	}
	if s.opts.LogAgents {
		log.Printf("vehicle %d position %s", v.ID, v.Position)
	}

	// iterate a copy: Disembark shrinks the manifest
	for _, p := range slices.Clone(v.Manifest) {
		p.Position = v.Position
		if !p.Arrived() {
			continue
		}
		v.Disembark(p)
		s.Stats.Disembarks++
		if s.metrics != nil {
			s.metrics.Disembarks.Inc()
		}
		if s.opts.LogAgents {
			log.Printf("pedestrian %d left vehicle %d at %s", p.ID, v.ID, p.Position)
		}
	}
}

func (s *Simulation) advancePedestrian(p *Pedestrian) {
	rep := p.Advance(s.World, s.Vehicles, s.walkRule, s.rng)
	if rep.BoardedOn != nil {
		s.noteBoarding(p, rep.BoardedOn, "pedestrian")
	}
	if rep.BoxedIn {
		log.Printf("pedestrian %d: no alternative cells, holding at %s", p.ID, p.Position)
		s.Stats.BoxedIn++
		if s.metrics != nil {
			s.metrics.BoxedIn.WithLabelValues("pedestrian").Inc()
		}
	}
	if s.opts.LogAgents {
		log.Printf("pedestrian %d position %s", p.ID, p.Position)
	}

	if s.stopRule == nil || p.Boarded || p.Arrived() || !s.World.IsBusStop(p.Position) {
		return
	}
	if v := pickVehicle(s.rng, vehiclesAt(s.Vehicles, p.Position, s.stopRule)); v != nil {
		v.Board(p)
		s.noteBoarding(p, v, "stop")
	}
}

func (s *Simulation) noteBoarding(p *Pedestrian, v *Vehicle, path string) {
	s.Stats.Boardings++
	if s.metrics != nil {
		s.metrics.Boardings.WithLabelValues(path).Inc()
	}
	if s.opts.LogAgents {
		log.Printf("pedestrian %d boarded vehicle %d at %s", p.ID, v.ID, p.BoardedAt)
	}
}

func (s *Simulation) emit(f render.Frame) {
	for _, r := range s.renderers {
		if err := r.Render(f); err != nil {
			log.Printf("render error: %v", err)
			if s.metrics != nil {
				s.metrics.RenderErrs.Inc()
			}
		}
	}
}

// Frame snapshots the current state for renderers.
func (s *Simulation) Frame() render.Frame {
	w := s.World
	roads := make([][]bool, len(w.Roads))
	for y := range w.Roads {
		roads[y] = slices.Clone(w.Roads[y])
	}
	return render.Frame{
		RunID:   s.opts.RunID,
		Tick:    s.tick,
		Size:    w.Size,
		Roads:   roads,
		Stops:   slices.Clone(w.Stops),
		Blocked: w.BlockedCells(),
		Vehicles: lo.Map(s.Vehicles, func(v *Vehicle, _ int) render.VehicleState {
			return render.VehicleState{
				ID:         v.ID,
				Position:   v.Position,
				NextStop:   v.NextStop,
				Status:     v.Status.String(),
				Moving:     v.Moving,
				Passengers: len(v.Manifest),
			}
		}),
		Pedestrians: lo.Map(s.Pedestrians, func(p *Pedestrian, _ int) render.PedestrianState {
			ps := render.PedestrianState{
				ID:          p.ID,
				Position:    p.Position,
				Destination: p.Destination,
				Boarded:     p.Boarded,
				Arrived:     p.Arrived(),
			}
			if p.Vehicle != nil {
				ps.VehicleID = p.Vehicle.ID
			}
			return ps
		}),
	}
}

// LogSummary prints per-pedestrian step counters and the run totals.
func (s *Simulation) LogSummary() {
	for _, p := range s.Pedestrians {
		log.Printf("pedestrian %d at %s (destination %s, arrived=%t): %d foot steps, %d vehicle steps",
			p.ID, p.Position, p.Destination, p.Arrived(), p.FootSteps, p.VehicleSteps)
	}
	st := s.Stats
	log.Printf("run %s: %d ticks, %d stop arrivals, %d route completions, %d boardings, %d disembarks, %d boxed-in",
		s.opts.RunID, st.Ticks, st.StopArrivals, st.RouteCompletions, st.Boardings, st.Disembarks, st.BoxedIn)
}
