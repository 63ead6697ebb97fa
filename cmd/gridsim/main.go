package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gridtransit/internal/config"
	"gridtransit/internal/db"
	"gridtransit/internal/metrics"
	"gridtransit/internal/publisher"
	"gridtransit/internal/render"
	"gridtransit/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	rng := rand.New(rand.NewSource(cfg.Seed))
	log.Printf("run %s seed %d", runID, cfg.Seed)

	layout, err := loadLayout(ctx, cfg, rng)
	if err != nil {
		log.Fatalf("scenario error: %v", err)
	}
	scenario, err := layout.Build()
	if err != nil {
		log.Fatalf("scenario error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(scenario.World.Size, cfg.FrameInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	s, err := sim.New(scenario, rng, sim.Options{
		RunID:         runID,
		MinSteps:      cfg.MinSteps,
		MaxSteps:      cfg.MaxSteps,
		Policy:        cfg.Boarding,
		FrameInterval: cfg.FrameInterval,
		LogAgents:     cfg.LogAgents,
	}, mcol)
	if err != nil {
		log.Fatalf("simulation error: %v", err)
	}
	s.SetStopSignal(sim.ContextSignal(ctx))

	if cfg.Render == "text" {
		s.AddRenderer(render.NewTextRenderer(os.Stdout))
	}
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		s.AddRenderer(pub)
	}

	err = s.Run(ctx, cfg.Ticks)
	switch {
	case errors.Is(err, sim.ErrStopped):
		log.Printf("stop requested after %d ticks", s.TickCount())
	case err != nil:
		log.Printf("simulation error: %v", err)
	}
	s.LogSummary()
	log.Println("shutdown complete")
}

// loadLayout reads the named scenario from Postgres when SCENARIO is set and
// generates a random city otherwise.
func loadLayout(ctx context.Context, cfg *config.Config, rng *rand.Rand) (sim.Layout, error) {
	if cfg.Scenario == "" {
		return sim.RandomLayout(sim.RandomSetup{
			Size:         cfg.GridSize,
			Stops:        cfg.NumStops,
			Blocked:      cfg.NumBlocked,
			Vehicles:     cfg.NumVehicles,
			VehicleStart: cfg.VehicleStart,
			Pedestrians:  cfg.Pedestrians,
		}, rng)
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return sim.Layout{}, err
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		return sim.Layout{}, err
	}
	l, err := db.FetchLayout(ctx, sqlDB, cfg.Scenario)
	if err != nil {
		return sim.Layout{}, err
	}
	log.Printf("loaded scenario %q: %dx%d grid, %d stops, %d vehicles, %d pedestrians",
		cfg.Scenario, l.Size, l.Size, len(l.Stops), len(l.Vehicles), len(l.Pedestrians))
	return l, nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
