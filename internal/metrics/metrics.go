package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Vehicles           prometheus.Gauge
	Pedestrians        prometheus.Gauge
	PedestriansBoarded prometheus.Gauge
	PedestriansArrived prometheus.Gauge

	Ticks            prometheus.Counter
	StopArrivals     prometheus.Counter
	RouteCompletions prometheus.Counter
	Boardings        *prometheus.CounterVec // path label: pedestrian|stop
	Disembarks       prometheus.Counter
	BoxedIn          *prometheus.CounterVec // agent label: vehicle|pedestrian
	RenderErrs       prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	GridSize      prometheus.Gauge
	FrameInterval prometheus.Gauge // seconds
}

func NewCollector(gridSize int, frameInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_vehicles",
			Help: "Number of transit vehicles in the run.",
		}),
		Pedestrians: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_pedestrians",
			Help: "Number of pedestrians in the run.",
		}),
		PedestriansBoarded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_pedestrians_boarded",
			Help: "Pedestrians currently riding a vehicle.",
		}),
		PedestriansArrived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_pedestrians_arrived",
			Help: "Pedestrians standing on their destination.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_ticks_total",
			Help: "Total simulation ticks completed.",
		}),
		StopArrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_stop_arrivals_total",
			Help: "Total vehicle arrivals at route stops.",
		}),
		RouteCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_route_completions_total",
			Help: "Total full route cycles completed by vehicles.",
		}),
		Boardings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_boardings_total",
			Help: "Total boardings by boarding path.",
		}, []string{"path"}),
		Disembarks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_disembarks_total",
			Help: "Total passengers leaving a vehicle at their destination.",
		}),
		BoxedIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridsim_boxed_in_total",
			Help: "Moves skipped because no neighboring cell was passable.",
		}, []string{"agent"}),
		RenderErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_render_errors_total",
			Help: "Total renderer failures.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridsim_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsim_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gridsim_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		GridSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_grid_size",
			Help: "Grid side length in cells.",
		}),
		FrameInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gridsim_frame_interval_seconds",
			Help: "Throttle between ticks in seconds.",
		}),
	}

	reg.MustRegister(
		c.Vehicles, c.Pedestrians, c.PedestriansBoarded, c.PedestriansArrived,
		c.Ticks, c.StopArrivals, c.RouteCompletions, c.Boardings, c.Disembarks,
		c.BoxedIn, c.RenderErrs,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
		c.GridSize, c.FrameInterval,
	)

	c.GridSize.Set(float64(gridSize))
	c.FrameInterval.Set(frameInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
