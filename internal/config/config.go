package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gridtransit/internal/grid"
	"gridtransit/internal/sim"
)

type Config struct {
	GridSize      int
	NumStops      int
	NumBlocked    int
	NumVehicles   int
	VehicleStart  grid.Point
	Pedestrians   []sim.PedestrianSpec
	Ticks         int
	MinSteps      int
	MaxSteps      int
	Seed          int64
	FrameInterval time.Duration
	Boarding      sim.BoardingPolicy
	Render        string // text|none
	LogAgents     bool

	NATSURL         string
	NATSPrefix      string
	LogNATSSubjects bool
	MetricsAddr     string

	DatabaseURL string
	Scenario    string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	if cfg.GridSize, err = intVar("GRID_SIZE", 10, 1); err != nil {
		return nil, err
	}
	if cfg.NumStops, err = intVar("NUM_STOPS", 40, 0); err != nil {
		return nil, err
	}
	if cfg.NumBlocked, err = intVar("NUM_BLOCKED", 5, 0); err != nil {
		return nil, err
	}
	if cfg.NumVehicles, err = intVar("NUM_VEHICLES", 2, 0); err != nil {
		return nil, err
	}
	if cfg.Ticks, err = intVar("TICKS", 20, 0); err != nil {
		return nil, err
	}
	if cfg.MinSteps, err = intVar("MIN_STEPS", 1, 0); err != nil {
		return nil, err
	}
	if cfg.MaxSteps, err = intVar("MAX_STEPS", 4, 0); err != nil {
		return nil, err
	}
	if cfg.MaxSteps < cfg.MinSteps {
		return nil, fmt.Errorf("MAX_STEPS (%d) must not be below MIN_STEPS (%d)", cfg.MaxSteps, cfg.MinSteps)
	}

	start := getenvDefault("VEHICLE_START", "2,4")
	if cfg.VehicleStart, err = parsePoint(start); err != nil {
		return nil, fmt.Errorf("invalid VEHICLE_START: %q", start)
	}
	peds := getenvDefault("PEDESTRIANS", "1,1:6,6;2,2:5,5")
	if cfg.Pedestrians, err = parsePedestrians(peds); err != nil {
		return nil, fmt.Errorf("invalid PEDESTRIANS: %w", err)
	}

	// Seed: fixed for reproducible runs, clock based otherwise
	if v := os.Getenv("SEED"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEED: %q", v)
		}
		cfg.Seed = n
	} else {
		cfg.Seed = time.Now().UnixNano()
	}

	// Frame interval; 0 disables throttling
	if v := os.Getenv("FRAME_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid FRAME_INTERVAL_MS: %q", v)
		}
		cfg.FrameInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.FrameInterval = time.Second
	}

	if cfg.Boarding, err = sim.ParseBoardingPolicy(os.Getenv("BOARDING_POLICY")); err != nil {
		return nil, fmt.Errorf("invalid BOARDING_POLICY: %w", err)
	}

	switch r := strings.ToLower(strings.TrimSpace(getenvDefault("RENDER", "text"))); r {
	case "text", "none":
		cfg.Render = r
	default:
		return nil, fmt.Errorf("invalid RENDER: %q", r)
	}

	cfg.LogAgents = boolVar("LOG_AGENTS")

	// Empty NATS_URL disables frame publishing
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "gridsim")
	cfg.LogNATSSubjects = boolVar("LOG_NATS_SUBJECTS")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Scenario store: only consulted when SCENARIO names a layout
	cfg.Scenario = firstNonEmpty(os.Getenv("SCENARIO"), os.Getenv("SCENARIO_NAME"))
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && cfg.Scenario != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "gridsim")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}

	return cfg, nil
}

func intVar(k string, def, min int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < min {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func boolVar(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

// parsePoint reads "x,y".
func parsePoint(s string) (grid.Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return grid.Point{}, fmt.Errorf("point %q is not x,y", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return grid.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return grid.Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return grid.Point{X: x, Y: y}, nil
}

// parsePedestrians reads "ox,oy:dx,dy;ox,oy:dx,dy". IDs follow list order.
func parsePedestrians(s string) ([]sim.PedestrianSpec, error) {
	var out []sim.PedestrianSpec
	for _, trip := range strings.Split(s, ";") {
		if strings.TrimSpace(trip) == "" {
			continue
		}
		from, to, ok := strings.Cut(trip, ":")
		if !ok {
			return nil, fmt.Errorf("trip %q is not origin:destination", trip)
		}
		origin, err := parsePoint(from)
		if err != nil {
			return nil, err
		}
		dest, err := parsePoint(to)
		if err != nil {
			return nil, err
		}
		out = append(out, sim.PedestrianSpec{ID: len(out) + 1, Origin: origin, Destination: dest})
	}
	return out, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
