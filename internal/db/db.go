package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gridtransit/internal/grid"
	"gridtransit/internal/sim"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrScenarioNotFound is returned when no scenario row matches the name.
var ErrScenarioNotFound = errors.New("scenario not found")

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// FetchLayout reads a named scenario. Routes come back ordered by seq and
// vehicles by id; the caller validates coordinates via Layout.Build.
func FetchLayout(ctx context.Context, db *sql.DB, name string) (sim.Layout, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return sim.Layout{}, fmt.Errorf("scenario name is required")
	}
	var l sim.Layout
	err := db.QueryRowContext(ctx, `SELECT size FROM scenarios WHERE name = $1`, name).Scan(&l.Size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sim.Layout{}, fmt.Errorf("%w: %q", ErrScenarioNotFound, name)
		}
		return sim.Layout{}, fmt.Errorf("query scenario: %w", err)
	}

	if l.Stops, err = fetchPoints(ctx, db,
		`SELECT x, y FROM scenario_stops WHERE scenario = $1 ORDER BY seq`, name); err != nil {
		return sim.Layout{}, fmt.Errorf("query stops: %w", err)
	}
	if l.Blocked, err = fetchPoints(ctx, db,
		`SELECT x, y FROM scenario_blocked WHERE scenario = $1 ORDER BY y, x`, name); err != nil {
		return sim.Layout{}, fmt.Errorf("query blocked cells: %w", err)
	}
	if l.Vehicles, err = fetchVehicles(ctx, db, name); err != nil {
		return sim.Layout{}, fmt.Errorf("query vehicles: %w", err)
	}
	if l.Pedestrians, err = fetchPedestrians(ctx, db, name); err != nil {
		return sim.Layout{}, fmt.Errorf("query pedestrians: %w", err)
	}
	return l, nil
}

func fetchPoints(ctx context.Context, db *sql.DB, q, name string) ([]grid.Point, error) {
	rows, err := db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pts []grid.Point
	for rows.Next() {
		var p grid.Point
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// fetchVehicles groups route rows per vehicle. Every row repeats the
// vehicle's start cell.
func fetchVehicles(ctx context.Context, db *sql.DB, name string) ([]sim.VehicleSpec, error) {
	q := `SELECT vehicle_id, x, y, start_x, start_y
FROM scenario_vehicles
WHERE scenario = $1
ORDER BY vehicle_id, seq`
	rows, err := db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int]*sim.VehicleSpec)
	for rows.Next() {
		var id int
		var stop, start grid.Point
		if err := rows.Scan(&id, &stop.X, &stop.Y, &start.X, &start.Y); err != nil {
			return nil, err
		}
		vs, ok := byID[id]
		if !ok {
			vs = &sim.VehicleSpec{ID: id, Start: start}
			byID[id] = vs
		}
		vs.Route = append(vs.Route, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]sim.VehicleSpec, 0, len(byID))
	for _, vs := range byID {
		out = append(out, *vs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func fetchPedestrians(ctx context.Context, db *sql.DB, name string) ([]sim.PedestrianSpec, error) {
	q := `SELECT pedestrian_id, origin_x, origin_y, dest_x, dest_y
FROM scenario_pedestrians
WHERE scenario = $1
ORDER BY pedestrian_id`
	rows, err := db.QueryContext(ctx, q, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []sim.PedestrianSpec
	for rows.Next() {
		var ps sim.PedestrianSpec
		if err := rows.Scan(&ps.ID, &ps.Origin.X, &ps.Origin.Y, &ps.Destination.X, &ps.Destination.Y); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}
