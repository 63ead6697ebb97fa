package sim

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/samber/lo"

	"gridtransit/internal/grid"
)

// BoardingRule decides whether a vehicle sharing a pedestrian's stop cell can
// be boarded.
type BoardingRule func(v *Vehicle) bool

// AnyVehicle admits every vehicle on the cell regardless of status.
func AnyVehicle(*Vehicle) bool { return true }

// WaitingVehicle admits only vehicles whose status is waiting.
func WaitingVehicle(v *Vehicle) bool { return v.Status == StatusWaiting }

// BoardingPolicy selects which boarding paths are active during a tick.
//
// The pedestrian path runs inside Pedestrian.Advance before the walker moves
// and uses AnyVehicle. The stop path runs in the simulation after the walker
// moved and uses WaitingVehicle. Vehicles stay waiting while they drive, so
// the stop path boards whatever vehicle shares the walker's new stop cell.
// Legacy keeps both paths.
type BoardingPolicy string

const (
	PolicyLegacy  BoardingPolicy = "legacy"
	PolicyAny     BoardingPolicy = "any"
	PolicyWaiting BoardingPolicy = "waiting"
)

func ParseBoardingPolicy(s string) (BoardingPolicy, error) {
	switch p := BoardingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLegacy, nil
	case PolicyLegacy, PolicyAny, PolicyWaiting:
		return p, nil
	}
	return "", fmt.Errorf("unknown boarding policy %q", s)
}

// Rules returns the rule for the pedestrian path and for the stop path. A nil
// rule disables that path.
func (bp BoardingPolicy) Rules() (pedestrian, stop BoardingRule) {
	switch bp {
	case PolicyAny:
		return AnyVehicle, nil
	case PolicyWaiting:
		return nil, WaitingVehicle
	default:
		return AnyVehicle, WaitingVehicle
	}
}

func vehiclesAt(vehicles []*Vehicle, cell grid.Point, rule BoardingRule) []*Vehicle {
	return lo.Filter(vehicles, func(v *Vehicle, _ int) bool {
		return v.Position == cell && rule(v)
	})
}

func pickVehicle(rng *rand.Rand, vs []*Vehicle) *Vehicle {
	if len(vs) == 0 {
		return nil
	}
	return vs[rng.Intn(len(vs))]
}
