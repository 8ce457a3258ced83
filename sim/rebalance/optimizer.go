// Package rebalance plans a single vehicle pass that moves bikes from over-full
// to under-full stations.
//
// The planner is a bounded heuristic: greedy insertion over the flagged
// stations followed by 2-opt segment reversals. It returns the best route found
// within its iteration and time budgets, with no optimality guarantee.
package rebalance

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

var (
	// ErrNoImbalance is returned when every station is within slack of the target.
	ErrNoImbalance = errors.New("no station outside target fill")
	// ErrNoFeasibleRoute is returned when the vehicle cannot serve the largest
	// imbalance or no route moves a bike.
	ErrNoFeasibleRoute = errors.New("no feasible rebalancing route")
	// ErrInvalidConfig marks unusable optimizer parameters.
	ErrInvalidConfig = errors.New("invalid rebalance config")
)

// Matrix supplies travel durations between stations in seconds.
// Implementations return an error wrapping sim.ErrUnreachable for pairs with no route.
type Matrix interface {
	Duration(from, to sim.StationID) (float64, error)
}

// Config holds the optimizer tunables.
type Config struct {
	TargetFill      float64       `yaml:"target_fill"`
	Slack           float64       `yaml:"slack"`
	VehicleCapacity int           `yaml:"vehicle_capacity"`
	InitialLoad     int           `yaml:"initial_load,omitempty"`
	Depot           sim.StationID `yaml:"depot,omitempty"`          // route start; empty = first visit
	MaxDurationSec  float64       `yaml:"max_duration_s,omitempty"` // 0 = unbounded
	ServiceSec      float64       `yaml:"service_s,omitempty"`      // handling time per visit
	MaxIterations   int           `yaml:"max_iterations"`           // 2-opt candidate evaluations
	TimeBudget      time.Duration `yaml:"time_budget,omitempty"`    // 0 = iterations only
}

// DefaultConfig returns the tunables used by the CLI.
func DefaultConfig() Config {
	return Config{
		TargetFill:      0.5,
		Slack:           0.1,
		VehicleCapacity: 10,
		MaxIterations:   5000,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	if math.IsNaN(c.TargetFill) || c.TargetFill < 0 || c.TargetFill > 1 {
		return fmt.Errorf("%w: target_fill must be in [0, 1], got %f", ErrInvalidConfig, c.TargetFill)
	}
	if math.IsNaN(c.Slack) || c.Slack < 0 || c.Slack >= 1 {
		return fmt.Errorf("%w: slack must be in [0, 1), got %f", ErrInvalidConfig, c.Slack)
	}
	if c.VehicleCapacity <= 0 {
		return fmt.Errorf("%w: vehicle_capacity must be positive, got %d", ErrInvalidConfig, c.VehicleCapacity)
	}
	if c.InitialLoad < 0 || c.InitialLoad > c.VehicleCapacity {
		return fmt.Errorf("%w: initial_load must be in [0, %d], got %d", ErrInvalidConfig, c.VehicleCapacity, c.InitialLoad)
	}
	if math.IsNaN(c.MaxDurationSec) || c.MaxDurationSec < 0 {
		return fmt.Errorf("%w: max_duration_s must be non-negative, got %f", ErrInvalidConfig, c.MaxDurationSec)
	}
	if math.IsNaN(c.ServiceSec) || c.ServiceSec < 0 {
		return fmt.Errorf("%w: service_s must be non-negative, got %f", ErrInvalidConfig, c.ServiceSec)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must be non-negative, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.TimeBudget < 0 {
		return fmt.Errorf("%w: time_budget must be non-negative, got %s", ErrInvalidConfig, c.TimeBudget)
	}
	return nil
}

// Visit is one stop of the plan. Transfer is negative when bikes are loaded
// onto the vehicle from the station and positive when unloaded into it.
type Visit struct {
	Station    sim.StationID `json:"station" yaml:"station"`
	Transfer   int           `json:"transfer" yaml:"transfer"`
	Load       int           `json:"load" yaml:"load"`           // vehicle load after the visit
	ArrivalSec float64       `json:"arrival_s" yaml:"arrival_s"` // offset from route start
}

// Plan is an immutable rebalancing route.
type Plan struct {
	Depot       sim.StationID `json:"depot,omitempty" yaml:"depot,omitempty"`
	Visits      []Visit       `json:"visits" yaml:"visits"`
	DurationSec float64       `json:"duration_s" yaml:"duration_s"`
	Delivered   int           `json:"delivered" yaml:"delivered"` // bikes unloaded into deficit stations
	Moved       int           `json:"moved" yaml:"moved"`         // bikes loaded plus unloaded
	Iterations  int           `json:"iterations" yaml:"iterations"`
}

// Apply returns the levels that result from executing the plan.
func (p *Plan) Apply(levels []sim.StationLevel) []sim.StationLevel {
	out := make([]sim.StationLevel, len(levels))
	copy(out, levels)
	idx := make(map[sim.StationID]int, len(out))
	for i, l := range out {
		idx[l.ID] = i
	}
	for _, v := range p.Visits {
		i, ok := idx[v.Station]
		if !ok {
			continue
		}
		out[i].Bikes += v.Transfer
		// Each unloaded bike occupies a free dock; loaded bikes free docks up to capacity.
		out[i].Docks = min(max(out[i].Docks-v.Transfer, 0), out[i].DockCapacity)
	}
	return out
}

// candidate is a flagged station; delta > 0 is a surplus, < 0 a deficit.
type candidate struct {
	id        sim.StationID
	delta     int
	docks     int // free docks; bounds how many bikes can be unloaded
	deviation float64
}

type evaluation struct {
	feasible  bool
	delivered int
	moved     int
	duration  float64
	visits    []Visit
}

// better orders evaluations by delivered bikes, then bikes moved, then duration.
func (e evaluation) better(o evaluation) bool {
	if e.feasible != o.feasible {
		return e.feasible
	}
	if e.delivered != o.delivered {
		return e.delivered > o.delivered
	}
	if e.moved != o.moved {
		return e.moved > o.moved
	}
	return e.duration < o.duration
}

type optimizer struct {
	cfg      Config
	matrix   Matrix
	cands    []candidate
	evals    int
	deadline time.Time
}

// Optimize computes a single-vehicle rebalancing plan for a station snapshot.
func Optimize(levels []sim.StationLevel, m Matrix, cfg Config) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: no duration matrix", ErrInvalidConfig)
	}
	cands := flag(levels, cfg)
	if len(cands) == 0 {
		return nil, ErrNoImbalance
	}
	largest := 0
	for _, c := range cands {
		largest = max(largest, abs(c.delta))
	}
	if cfg.VehicleCapacity < largest {
		return nil, fmt.Errorf("%w: vehicle capacity %d below largest imbalance %d", ErrNoFeasibleRoute, cfg.VehicleCapacity, largest)
	}
	if cfg.Depot != "" {
		if !hasStation(levels, cfg.Depot) {
			return nil, fmt.Errorf("%w: depot %q", sim.ErrUnknownStation, cfg.Depot)
		}
	}

	o := &optimizer{cfg: cfg, matrix: m, cands: cands}
	if cfg.TimeBudget > 0 {
		o.deadline = time.Now().Add(cfg.TimeBudget)
	}
	route := o.construct()
	best := o.evaluate(route)
	route, best = o.improve(route, best)
	if !best.feasible || best.moved == 0 {
		return nil, fmt.Errorf("%w: no route moves a bike among %d flagged stations", ErrNoFeasibleRoute, len(cands))
	}
	best = o.trim(route, best)

	plan := &Plan{
		Depot:       cfg.Depot,
		Visits:      best.visits,
		DurationSec: best.duration,
		Delivered:   best.delivered,
		Moved:       best.moved,
		Iterations:  o.evals,
	}
	logrus.Infof("Rebalancing plan: %d visits, %d bikes delivered, %d moved, %.0f s (%d evaluations)",
		len(plan.Visits), plan.Delivered, plan.Moved, plan.DurationSec, o.evals)
	return plan, nil
}

// flag returns the stations outside slack of the target, ranked by deviation
// (largest first) with ties broken by id.
func flag(levels []sim.StationLevel, cfg Config) []candidate {
	var cands []candidate
	for _, l := range levels {
		if l.BikeCapacity <= 0 {
			continue
		}
		dev := l.FillRatio() - cfg.TargetFill
		if math.Abs(dev) <= cfg.Slack {
			continue
		}
		target := int(math.Round(cfg.TargetFill * float64(l.BikeCapacity)))
		delta := l.Bikes - target
		if delta == 0 {
			continue
		}
		cands = append(cands, candidate{id: l.ID, delta: delta, docks: max(l.Docks, 0), deviation: math.Abs(dev)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].deviation != cands[j].deviation {
			return cands[i].deviation > cands[j].deviation
		}
		return cands[i].id < cands[j].id
	})
	return cands
}

// evaluate walks the visit order, loading at surpluses and unloading at deficits
// into free docks only.
// route holds indices into o.cands.
func (o *optimizer) evaluate(route []int) evaluation {
	o.evals++
	ev := evaluation{feasible: true, visits: make([]Visit, 0, len(route))}
	load := o.cfg.InitialLoad
	prev := o.cfg.Depot
	for _, ci := range route {
		c := o.cands[ci]
		if prev != "" && prev != c.id {
			d, err := o.matrix.Duration(prev, c.id)
			if err != nil {
				return evaluation{}
			}
			ev.duration += d
		}
		arrival := ev.duration
		ev.duration += o.cfg.ServiceSec
		transfer := 0
		if c.delta > 0 {
			transfer = -min(c.delta, o.cfg.VehicleCapacity-load)
		} else {
			transfer = min(-c.delta, load, c.docks)
			ev.delivered += transfer
		}
		load -= transfer
		ev.moved += abs(transfer)
		ev.visits = append(ev.visits, Visit{Station: c.id, Transfer: transfer, Load: load, ArrivalSec: arrival})
		prev = c.id
	}
	if o.cfg.MaxDurationSec > 0 && ev.duration > o.cfg.MaxDurationSec {
		return evaluation{}
	}
	return ev
}

// construct builds the initial route by inserting each ranked station at the
// position that scores best. A station with no feasible position is retried
// after the others have been placed, and left out if it still does not fit.
func (o *optimizer) construct() []int {
	var route []int
	pending := make([]int, len(o.cands))
	for ci := range pending {
		pending[ci] = ci
	}
	for len(pending) > 0 {
		var skipped []int
		for _, ci := range pending {
			if next, ok := o.insert(route, ci); ok {
				route = next
			} else {
				skipped = append(skipped, ci)
			}
		}
		if len(skipped) == len(pending) {
			break
		}
		pending = skipped
	}
	return route
}

// insert returns route with ci placed at its best-scoring feasible position.
func (o *optimizer) insert(route []int, ci int) ([]int, bool) {
	var bestRoute []int
	var best evaluation
	for pos := 0; pos <= len(route); pos++ {
		trial := make([]int, 0, len(route)+1)
		trial = append(trial, route[:pos]...)
		trial = append(trial, ci)
		trial = append(trial, route[pos:]...)
		if ev := o.evaluate(trial); ev.feasible && (bestRoute == nil || ev.better(best)) {
			bestRoute, best = trial, ev
		}
	}
	return bestRoute, bestRoute != nil
}

// improve applies first-improvement 2-opt reversals until no reversal helps
// or a budget runs out.
func (o *optimizer) improve(route []int, best evaluation) ([]int, evaluation) {
	budget := o.cfg.MaxIterations
	used := 0
	for improved := true; improved; {
		improved = false
		for i := 0; i < len(route)-1 && !improved; i++ {
			for j := i + 1; j < len(route); j++ {
				if used >= budget || o.expired() {
					return route, best
				}
				used++
				trial := reversed(route, i, j)
				if ev := o.evaluate(trial); ev.better(best) {
					route, best = trial, ev
					improved = true
					break
				}
			}
		}
	}
	return route, best
}

func (o *optimizer) expired() bool {
	return !o.deadline.IsZero() && time.Now().After(o.deadline)
}

// trim drops visits that transfer nothing, keeping the full route when the
// shortened one is not feasible.
func (o *optimizer) trim(route []int, full evaluation) evaluation {
	kept := make([]int, 0, len(route))
	for k, ci := range route {
		if full.visits[k].Transfer != 0 {
			kept = append(kept, ci)
		}
	}
	if len(kept) == len(route) {
		return full
	}
	if ev := o.evaluate(kept); ev.feasible && ev.delivered == full.delivered && ev.moved == full.moved {
		return ev
	}
	logrus.Warnf("Keeping %d idle visits: shortened route is not feasible", len(route)-len(kept))
	return full
}

func reversed(route []int, i, j int) []int {
	out := make([]int, len(route))
	copy(out, route)
	for ; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func hasStation(levels []sim.StationLevel, id sim.StationID) bool {
	for _, l := range levels {
		if l.ID == id {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
