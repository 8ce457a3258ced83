// Package workload turns a demand description into a time-ordered stream of
// sim.Trip requests. Generation is deterministic for a given spec and seed.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// ErrInvalidDemand marks a demand spec that cannot generate trips.
var ErrInvalidDemand = errors.New("invalid demand spec")

// HoursPerDay is the length of every per-hour table in a DemandSpec.
const HoursPerDay = 24

// DemandSpec is the top-level demand configuration.
// Loaded from YAML via LoadDemandSpec(path).
type DemandSpec struct {
	Version   string `yaml:"version"`
	Seed      int64  `yaml:"seed"`
	StartHour int    `yaml:"start_hour"`          // wall-clock hour at t=0
	MaxTrips  int    `yaml:"max_trips,omitempty"` // 0 = unlimited (use horizon only)

	Arrival ArrivalSpec `yaml:"arrival"`
	// HourlyTrips is the expected number of trips started in each wall-clock hour.
	HourlyTrips []float64 `yaml:"hourly_trips"`
	// PoiTypes maps a POI type (home, work, park, ...) to its locations.
	PoiTypes map[string]PoiTypeSpec `yaml:"poi_types"`
	// PoiWeights maps a POI type to its relative weight in each hour.
	// Hours where every weight is zero pick a type uniformly.
	PoiWeights map[string][]float64 `yaml:"poi_weights,omitempty"`
}

// ArrivalSpec configures the inter-arrival time process.
type ArrivalSpec struct {
	Process string   `yaml:"process"`
	CV      *float64 `yaml:"cv,omitempty"`
}

func (a ArrivalSpec) cv() float64 {
	if a.CV != nil {
		return *a.CV
	}
	return 1.0
}

// PoiTypeSpec lists the points of interest of one type.
type PoiTypeSpec struct {
	Points []PoiSpec `yaml:"points"`
	// Fallback names the type used when this one has no points.
	Fallback string `yaml:"fallback,omitempty"`
}

// PoiSpec is one point of interest. Trips start or end uniformly within RadiusM of it.
type PoiSpec struct {
	Name    string  `yaml:"name,omitempty"`
	Lon     float64 `yaml:"lon"`
	Lat     float64 `yaml:"lat"`
	RadiusM float64 `yaml:"radius_m,omitempty"`
}

// Point returns the POI centre.
func (p PoiSpec) Point() sim.Point { return sim.Point{Lon: p.Lon, Lat: p.Lat} }

var validArrivalProcesses = map[string]bool{
	"": true, "poisson": true, "gamma": true, "weibull": true, "constant": true,
}

// LoadDemandSpec reads and parses a YAML demand file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadDemandSpec(path string) (*DemandSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading demand spec: %w", err)
	}
	var spec DemandSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing demand spec: %w", err)
	}
	return &spec, nil
}

// Validate checks that all fields in the spec are valid.
func (s *DemandSpec) Validate() error {
	if s.StartHour < 0 || s.StartHour >= HoursPerDay {
		return fmt.Errorf("%w: start_hour must be in [0, 23], got %d", ErrInvalidDemand, s.StartHour)
	}
	if s.MaxTrips < 0 {
		return fmt.Errorf("%w: max_trips must be non-negative, got %d", ErrInvalidDemand, s.MaxTrips)
	}
	if !validArrivalProcesses[s.Arrival.Process] {
		return fmt.Errorf("%w: unknown arrival process %q; valid: poisson, gamma, weibull, constant", ErrInvalidDemand, s.Arrival.Process)
	}
	if s.Arrival.CV != nil {
		if err := validateFinitePositive("arrival.cv", *s.Arrival.CV); err != nil {
			return err
		}
		if s.Arrival.Process == "weibull" && (*s.Arrival.CV < 0.01 || *s.Arrival.CV > 10.4) {
			return fmt.Errorf("%w: weibull CV must be in [0.01, 10.4], got %f", ErrInvalidDemand, *s.Arrival.CV)
		}
	}
	if len(s.HourlyTrips) != HoursPerDay {
		return fmt.Errorf("%w: hourly_trips must have %d entries, got %d", ErrInvalidDemand, HoursPerDay, len(s.HourlyTrips))
	}
	for h, v := range s.HourlyTrips {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: hourly_trips[%d] must be finite and non-negative, got %f", ErrInvalidDemand, h, v)
		}
	}
	if len(s.PoiTypes) == 0 {
		return fmt.Errorf("%w: at least one poi type required", ErrInvalidDemand)
	}
	for _, name := range s.typeNames() {
		if err := validatePoiType(name, s.PoiTypes[name], s.PoiTypes); err != nil {
			return err
		}
	}
	for name, weights := range s.PoiWeights {
		if _, ok := s.PoiTypes[name]; !ok {
			return fmt.Errorf("%w: poi_weights references unknown type %q", ErrInvalidDemand, name)
		}
		if len(weights) != HoursPerDay {
			return fmt.Errorf("%w: poi_weights[%s] must have %d entries, got %d", ErrInvalidDemand, name, HoursPerDay, len(weights))
		}
		for h, w := range weights {
			if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
				return fmt.Errorf("%w: poi_weights[%s][%d] must be finite and non-negative, got %f", ErrInvalidDemand, name, h, w)
			}
		}
	}
	return nil
}

func validatePoiType(name string, t PoiTypeSpec, all map[string]PoiTypeSpec) error {
	if t.Fallback != "" {
		if _, ok := all[t.Fallback]; !ok {
			return fmt.Errorf("%w: poi type %q falls back to unknown type %q", ErrInvalidDemand, name, t.Fallback)
		}
	}
	for i, p := range t.Points {
		if !p.Point().Valid() {
			return fmt.Errorf("%w: poi_types[%s].points[%d] has invalid coordinate %s", ErrInvalidDemand, name, i, p.Point())
		}
		if math.IsNaN(p.RadiusM) || math.IsInf(p.RadiusM, 0) || p.RadiusM < 0 {
			return fmt.Errorf("%w: poi_types[%s].points[%d] radius_m must be finite and non-negative, got %f", ErrInvalidDemand, name, i, p.RadiusM)
		}
	}
	return nil
}

// typeNames returns the POI type names in sorted order so map iteration
// never reaches the RNG.
func (s *DemandSpec) typeNames() []string {
	names := make([]string, 0, len(s.PoiTypes))
	for name := range s.PoiTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveType follows the fallback chain until a type with points is found.
// Returns "" when the chain ends or loops without one.
func (s *DemandSpec) resolveType(name string) string {
	for range len(s.PoiTypes) + 1 {
		t, ok := s.PoiTypes[name]
		if !ok {
			return ""
		}
		if len(t.Points) > 0 {
			return name
		}
		if t.Fallback == "" {
			return ""
		}
		name = t.Fallback
	}
	return ""
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %f", ErrInvalidDemand, name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %f", ErrInvalidDemand, name, val)
	}
	return nil
}
