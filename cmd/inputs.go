package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
	"github.com/bikeshare-sim/bikeshare-sim/sim/rebalance"
	"github.com/bikeshare-sim/bikeshare-sim/sim/routing"
)

// StationFile is the station placement input.
type StationFile struct {
	Stations []sim.StationConfig `yaml:"stations"`
}

// SnapshotFile is a station-level snapshot handed to the rebalancer.
type SnapshotFile struct {
	Clock    int64              `yaml:"clock,omitempty"`
	Stations []sim.StationLevel `yaml:"stations"`
}

// decodeStrict parses a YAML file into out, rejecting unknown keys.
func decodeStrict(path, what string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", what, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("parsing %s %s: %w", what, path, err)
	}
	return nil
}

func loadStations(path string) ([]sim.StationConfig, error) {
	var f StationFile
	if err := decodeStrict(path, "stations", &f); err != nil {
		return nil, err
	}
	if len(f.Stations) == 0 {
		return nil, fmt.Errorf("%w: %s lists no stations", sim.ErrInvalidStation, path)
	}
	for i := range f.Stations {
		if err := f.Stations[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Stations, nil
}

func loadSnapshot(path string) (*SnapshotFile, error) {
	var f SnapshotFile
	if err := decodeStrict(path, "snapshot", &f); err != nil {
		return nil, err
	}
	if len(f.Stations) == 0 {
		return nil, fmt.Errorf("%w: %s lists no stations", sim.ErrInvalidStation, path)
	}
	seen := make(map[sim.StationID]bool, len(f.Stations))
	for _, l := range f.Stations {
		if seen[l.ID] {
			return nil, fmt.Errorf("%w: duplicate station %q in snapshot", sim.ErrInvalidStation, l.ID)
		}
		seen[l.ID] = true
		if l.Bikes < 0 || l.Bikes > l.BikeCapacity || l.Docks < 0 || l.Docks > l.DockCapacity {
			return nil, fmt.Errorf("%w: station %s level %d/%d outside capacity %d/%d",
				sim.ErrInvalidStation, l.ID, l.Bikes, l.Docks, l.BikeCapacity, l.DockCapacity)
		}
	}
	return &f, nil
}

// stationsFromLevels recovers the placement of a snapshot so routes can be built for it.
func stationsFromLevels(levels []sim.StationLevel) []sim.StationConfig {
	out := make([]sim.StationConfig, len(levels))
	for i, l := range levels {
		docks := l.Docks
		out[i] = sim.StationConfig{
			ID: l.ID, Location: l.Location,
			BikeCapacity: l.BikeCapacity, DockCapacity: l.DockCapacity,
			Bikes: l.Bikes, Docks: &docks,
		}
	}
	return out
}

// loadRebalanceConfig returns the defaults overlaid with the optional YAML file.
func loadRebalanceConfig(path string) (rebalance.Config, error) {
	cfg := rebalance.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if err := decodeStrict(path, "rebalance config", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// routeInputs names the optional files the route cache is derived from.
type routeInputs struct {
	GraphPath  string
	MatrixPath string
	CachePath  string
	Options    routing.Options
}

func loadRoutes(stations []sim.StationConfig, in routeInputs) (*routing.Cache, error) {
	var g *routing.StreetGraph
	var m *routing.Matrix
	var err error
	if in.GraphPath != "" {
		if g, err = routing.LoadStreetGraph(in.GraphPath); err != nil {
			return nil, err
		}
	}
	if in.MatrixPath != "" {
		if m, err = routing.LoadMatrix(in.MatrixPath); err != nil {
			return nil, err
		}
	}
	if g == nil && m == nil {
		logrus.Warnf("No street graph or matrix given; routing on straight lines x%.2f", in.Options.DetourFactor)
	}
	return routing.LoadOrBuild(in.CachePath, stations, g, m, in.Options)
}

// writeOutput encodes v as JSON when path ends in .json, YAML otherwise.
// An empty path writes YAML to w.
func writeOutput(path string, w io.Writer, v any) error {
	if path == "" {
		return yaml.NewEncoder(w).Encode(v)
	}
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	logrus.Infof("Wrote %s", path)
	return nil
}
