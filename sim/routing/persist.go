package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// ErrStaleCache is returned when a cache file was built for a different station placement.
var ErrStaleCache = errors.New("route cache does not match stations")

type cacheFile struct {
	Fingerprint string         `json:"fingerprint"`
	Stations    []stationEntry `json:"stations"`
	Legs        []*sim.Leg     `json:"legs"`
}

// Fingerprint hashes the station ids and locations; capacities do not affect routes.
func Fingerprint(stations []sim.StationConfig) string {
	h := sha256.New()
	for _, st := range stations {
		h.Write([]byte(st.ID))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(st.Location.Lon, 'g', -1, 64)))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatFloat(st.Location.Lat, 'g', -1, 64)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Save writes the reachable legs and the station fingerprint as JSON.
func (c *Cache) Save(path string) error {
	f := cacheFile{Fingerprint: c.fingerprint, Stations: c.stations}
	for i := range c.legs {
		for j, leg := range c.legs[i] {
			if leg != nil && i != j {
				f.Legs = append(f.Legs, leg)
			}
		}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding route cache: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating route cache dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing route cache: %w", err)
	}
	logrus.Infof("Saved %d computed routes to %s", len(f.Legs), path)
	return nil
}

// Load reads a cache file and checks it against the current stations.
func Load(path string, stations []sim.StationConfig) (*Cache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route cache: %w", err)
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing route cache: %w", err)
	}
	if f.Fingerprint != Fingerprint(stations) {
		return nil, ErrStaleCache
	}
	c := newCache(stations)
	for i := range c.stations {
		c.legs[i][i] = &sim.Leg{From: c.stations[i].ID, To: c.stations[i].ID}
	}
	for _, leg := range f.Legs {
		i, okI := c.index[leg.From]
		j, okJ := c.index[leg.To]
		if !okI || !okJ {
			return nil, fmt.Errorf("%w: leg %s -> %s", ErrStaleCache, leg.From, leg.To)
		}
		c.legs[i][j] = leg
	}
	logrus.Infof("Loaded %d station routes from %s", len(f.Legs), path)
	return c, nil
}

// LoadOrBuild returns the cache stored at path when it matches the stations,
// otherwise builds a fresh one and stores it. An empty path disables the file.
func LoadOrBuild(path string, stations []sim.StationConfig, g *StreetGraph, m *Matrix, opts Options) (*Cache, error) {
	if path != "" {
		c, err := Load(path, stations)
		if err == nil {
			return c, nil
		}
		logrus.Infof("Route cache %s unusable (%v); precomputing station routes", path, err)
	}
	c, err := Build(stations, g, m, opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := c.Save(path); err != nil {
			logrus.Warnf("Could not save route cache: %v", err)
		}
	}
	return c, nil
}
