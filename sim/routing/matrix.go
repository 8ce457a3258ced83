package routing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// ErrInvalidMatrix marks a malformed external distance/duration matrix.
var ErrInvalidMatrix = errors.New("invalid route matrix")

// Matrix is a distance/duration table supplied by an external routing service.
// Rows and columns follow the Stations order. Negative entries mark pairs with no route.
type Matrix struct {
	Stations    []sim.StationID `yaml:"stations" json:"stations"`
	DurationsS  [][]float64     `yaml:"durations_s" json:"durations_s"`
	DistancesKm [][]float64     `yaml:"distances_km" json:"distances_km"`

	index map[sim.StationID]int
}

// LoadMatrix reads a YAML (or JSON) matrix file with strict field checking.
func LoadMatrix(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route matrix: %w", err)
	}
	var m Matrix
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing route matrix: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the matrix shape and builds the station index.
func (m *Matrix) Validate() error {
	n := len(m.Stations)
	if n == 0 {
		return fmt.Errorf("%w: no stations", ErrInvalidMatrix)
	}
	m.index = make(map[sim.StationID]int, n)
	for i, id := range m.Stations {
		if _, dup := m.index[id]; dup {
			return fmt.Errorf("%w: duplicate station %q", ErrInvalidMatrix, id)
		}
		m.index[id] = i
	}
	if err := checkSquare("durations_s", m.DurationsS, n); err != nil {
		return err
	}
	if len(m.DistancesKm) > 0 {
		if err := checkSquare("distances_km", m.DistancesKm, n); err != nil {
			return err
		}
	}
	return nil
}

func checkSquare(name string, rows [][]float64, n int) error {
	if len(rows) != n {
		return fmt.Errorf("%w: %s has %d rows, want %d", ErrInvalidMatrix, name, len(rows), n)
	}
	for i, row := range rows {
		if len(row) != n {
			return fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrInvalidMatrix, name, i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d][%d] must be finite", ErrInvalidMatrix, name, i, j)
			}
		}
	}
	return nil
}

// lookup returns the matrix entry for a pair; ok is false when either station is absent.
// reachable is false when the service reported no route.
func (m *Matrix) lookup(from, to sim.StationID) (durationS, distanceKm float64, ok, reachable bool) {
	if m == nil || m.index == nil {
		return 0, 0, false, false
	}
	i, okI := m.index[from]
	j, okJ := m.index[to]
	if !okI || !okJ {
		return 0, 0, false, false
	}
	durationS = m.DurationsS[i][j]
	distanceKm = -1
	if len(m.DistancesKm) > 0 {
		distanceKm = m.DistancesKm[i][j]
	}
	return durationS, distanceKm, true, durationS >= 0
}

// Duration implements the optimizer's matrix contract directly on the external table.
func (m *Matrix) Duration(from, to sim.StationID) (float64, error) {
	d, _, ok, reachable := m.lookup(from, to)
	if !ok {
		return 0, fmt.Errorf("%w: %q or %q", sim.ErrUnknownStation, from, to)
	}
	if !reachable {
		return 0, fmt.Errorf("%w: %s -> %s", sim.ErrUnreachable, from, to)
	}
	return d, nil
}
