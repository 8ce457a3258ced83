package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadStreetGraph(t *testing.T) {
	path := writeFile(t, "graph.yaml", `
nodes:
  - {id: 1, lon: 13.40, lat: 52.50}
  - {id: 2, lon: 13.41, lat: 52.50}
edges:
  - {from: 1, to: 2, length_m: 700, speed_kmph: 10, oneway: true}
`)
	g, err := LoadStreetGraph(path)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.True(t, g.Edges[0].Oneway)
	assert.Equal(t, 10.0, g.Edges[0].SpeedKmph)
}

func TestLoadStreetGraph_StrictKeys(t *testing.T) {
	path := writeFile(t, "graph.yaml", "nodes:\n  - {id: 1, lon: 1, lat: 1, height: 3}\n")
	_, err := LoadStreetGraph(path)
	assert.Error(t, err)
}

func TestStreetGraph_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *StreetGraph)
	}{
		{"no nodes", func(g *StreetGraph) { g.Nodes = nil }},
		{"duplicate node", func(g *StreetGraph) { g.Nodes = append(g.Nodes, g.Nodes[0]) }},
		{"bad coordinate", func(g *StreetGraph) { g.Nodes[0].Lat = 100 }},
		{"dangling edge", func(g *StreetGraph) { g.Edges[0].To = 99 }},
		{"zero length", func(g *StreetGraph) { g.Edges[0].LengthM = 0 }},
		{"negative speed", func(g *StreetGraph) { g.Edges[0].SpeedKmph = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGraph()
			tt.mutate(g)
			assert.ErrorIs(t, g.Validate(), ErrInvalidGraph)
		})
	}
	assert.NoError(t, testGraph().Validate())
}

func TestNetwork_ParallelEdgesKeepFastest(t *testing.T) {
	g := testGraph()
	g.Edges = append(g.Edges, StreetEdge{From: 1, To: 2, LengthM: 350})
	net := newNetwork(g, 15)
	assert.Equal(t, 0.35, net.attrs[edgeKey{1, 2}].lengthKm)
	assert.Equal(t, 0.35, net.attrs[edgeKey{2, 1}].lengthKm)
}

func TestNetwork_Snap(t *testing.T) {
	net := newNetwork(testGraph(), 15)
	assert.Equal(t, int64(4), net.snap(sim.Point{Lon: 13.4101, Lat: 52.5099}))
}

func TestLoadMatrix(t *testing.T) {
	path := writeFile(t, "matrix.yaml", `
stations: [S1, S3]
durations_s: [[0, 120], [130, 0]]
distances_km: [[0, 1.1], [1.2, 0]]
`)
	m, err := LoadMatrix(path)
	require.NoError(t, err)
	d, err := m.Duration("S3", "S1")
	require.NoError(t, err)
	assert.Equal(t, 130.0, d)
	_, err = m.Duration("S1", "S9")
	assert.ErrorIs(t, err, sim.ErrUnknownStation)
}

func TestMatrix_Validate(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix
	}{
		{"empty", Matrix{}},
		{"duplicate station", Matrix{Stations: []sim.StationID{"A", "A"}, DurationsS: [][]float64{{0, 1}, {1, 0}}}},
		{"short rows", Matrix{Stations: []sim.StationID{"A", "B"}, DurationsS: [][]float64{{0, 1}}}},
		{"short columns", Matrix{Stations: []sim.StationID{"A", "B"}, DurationsS: [][]float64{{0}, {1, 0}}}},
		{"bad distances", Matrix{Stations: []sim.StationID{"A"}, DurationsS: [][]float64{{0}}, DistancesKm: [][]float64{{0, 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.m.Validate(), ErrInvalidMatrix)
		})
	}
}
