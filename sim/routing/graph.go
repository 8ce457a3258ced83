package routing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/graph/simple"
	"gopkg.in/yaml.v3"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// ErrInvalidGraph marks a malformed street graph.
var ErrInvalidGraph = errors.New("invalid street graph")

// StreetNode is an intersection of the street network.
type StreetNode struct {
	ID  int64   `yaml:"id" json:"id"`
	Lon float64 `yaml:"lon" json:"lon"`
	Lat float64 `yaml:"lat" json:"lat"`
}

// StreetEdge is a bike-friendly way between two intersections.
type StreetEdge struct {
	From      int64   `yaml:"from" json:"from"`
	To        int64   `yaml:"to" json:"to"`
	LengthM   float64 `yaml:"length_m" json:"length_m"`
	SpeedKmph float64 `yaml:"speed_kmph,omitempty" json:"speed_kmph,omitempty"` // 0 = cycling speed
	Oneway    bool    `yaml:"oneway,omitempty" json:"oneway,omitempty"`
}

// StreetGraph is the weighted street network supplied by the network-acquisition
// collaborator. It is consumed read-only.
type StreetGraph struct {
	Nodes []StreetNode `yaml:"nodes" json:"nodes"`
	Edges []StreetEdge `yaml:"edges" json:"edges"`
}

// LoadStreetGraph reads a YAML (or JSON) street graph.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadStreetGraph(path string) (*StreetGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading street graph: %w", err)
	}
	var g StreetGraph
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("parsing street graph: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	logrus.Infof("Loaded street graph with %d nodes and %d edges", len(g.Nodes), len(g.Edges))
	return &g, nil
}

// Validate checks node uniqueness and edge endpoints and lengths.
func (g *StreetGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	seen := make(map[int64]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node %d", ErrInvalidGraph, n.ID)
		}
		if !(sim.Point{Lon: n.Lon, Lat: n.Lat}).Valid() {
			return fmt.Errorf("%w: node %d has invalid coordinate", ErrInvalidGraph, n.ID)
		}
		seen[n.ID] = true
	}
	for i, e := range g.Edges {
		if !seen[e.From] || !seen[e.To] {
			return fmt.Errorf("%w: edge[%d] %d->%d references unknown node", ErrInvalidGraph, i, e.From, e.To)
		}
		if math.IsNaN(e.LengthM) || math.IsInf(e.LengthM, 0) || e.LengthM <= 0 {
			return fmt.Errorf("%w: edge[%d] length_m must be positive, got %f", ErrInvalidGraph, i, e.LengthM)
		}
		if e.SpeedKmph < 0 {
			return fmt.Errorf("%w: edge[%d] speed_kmph must be non-negative, got %f", ErrInvalidGraph, i, e.SpeedKmph)
		}
	}
	return nil
}

type edgeKey struct{ from, to int64 }

type edgeAttr struct {
	lengthKm float64
	seconds  float64
}

// network is the gonum view of a StreetGraph weighted by cycling time.
type network struct {
	g      *simple.WeightedDirectedGraph
	attrs  map[edgeKey]edgeAttr
	coords map[int64]sim.Point
	ids    []int64 // node ids in input order, for deterministic snapping
}

func newNetwork(sg *StreetGraph, cyclingSpeedKmph float64) *network {
	n := &network{
		g:      simple.NewWeightedDirectedGraph(0, math.Inf(1)),
		attrs:  make(map[edgeKey]edgeAttr, 2*len(sg.Edges)),
		coords: make(map[int64]sim.Point, len(sg.Nodes)),
		ids:    make([]int64, 0, len(sg.Nodes)),
	}
	for _, node := range sg.Nodes {
		if n.g.Node(node.ID) == nil {
			n.g.AddNode(simple.Node(node.ID))
		}
		n.coords[node.ID] = sim.Point{Lon: node.Lon, Lat: node.Lat}
		n.ids = append(n.ids, node.ID)
	}
	for _, e := range sg.Edges {
		if e.From == e.To {
			continue
		}
		speed := cyclingSpeedKmph
		if e.SpeedKmph > 0 {
			speed = min(speed, e.SpeedKmph)
		}
		attr := edgeAttr{lengthKm: e.LengthM / 1000, seconds: e.LengthM / 1000 / speed * 3600}
		n.setEdge(e.From, e.To, attr)
		if !e.Oneway {
			n.setEdge(e.To, e.From, attr)
		}
	}
	return n
}

// setEdge keeps the fastest of parallel edges.
func (n *network) setEdge(from, to int64, attr edgeAttr) {
	k := edgeKey{from, to}
	if prev, ok := n.attrs[k]; ok && prev.seconds <= attr.seconds {
		return
	}
	n.attrs[k] = attr
	n.g.SetWeightedEdge(n.g.NewWeightedEdge(simple.Node(from), simple.Node(to), attr.seconds))
}

// snap returns the node closest to p.
func (n *network) snap(p sim.Point) int64 {
	best, bestDist := n.ids[0], math.Inf(1)
	for _, id := range n.ids {
		if d := sim.Haversine(p, n.coords[id]); d < bestDist {
			best, bestDist = id, d
		}
	}
	return best
}
