// Package routing precomputes the fastest cycling leg between every ordered pair
// of stations and resolves arbitrary points to their nearest station.
//
// A Cache is built once before the simulation starts and is read-only afterwards;
// it is safe for concurrent use.
package routing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// Nearest-station results expire so one-off jittered endpoints do not pile up
// over a long run; POI-centred points keep hitting while they are in use.
const (
	nearestMemoTTL     = 10 * time.Minute
	nearestMemoCleanup = 15 * time.Minute
)

// ErrUnreachable is returned when no path exists between two stations.
var ErrUnreachable = sim.ErrUnreachable

// ErrInvalidPoint is returned by NearestStation for out-of-range coordinates.
var ErrInvalidPoint = errors.New("invalid point")

// Options tunes how legs are derived.
type Options struct {
	CyclingSpeedKmph float64 // default 15
	// DetourFactor scales straight-line distance when no street graph is given.
	DetourFactor float64 // default 1.3
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{CyclingSpeedKmph: 15, DetourFactor: 1.3}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.CyclingSpeedKmph <= 0 || math.IsNaN(o.CyclingSpeedKmph) {
		o.CyclingSpeedKmph = d.CyclingSpeedKmph
	}
	if o.DetourFactor < 1 || math.IsNaN(o.DetourFactor) {
		o.DetourFactor = d.DetourFactor
	}
	return o
}

type stationEntry struct {
	ID       sim.StationID `json:"id"`
	Location sim.Point     `json:"location"`
}

type nearestResult struct {
	id     sim.StationID
	distKm float64
}

// Cache holds the all-pairs leg table and the nearest-station memo.
type Cache struct {
	stations    []stationEntry
	index       map[sim.StationID]int
	legs        [][]*sim.Leg // legs[i][j]; nil = unreachable
	fingerprint string
	nearest     *gocache.Cache
}

// Build computes all-pairs fastest legs. With a street graph, one Dijkstra run
// per station over the cycling-time-weighted graph yields every leg from that
// station; without one, legs are straight lines scaled by the detour factor.
// A non-nil matrix overrides leg distance and duration where it has entries.
func Build(stations []sim.StationConfig, g *StreetGraph, m *Matrix, opts Options) (*Cache, error) {
	if len(stations) == 0 {
		return nil, fmt.Errorf("%w: no stations", sim.ErrInvalidStation)
	}
	opts = opts.withDefaults()
	c := newCache(stations)

	if m != nil {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	var net *network
	var nodeOf []int64
	if g != nil {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		net = newNetwork(g, opts.CyclingSpeedKmph)
		nodeOf = make([]int64, len(c.stations))
		for i, st := range c.stations {
			nodeOf[i] = net.snap(st.Location)
		}
	}

	n := len(c.stations)
	reachable := 0
	for i := 0; i < n; i++ {
		var shortest path.Shortest
		if net != nil {
			shortest = path.DijkstraFrom(simple.Node(nodeOf[i]), net.g)
		}
		for j := 0; j < n; j++ {
			var leg *sim.Leg
			switch {
			case i == j:
				leg = &sim.Leg{From: c.stations[i].ID, To: c.stations[j].ID}
			case net != nil:
				leg = graphLeg(net, shortest, nodeOf[j])
			default:
				leg = directLeg(c.stations[i].Location, c.stations[j].Location, opts)
			}
			if leg != nil {
				leg.From, leg.To = c.stations[i].ID, c.stations[j].ID
				leg = applyMatrix(leg, m)
			}
			c.legs[i][j] = leg
			if leg != nil && i != j {
				reachable++
			}
		}
		logrus.Debugf("Routes from %s computed", c.stations[i].ID)
	}
	logrus.Infof("Route cache built: %d stations, %d/%d reachable pairs", n, reachable, n*(n-1))
	return c, nil
}

func newCache(stations []sim.StationConfig) *Cache {
	c := &Cache{
		stations:    make([]stationEntry, len(stations)),
		index:       make(map[sim.StationID]int, len(stations)),
		legs:        make([][]*sim.Leg, len(stations)),
		fingerprint: Fingerprint(stations),
		nearest:     gocache.New(nearestMemoTTL, nearestMemoCleanup),
	}
	for i, st := range stations {
		c.stations[i] = stationEntry{ID: st.ID, Location: st.Location}
		c.index[st.ID] = i
		c.legs[i] = make([]*sim.Leg, len(stations))
	}
	return c
}

func graphLeg(net *network, shortest path.Shortest, to int64) *sim.Leg {
	nodes, seconds := shortest.To(to)
	if len(nodes) == 0 || math.IsInf(seconds, 1) {
		return nil
	}
	leg := &sim.Leg{
		DurationSec: int64(math.Round(seconds)),
		Geometry:    make([]sim.Point, 0, len(nodes)),
	}
	for k, node := range nodes {
		id := node.ID()
		leg.Geometry = append(leg.Geometry, net.coords[id])
		if k > 0 {
			leg.DistanceKm += net.attrs[edgeKey{nodes[k-1].ID(), id}].lengthKm
		}
	}
	return leg
}

func directLeg(a, b sim.Point, opts Options) *sim.Leg {
	dist := sim.Haversine(a, b) * opts.DetourFactor
	return &sim.Leg{
		DistanceKm:  dist,
		DurationSec: sim.TravelSeconds(dist, opts.CyclingSpeedKmph),
		Geometry:    []sim.Point{a, b},
	}
}

// applyMatrix overrides distance and duration from the external matrix.
// A pair the service reports as unroutable becomes unreachable.
func applyMatrix(leg *sim.Leg, m *Matrix) *sim.Leg {
	if m == nil || leg.From == leg.To {
		return leg
	}
	durationS, distanceKm, ok, reachable := m.lookup(leg.From, leg.To)
	if !ok {
		return leg
	}
	if !reachable {
		return nil
	}
	leg.DurationSec = int64(math.Round(durationS))
	if distanceKm >= 0 {
		leg.DistanceKm = distanceKm
	}
	return leg
}

// Fingerprint identifies the station placement a cache was built for.
func (c *Cache) Fingerprint() string { return c.fingerprint }

// Stations returns the station ids in placement order.
func (c *Cache) Stations() []sim.StationID {
	ids := make([]sim.StationID, len(c.stations))
	for i, st := range c.stations {
		ids[i] = st.ID
	}
	return ids
}

// NearestStation returns the station closest to p by straight-line walking
// distance in km. Ties resolve to the earliest station in placement order.
func (c *Cache) NearestStation(p sim.Point) (sim.StationID, float64, error) {
	if !p.Valid() {
		return "", 0, fmt.Errorf("%w: %s", ErrInvalidPoint, p)
	}
	key := strconv.FormatFloat(p.Lon, 'f', 7, 64) + "," + strconv.FormatFloat(p.Lat, 'f', 7, 64)
	if v, ok := c.nearest.Get(key); ok {
		r := v.(nearestResult)
		return r.id, r.distKm, nil
	}
	best := nearestResult{distKm: math.Inf(1)}
	for _, st := range c.stations {
		if d := sim.Haversine(p, st.Location); d < best.distKm {
			best = nearestResult{id: st.ID, distKm: d}
		}
	}
	c.nearest.Set(key, best, gocache.DefaultExpiration)
	return best.id, best.distKm, nil
}

// Route returns the cached leg from one station to another.
func (c *Cache) Route(from, to sim.StationID) (*sim.Leg, error) {
	i, ok := c.index[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sim.ErrUnknownStation, from)
	}
	j, ok := c.index[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sim.ErrUnknownStation, to)
	}
	leg := c.legs[i][j]
	if leg == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
	}
	return leg, nil
}

// Duration returns the leg duration in seconds; it satisfies the optimizer's matrix contract.
func (c *Cache) Duration(from, to sim.StationID) (float64, error) {
	leg, err := c.Route(from, to)
	if err != nil {
		return 0, err
	}
	return float64(leg.DurationSec), nil
}

// Distance returns the leg distance in km.
func (c *Cache) Distance(from, to sim.StationID) (float64, error) {
	leg, err := c.Route(from, to)
	if err != nil {
		return 0, err
	}
	return leg.DistanceKm, nil
}

var _ sim.RouteProvider = (*Cache)(nil)
