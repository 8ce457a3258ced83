package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim/internal/testutil"
)

type nearestHit struct {
	id     StationID
	distKm float64
}

// stubRoutes is a RouteProvider with hand-set nearest stations and legs.
type stubRoutes struct {
	nearest map[Point]nearestHit
	legs    map[[2]StationID]*Leg
}

func newStubRoutes() *stubRoutes {
	return &stubRoutes{nearest: make(map[Point]nearestHit), legs: make(map[[2]StationID]*Leg)}
}

func (s *stubRoutes) NearestStation(p Point) (StationID, float64, error) {
	hit, ok := s.nearest[p]
	if !ok {
		return "", 0, fmt.Errorf("no station near %s", p)
	}
	return hit.id, hit.distKm, nil
}

func (s *stubRoutes) Route(from, to StationID) (*Leg, error) {
	leg, ok := s.legs[[2]StationID{from, to}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, from, to)
	}
	return leg, nil
}

func (s *stubRoutes) addLeg(from, to StationID, km float64, seconds int64) {
	s.legs[[2]StationID{from, to}] = &Leg{From: from, To: to, DistanceKm: km, DurationSec: seconds}
}

// pin registers a unique point that resolves to station id at distKm and returns it.
func (s *stubRoutes) pin(id StationID, distKm float64) Point {
	p := Point{Lon: float64(len(s.nearest)) / 1000, Lat: 1}
	s.nearest[p] = nearestHit{id: id, distKm: distKm}
	return p
}

// trip builds a trip whose endpoints resolve to the given stations.
func (s *stubRoutes) trip(id string, departure int64, from StationID, walkTo float64, to StationID, walkFrom float64) *Trip {
	return &Trip{ID: id, Departure: departure, Origin: s.pin(from, walkTo), Destination: s.pin(to, walkFrom)}
}

func intPtr(v int) *int { return &v }

func station(id StationID, capacity, bikes, docks int) StationConfig {
	return StationConfig{
		ID:           id,
		Location:     Point{Lon: 13.4, Lat: 52.5},
		BikeCapacity: capacity,
		DockCapacity: capacity,
		Bikes:        bikes,
		Docks:        intPtr(docks),
	}
}

// twoStationSetup is the A/B layout used by the end-to-end journey examples:
// A holds one bike, B is empty, and A->B takes 300 s.
func twoStationSetup(t *testing.T) (*Simulator, *stubRoutes) {
	t.Helper()
	stations, err := NewStationSet([]StationConfig{station("A", 5, 1, 4), station("B", 5, 0, 5)})
	require.NoError(t, err)
	routes := newStubRoutes()
	routes.addLeg("A", "B", 1.2, 300)
	s, err := NewSimulator(DefaultConfig(), stations, routes)
	require.NoError(t, err)
	return s, routes
}

// goldenSimulator builds a simulator and trip stream from a golden scenario.
func goldenSimulator(t *testing.T, tc testutil.GoldenTestCase) (*Simulator, []*Trip) {
	t.Helper()
	configs := make([]StationConfig, 0, len(tc.Stations))
	for _, st := range tc.Stations {
		configs = append(configs, station(StationID(st.ID), st.Capacity, st.Bikes, st.Docks))
	}
	stations, err := NewStationSet(configs)
	require.NoError(t, err)

	routes := newStubRoutes()
	for _, l := range tc.Legs {
		routes.addLeg(StationID(l.From), StationID(l.To), l.DistanceKm, l.DurationSec)
	}
	trips := make([]*Trip, 0, len(tc.Trips))
	for _, tr := range tc.Trips {
		trips = append(trips, routes.trip(tr.ID, tr.Departure, StationID(tr.Origin), tr.WalkToKm, StationID(tr.Destination), tr.WalkFromKm))
	}

	cfg := DefaultConfig()
	if tc.MaxTotalWalkKm != nil {
		cfg.MaxTotalWalkKm = *tc.MaxTotalWalkKm
	}
	s, err := NewSimulator(cfg, stations, routes)
	require.NoError(t, err)
	return s, trips
}
