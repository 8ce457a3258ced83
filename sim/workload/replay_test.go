package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

func TestLoadTrips_ValidFile(t *testing.T) {
	path := writeFile(t, "trips.yaml", `
trips:
  - id: t1
    departure: 0
    origin: {lon: 13.40, lat: 52.52}
    destination: {lon: 13.38, lat: 52.51}
  - id: t2
    departure: 1
    origin: {lon: 13.40, lat: 52.52}
    destination: {lon: 13.38, lat: 52.51}
    origin_type: home
`)
	trips, err := LoadTrips(path)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, "t2", trips[1].ID)
	assert.Equal(t, int64(1), trips[1].Departure)
	assert.Equal(t, "home", trips[1].OriginType)
	assert.Equal(t, sim.Point{Lon: 13.38, Lat: 52.51}, trips[0].Destination)
}

func TestLoadTrips_UnknownKey_Rejected(t *testing.T) {
	path := writeFile(t, "trips.yaml", "trips:\n  - id: t1\n    depart: 3\n")
	_, err := LoadTrips(path)
	assert.Error(t, err)
}

func TestValidateTrips(t *testing.T) {
	p := sim.Point{Lon: 1, Lat: 1}
	tests := []struct {
		name  string
		trips []*sim.Trip
	}{
		{"nil trip", []*sim.Trip{nil}},
		{"missing id", []*sim.Trip{{Origin: p, Destination: p}}},
		{"duplicate id", []*sim.Trip{{ID: "a", Origin: p, Destination: p}, {ID: "a", Departure: 1, Origin: p, Destination: p}}},
		{"negative departure", []*sim.Trip{{ID: "a", Departure: -1, Origin: p, Destination: p}}},
		{"out of order", []*sim.Trip{{ID: "a", Departure: 5, Origin: p, Destination: p}, {ID: "b", Departure: 4, Origin: p, Destination: p}}},
		{"bad coordinate", []*sim.Trip{{ID: "a", Origin: sim.Point{Lon: 1, Lat: 95}, Destination: p}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateTrips(tt.trips), ErrInvalidDemand)
		})
	}
}
