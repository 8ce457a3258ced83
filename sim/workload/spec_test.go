package workload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demandYAML = `
version: "1"
seed: 42
start_hour: 6
arrival:
  process: poisson
hourly_trips: [0, 0, 0, 0, 0, 10, 60, 120, 90, 40, 30, 30, 40, 30, 30, 40, 60, 120, 90, 40, 20, 10, 0, 0]
poi_types:
  home:
    points:
      - {name: north, lon: 13.40, lat: 52.52, radius_m: 150}
      - {name: south, lon: 13.41, lat: 52.50, radius_m: 150}
  work:
    points:
      - {lon: 13.38, lat: 52.51, radius_m: 80}
  sport:
    fallback: park
  park:
    points:
      - {lon: 13.36, lat: 52.51}
poi_weights:
  home: [1, 1, 1, 1, 1, 1, 3, 3, 2, 1, 1, 1, 1, 1, 1, 1, 2, 3, 3, 2, 1, 1, 1, 1]
  work: [0, 0, 0, 0, 0, 1, 3, 3, 2, 1, 1, 1, 1, 1, 1, 1, 2, 3, 1, 0, 0, 0, 0, 0]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func validSpec() *DemandSpec {
	hourly := make([]float64, HoursPerDay)
	for h := range hourly {
		hourly[h] = 60
	}
	return &DemandSpec{
		Seed:        1,
		HourlyTrips: hourly,
		PoiTypes: map[string]PoiTypeSpec{
			"home": {Points: []PoiSpec{{Lon: 13.40, Lat: 52.52}}},
			"work": {Points: []PoiSpec{{Lon: 13.38, Lat: 52.51, RadiusM: 100}}},
		},
	}
}

func TestLoadDemandSpec_ValidYAML_LoadsCorrectly(t *testing.T) {
	path := writeFile(t, "demand.yaml", demandYAML)

	spec, err := LoadDemandSpec(path)
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, int64(42), spec.Seed)
	assert.Equal(t, 6, spec.StartHour)
	assert.Len(t, spec.HourlyTrips, HoursPerDay)
	assert.Len(t, spec.PoiTypes["home"].Points, 2)
	assert.Equal(t, "north", spec.PoiTypes["home"].Points[0].Name)
	assert.Equal(t, "park", spec.PoiTypes["sport"].Fallback)
	assert.Equal(t, 150.0, spec.PoiTypes["home"].Points[0].RadiusM)
}

func TestLoadDemandSpec_UnknownKey_Rejected(t *testing.T) {
	path := writeFile(t, "demand.yaml", "seed: 1\nhourly_tripz: []\n")
	_, err := LoadDemandSpec(path)
	assert.Error(t, err)
}

func TestLoadDemandSpec_MissingFile_Error(t *testing.T) {
	_, err := LoadDemandSpec(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDemandSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *DemandSpec)
	}{
		{"start hour out of range", func(s *DemandSpec) { s.StartHour = 24 }},
		{"negative max trips", func(s *DemandSpec) { s.MaxTrips = -1 }},
		{"unknown arrival process", func(s *DemandSpec) { s.Arrival.Process = "bursty" }},
		{"non-positive cv", func(s *DemandSpec) { cv := 0.0; s.Arrival = ArrivalSpec{Process: "gamma", CV: &cv} }},
		{"weibull cv out of range", func(s *DemandSpec) { cv := 11.0; s.Arrival = ArrivalSpec{Process: "weibull", CV: &cv} }},
		{"short hourly table", func(s *DemandSpec) { s.HourlyTrips = s.HourlyTrips[:23] }},
		{"negative hourly rate", func(s *DemandSpec) { s.HourlyTrips[3] = -1 }},
		{"no poi types", func(s *DemandSpec) { s.PoiTypes = nil }},
		{"unknown fallback", func(s *DemandSpec) { s.PoiTypes["sport"] = PoiTypeSpec{Fallback: "gym"} }},
		{"invalid poi coordinate", func(s *DemandSpec) {
			s.PoiTypes["home"] = PoiTypeSpec{Points: []PoiSpec{{Lon: 200, Lat: 0}}}
		}},
		{"negative radius", func(s *DemandSpec) {
			s.PoiTypes["home"] = PoiTypeSpec{Points: []PoiSpec{{Lon: 1, Lat: 1, RadiusM: -5}}}
		}},
		{"weights for unknown type", func(s *DemandSpec) { s.PoiWeights = map[string][]float64{"shop": make([]float64, 24)} }},
		{"short weight table", func(s *DemandSpec) { s.PoiWeights = map[string][]float64{"home": {1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a valid spec with one field broken
			s := validSpec()
			tt.mutate(s)

			// WHEN validated
			err := s.Validate()

			// THEN it is rejected as invalid demand
			assert.ErrorIs(t, err, ErrInvalidDemand)
		})
	}
	assert.NoError(t, validSpec().Validate())
}

func TestDemandSpec_ResolveType_FollowsFallbackChain(t *testing.T) {
	s := validSpec()
	s.PoiTypes["uni"] = PoiTypeSpec{Fallback: "edu"}
	s.PoiTypes["edu"] = PoiTypeSpec{Fallback: "home"}
	s.PoiTypes["loop_a"] = PoiTypeSpec{Fallback: "loop_b"}
	s.PoiTypes["loop_b"] = PoiTypeSpec{Fallback: "loop_a"}
	s.PoiTypes["dead_end"] = PoiTypeSpec{}

	assert.Equal(t, "work", s.resolveType("work"))
	assert.Equal(t, "home", s.resolveType("uni"))
	assert.Equal(t, "", s.resolveType("loop_a"))
	assert.Equal(t, "", s.resolveType("dead_end"))
	assert.Equal(t, "", s.resolveType("missing"))
}
