// Package testutil provides shared test infrastructure for the bike-share
// simulator: the golden journey scenarios and float assertion helpers.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Tests []GoldenTestCase `json:"tests"`
}

// GoldenTestCase is one hand-checked scenario: a station layout, fixed legs,
// a trip stream and the outcome every trip must reach.
type GoldenTestCase struct {
	Name           string          `json:"name"`
	MaxTotalWalkKm *float64        `json:"max_total_walk_km,omitempty"` // nil = engine default
	Stations       []GoldenStation `json:"stations"`
	Legs           []GoldenLeg     `json:"legs"`
	Trips          []GoldenTrip    `json:"trips"`
	Expected       GoldenExpected  `json:"expected"`
}

// GoldenStation is a station with equal bike and dock capacity.
type GoldenStation struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
	Bikes    int    `json:"bikes"`
	Docks    int    `json:"docks"`
}

// GoldenLeg is a fixed cycling leg between two stations.
type GoldenLeg struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	DistanceKm  float64 `json:"distance_km"`
	DurationSec int64   `json:"duration_sec"`
}

// GoldenTrip pins both trip endpoints to a station at a given walking distance.
type GoldenTrip struct {
	ID          string  `json:"id"`
	Departure   int64   `json:"departure"`
	Origin      string  `json:"origin"`
	WalkToKm    float64 `json:"walk_to_km"`
	Destination string  `json:"destination"`
	WalkFromKm  float64 `json:"walk_from_km"`
}

// GoldenExpected holds the exact results of a scenario.
type GoldenExpected struct {
	Outcomes       map[string]string `json:"outcomes"`  // trip id -> outcome
	EndTimes       map[string]int64  `json:"end_times"` // trip id -> terminal clock
	FinalBikes     map[string]int    `json:"final_bikes"`
	BikesInTransit int               `json:"bikes_in_transit"`
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "goldendataset.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
