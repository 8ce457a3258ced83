package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
	"github.com/bikeshare-sim/bikeshare-sim/sim/workload"
)

func outcomesByTrip(recs []sim.TripRecord) map[string]sim.Outcome {
	out := make(map[string]sim.Outcome, len(recs))
	for _, r := range recs {
		out[r.TripID] = r.Outcome
	}
	return out
}

func TestRunTrips_ReplayMatchesGeneratedRun(t *testing.T) {
	// GIVEN a trip stream written from the fixture demand over the run horizon
	f := newRunFixture(t)
	opts := f.options("")
	path := filepath.Join(f.dir, "trips.yaml")
	require.NoError(t, runTrips(f.demand, nil, opts.Config.Horizon, path, &bytes.Buffer{}))

	trips, err := workload.LoadTrips(path)
	require.NoError(t, err)
	require.NotEmpty(t, trips)

	// WHEN the demand run and the replay run execute
	generated, err := runSimulation(context.Background(), opts, nil, &bytes.Buffer{})
	require.NoError(t, err)
	replayOpts := opts
	replayOpts.DemandPath = ""
	replayOpts.TripsPath = path
	replayed, err := runSimulation(context.Background(), replayOpts, nil, &bytes.Buffer{})
	require.NoError(t, err)

	// THEN both see the same trips with the same outcomes
	assert.Len(t, generated.Simulator.Recorder.Trips, len(trips))
	assert.Equal(t, outcomesByTrip(generated.Simulator.Recorder.Trips), outcomesByTrip(replayed.Simulator.Recorder.Trips))
}

func TestRunTrips_SeedOverrideToStdout(t *testing.T) {
	f := newRunFixture(t)

	var a, b, c bytes.Buffer
	s1, s2 := int64(1), int64(2)
	require.NoError(t, runTrips(f.demand, &s1, 3600, "", &a))
	require.NoError(t, runTrips(f.demand, &s1, 3600, "", &b))
	require.NoError(t, runTrips(f.demand, &s2, 3600, "", &c))

	assert.Contains(t, a.String(), "trips:")
	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
}

func TestRunTrips_MissingDemand(t *testing.T) {
	err := runTrips(filepath.Join(t.TempDir(), "nope.yaml"), nil, 3600, "", &bytes.Buffer{})
	assert.Error(t, err)
}
