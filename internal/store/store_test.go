package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

type execCall struct {
	query string
	args  []any
}

type fakeExec struct {
	calls  []execCall
	failOn string
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("relation does not exist")
	}
	f.calls = append(f.calls, execCall{query, args})
	return nil, nil
}

func sampleReport() sim.Report {
	return sim.Report{
		SimEndedTime:  3600,
		OutcomeCounts: map[sim.Outcome]int{sim.OutcomeSuccess: 1, sim.OutcomeFailureNoBike: 1},
		TotalWalkKm:   0.3,
		TotalCycleKm:  1.5,
		StationUsage: map[sim.StationID]*sim.StationUsage{
			"B": {Dropoffs: 1},
			"A": {Pickups: 1, NoBikeFailures: 1},
		},
		Trips: []sim.TripRecord{
			{TripID: "t1", Outcome: sim.OutcomeSuccess, EndTime: 420, OriginStation: "A", DestinationStation: "B", WalkToKm: 0.1, WalkFromKm: 0.2, CycleKm: 1.5},
			{TripID: "t2", Outcome: sim.OutcomeFailureWalkTooFar},
		},
	}
}

func TestWriteRun_InsertsRunTripsAndUsage(t *testing.T) {
	// GIVEN a run with two trips and two stations
	run := NewRun(42, 3600, sampleReport())
	ex := &fakeExec{}

	// WHEN written
	require.NoError(t, writeRun(context.Background(), ex, run))

	// THEN one run row, one row per trip, one row per station in id order
	require.Len(t, ex.calls, 5)
	assert.Contains(t, ex.calls[0].query, "INSERT INTO sim_runs")
	assert.Equal(t, run.ID.String(), ex.calls[0].args[0])
	assert.Equal(t, int64(42), ex.calls[0].args[2])
	assert.Equal(t, 1, ex.calls[0].args[5])
	assert.Equal(t, 1, ex.calls[0].args[6])
	assert.JSONEq(t, `{"success":1,"failure-no-bike":1}`, ex.calls[0].args[9].(string))

	assert.Contains(t, ex.calls[1].query, "INSERT INTO sim_trips")
	assert.Equal(t, "t1", ex.calls[1].args[1])
	assert.InDelta(t, 0.3, ex.calls[1].args[7].(float64), 1e-12)
	assert.Equal(t, sql.NullString{}, ex.calls[2].args[5])

	assert.Equal(t, "A", ex.calls[3].args[1])
	assert.Equal(t, "B", ex.calls[4].args[1])
}

func TestWriteRun_StopsOnFirstError(t *testing.T) {
	ex := &fakeExec{failOn: "sim_trips"}
	err := writeRun(context.Background(), ex, NewRun(1, 10, sampleReport()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert trip t1")
	assert.Len(t, ex.calls, 1)
}

func TestNewRun_UniqueIDs(t *testing.T) {
	a := NewRun(1, 10, sim.Report{})
	b := NewRun(1, 10, sim.Report{})
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uuid.Version(4), a.ID.Version())
}

// TestStore_Postgres runs against a live database when TEST_DATABASE_URL is set.
func TestStore_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureSchema(ctx))
	run := NewRun(7, 3600, sampleReport())
	require.NoError(t, s.SaveRun(ctx, run))

	var trips int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT count(*) FROM sim_trips WHERE run_id = $1`, run.ID.String()).Scan(&trips))
	assert.Equal(t, 2, trips)

	_, err = s.db.ExecContext(ctx, `DELETE FROM sim_runs WHERE run_id = $1`, run.ID.String())
	require.NoError(t, err)
}
