package publisher

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []published
	fail    error
	drained bool
	closed  bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func (f *fakeConn) Drain() error { f.drained = true; return nil }
func (f *fakeConn) Close()       { f.closed = true }

type fakeMetrics struct {
	published, errs, observed int
}

func (m *fakeMetrics) NATSPublishedInc()            { m.published++ }
func (m *fakeMetrics) NATSPublishErrInc()           { m.errs++ }
func (m *fakeMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *fakeMetrics) NATSSetConnected(bool)        {}

func TestObserveTrip_SubjectAndPayload(t *testing.T) {
	// GIVEN a publisher over a recording connection
	nc := &fakeConn{}
	m := &fakeMetrics{}
	p := newPublisher(nc, "bikeshare.trips", "run-1", false, m)

	// WHEN a completed trip from a station with a dotted id is observed
	p.ObserveTrip(sim.TripRecord{
		TripID: "trip_7", Outcome: sim.OutcomeSuccess, Departure: 10, EndTime: 430,
		OriginStation: "Main St.", DestinationStation: "B",
		WalkToKm: 0.1, WalkFromKm: 0.25, CycleKm: 1.2, BikeTaken: true,
	})

	// THEN the subject tokens are sanitised and the payload carries the run id
	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "bikeshare.trips.success.Main_St_", nc.msgs[0].subject)
	var msg TripMessage
	require.NoError(t, json.Unmarshal(nc.msgs[0].data, &msg))
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, "trip_7", msg.TripID)
	assert.Equal(t, int64(430), msg.EndTime)
	assert.InDelta(t, 0.35, msg.WalkKm, 1e-12)
	assert.Equal(t, 1, m.published)
	assert.Equal(t, 1, m.observed)
}

func TestObserveTrip_UnresolvedOrigin(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "bikes", "r", false, nil)
	p.ObserveTrip(sim.TripRecord{TripID: "x", Outcome: sim.OutcomeFailureNoRoute})
	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "bikes.failure-no-route.unresolved", nc.msgs[0].subject)
}

func TestObserveSnapshot(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "bikes", "r", true, nil)
	p.ObserveSnapshot(3600, []sim.StationLevel{{ID: "A", Bikes: 2, Docks: 8}})

	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "bikes.snapshot", nc.msgs[0].subject)
	var msg SnapshotMessage
	require.NoError(t, json.Unmarshal(nc.msgs[0].data, &msg))
	assert.Equal(t, int64(3600), msg.Clock)
	assert.Equal(t, 2, msg.Levels[0].Bikes)
}

func TestPublishErrorIsCountedNotRaised(t *testing.T) {
	nc := &fakeConn{fail: errors.New("nats: connection closed")}
	m := &fakeMetrics{}
	p := newPublisher(nc, "bikes", "r", false, m)

	assert.NotPanics(t, func() { p.ObserveTrip(sim.TripRecord{TripID: "x", Outcome: sim.OutcomeSuccess}) })
	assert.Equal(t, 1, m.errs)
	assert.Zero(t, m.published)
}

func TestClose_DrainsThenCloses(t *testing.T) {
	nc := &fakeConn{}
	newPublisher(nc, "bikes", "r", false, nil).Close()
	assert.True(t, nc.drained)
	assert.True(t, nc.closed)
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"":            "_",
		"  ":          "_",
		"a b":         "a_b",
		"x.y":         "x_y",
		"wild*card>":  "wild_card_",
		"dock/north":  "dock_north",
		"station_042": "station_042",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}
