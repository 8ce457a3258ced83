package sim

import "github.com/sirupsen/logrus"

// Event defines the interface for all simulation events.
// Each event must have a Timestamp (in simulated seconds) and an Execute method
// that advances simulation state when invoked.
type Event interface {
	Timestamp() int64
	Execute(*Simulator)
}

// DepartureEvent admits a trip into the simulation at its departure time.
type DepartureEvent struct {
	time    int64    // Simulation time of departure (seconds)
	Journey *Journey // The journey created for the departing trip
}

// Timestamp returns the scheduled time of the DepartureEvent.
func (e *DepartureEvent) Timestamp() int64 {
	return e.time
}

// Execute runs the journey's first transitions.
func (e *DepartureEvent) Execute(sim *Simulator) {
	logrus.Infof("<< Departure: %s at %d s", e.Journey.Trip.ID, e.time)
	sim.active++
	e.Journey.Step(sim, e.time)
}

// JourneyEvent resumes a suspended journey once its delay has elapsed.
type JourneyEvent struct {
	time    int64
	Journey *Journey
}

// Timestamp returns the scheduled time of the JourneyEvent.
func (e *JourneyEvent) Timestamp() int64 {
	return e.time
}

// Execute re-enters the journey state machine.
func (e *JourneyEvent) Execute(sim *Simulator) {
	logrus.Debugf("<< Resume: %s (%s) at %d s", e.Journey.Trip.ID, e.Journey.State, e.time)
	e.Journey.Step(sim, e.time)
}

// SnapshotEvent records station availability and reschedules itself every
// SnapshotInterval seconds until the horizon.
type SnapshotEvent struct {
	time int64
}

// Timestamp returns the scheduled time of the SnapshotEvent.
func (e *SnapshotEvent) Timestamp() int64 {
	return e.time
}

// Execute captures a station snapshot and schedules the next one.
func (e *SnapshotEvent) Execute(sim *Simulator) {
	levels := sim.Stations.Snapshot()
	sim.Recorder.ObserveSnapshot(e.time, levels)
	for _, o := range sim.observers {
		o.ObserveSnapshot(e.time, levels)
	}
	next := e.time + sim.Config.SnapshotInterval
	if next <= sim.Horizon {
		sim.Schedule(&SnapshotEvent{time: next})
	}
}
