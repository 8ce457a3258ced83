// sim/simulator.go
package sim

import (
	"container/heap"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

var (
	// ErrStaleDeparture is returned when a trip departs before the current clock
	// or before a previously injected trip.
	ErrStaleDeparture = errors.New("stale departure")
	// ErrBeyondHorizon is returned for trips departing after the horizon.
	ErrBeyondHorizon = errors.New("departure beyond horizon")
)

// queuedEvent pairs an event with its insertion sequence number.
type queuedEvent struct {
	ev  Event
	seq uint64
}

// EventQueue implements heap.Interface and orders events by timestamp, then by
// insertion order so equal timestamps replay deterministically.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type EventQueue []queuedEvent

func (eq EventQueue) Len() int { return len(eq) }
func (eq EventQueue) Less(i, j int) bool {
	ti, tj := eq[i].ev.Timestamp(), eq[j].ev.Timestamp()
	if ti != tj {
		return ti < tj
	}
	return eq[i].seq < eq[j].seq
}
func (eq EventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *EventQueue) Push(x any) {
	*eq = append(*eq, x.(queuedEvent))
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

// Observer receives the simulation's output records. Observers run on the
// event loop and must not block it.
type Observer interface {
	ObserveTrip(rec TripRecord)
	ObserveSnapshot(clock int64, levels []StationLevel)
}

// Simulator is the core object that holds simulation time, station state, and the event loop.
type Simulator struct {
	Clock   int64
	Horizon int64
	Config  Config
	// EventQueue has all pending events: departures, journey resumptions and snapshots
	EventQueue EventQueue
	Stations   *StationSet
	Routes     RouteProvider
	Recorder   *Recorder
	// BikesInTransit counts bikes taken from a station and not docked again,
	// including bikes a FailedStationFull journey could not return to its origin.
	BikesInTransit int

	observers     []Observer
	seq           uint64
	lastDeparture int64
	injected      int
	active        int // journeys departed and not yet terminal
}

// NewSimulator validates the configuration and wires the engine to its
// collaborators. Setup failures abort before any simulated time advances.
func NewSimulator(cfg Config, stations *StationSet, routes RouteProvider) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stations == nil || stations.Len() == 0 {
		return nil, fmt.Errorf("%w: no stations", ErrInvalidConfig)
	}
	if routes == nil {
		return nil, fmt.Errorf("%w: no route provider", ErrInvalidConfig)
	}
	s := &Simulator{
		Clock:         0,
		Horizon:       cfg.Horizon,
		Config:        cfg,
		EventQueue:    make(EventQueue, 0),
		Stations:      stations,
		Routes:        routes,
		Recorder:      NewRecorder(cfg, stations),
		lastDeparture: math.MinInt64,
	}
	if cfg.SnapshotInterval > 0 {
		s.Schedule(&SnapshotEvent{time: 0})
	}
	return s, nil
}

// AddObserver attaches an additional output consumer.
func (sim *Simulator) AddObserver(o Observer) {
	sim.observers = append(sim.observers, o)
}

// Schedule pushes an event into the simulator's EventQueue.
// Scheduling in the past is a programming error: the clock never rewinds.
func (sim *Simulator) Schedule(ev Event) {
	if ev.Timestamp() < sim.Clock {
		panic(fmt.Sprintf("Schedule: %T at %d is before clock %d", ev, ev.Timestamp(), sim.Clock))
	}
	heap.Push(&sim.EventQueue, queuedEvent{ev: ev, seq: sim.seq})
	sim.seq++
}

// InjectTrip admits a trip. Trips must arrive in non-decreasing departure order.
func (sim *Simulator) InjectTrip(trip *Trip) error {
	if trip == nil {
		return errors.New("InjectTrip: trip must not be nil")
	}
	if trip.Departure < sim.Clock || trip.Departure < sim.lastDeparture {
		return fmt.Errorf("%w: trip %s departs at %d (clock %d, previous departure %d)",
			ErrStaleDeparture, trip.ID, trip.Departure, sim.Clock, max(sim.lastDeparture, 0))
	}
	if trip.Departure > sim.Horizon {
		return fmt.Errorf("%w: trip %s departs at %d (horizon %d)", ErrBeyondHorizon, trip.ID, trip.Departure, sim.Horizon)
	}
	sim.lastDeparture = trip.Departure
	sim.injected++
	sim.Schedule(&DepartureEvent{time: trip.Departure, Journey: NewJourney(trip)})
	return nil
}

// InjectTrips admits a whole trip stream. Departures past the horizon end the
// stream; any other rejection is returned to the caller.
func (sim *Simulator) InjectTrips(trips []*Trip) (int, error) {
	admitted := 0
	for _, t := range trips {
		err := sim.InjectTrip(t)
		if errors.Is(err, ErrBeyondHorizon) {
			logrus.Infof("Horizon %d reached; %d trips not admitted", sim.Horizon, len(trips)-admitted)
			break
		}
		if err != nil {
			return admitted, err
		}
		admitted++
	}
	return admitted, nil
}

// Run drains the event queue.
func (sim *Simulator) Run() {
	sim.RunUntil(math.MaxInt64)
	sim.Recorder.SimEndedTime = max(sim.Clock, sim.Horizon)
	logrus.Infof("[t=%07d] Simulation ended", sim.Clock)
}

// RunUntil processes every event with a timestamp at or before until.
func (sim *Simulator) RunUntil(until int64) {
	for len(sim.EventQueue) > 0 && sim.EventQueue[0].ev.Timestamp() <= until {
		// get the next event to be simulated
		qe := heap.Pop(&sim.EventQueue).(queuedEvent)
		// advance the clock
		sim.Clock = qe.ev.Timestamp()
		logrus.Debugf("[t=%07d] Executing %T", sim.Clock, qe.ev)
		// process the event
		qe.ev.Execute(sim)
	}
}

// Active returns the number of journeys in flight.
func (sim *Simulator) Active() int { return sim.active }

// Injected returns the number of admitted trips.
func (sim *Simulator) Injected() int { return sim.injected }

// finish hands a terminal journey to the recorder and observers.
func (sim *Simulator) finish(j *Journey, now int64) {
	sim.active--
	rec := NewTripRecord(j, now)
	sim.Recorder.ObserveTrip(rec)
	for _, o := range sim.observers {
		o.ObserveTrip(rec)
	}
	logrus.Infof("Finished journey: ID: %s outcome: %s at %d s", j.Trip.ID, rec.Outcome, now)
}
