// Defines the Trip request and the Journey state machine that the event loop
// re-enters at each resume timestamp.

package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim/trace"
)

// ErrUnreachable is returned by a RouteProvider when no leg exists between two stations.
var ErrUnreachable = errors.New("unreachable")

// Trip is one journey request produced by the trip generator.
type Trip struct {
	ID              string `json:"id" yaml:"id"`
	Departure       int64  `json:"departure" yaml:"departure"` // simulated seconds
	Origin          Point  `json:"origin" yaml:"origin"`
	Destination     Point  `json:"destination" yaml:"destination"`
	OriginType      string `json:"origin_type,omitempty" yaml:"origin_type,omitempty"`
	DestinationType string `json:"destination_type,omitempty" yaml:"destination_type,omitempty"`
}

// Leg is a precomputed fastest cycling path between two stations.
// Legs are shared read-only by every journey.
type Leg struct {
	From        StationID `json:"from"`
	To          StationID `json:"to"`
	DistanceKm  float64   `json:"distance_km"`
	DurationSec int64     `json:"duration_sec"`
	Geometry    []Point   `json:"geometry,omitempty"`
}

// RouteProvider resolves walk endpoints to stations and serves cached legs.
// Implementations must be safe for concurrent reads.
type RouteProvider interface {
	// NearestStation returns the station closest to p and the walking distance in km.
	NearestStation(p Point) (StationID, float64, error)
	// Route returns the cached leg between two stations or ErrUnreachable.
	Route(from, to StationID) (*Leg, error)
}

// JourneyState represents the lifecycle state of a journey.
type JourneyState string

const (
	StateCreated              JourneyState = "created"
	StateWalkingToOrigin      JourneyState = "walking_to_origin"
	StateWaitingForBike       JourneyState = "waiting_for_bike"
	StateCycling              JourneyState = "cycling"
	StateWaitingForDock       JourneyState = "waiting_for_dock"
	StateWalkingToDestination JourneyState = "walking_to_destination"
	StateCompleted            JourneyState = "completed"
	StateFailedNoBike         JourneyState = "failed_no_bike"
	StateFailedStationFull    JourneyState = "failed_station_full"
	StateFailedWalkTooFar     JourneyState = "failed_walk_too_far"
	StateFailedNoRoute        JourneyState = "failed_no_route"
)

// Terminal reports whether no further transitions can leave the state.
func (s JourneyState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailedNoBike, StateFailedStationFull, StateFailedWalkTooFar, StateFailedNoRoute:
		return true
	}
	return false
}

// Outcome classifies a finished journey.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeFailureNoBike      Outcome = "failure-no-bike"
	OutcomeFailureStationFull Outcome = "failure-station-full"
	OutcomeFailureWalkTooFar  Outcome = "failure-walk-too-far"
	OutcomeFailureNoRoute     Outcome = "failure-no-route"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomeSuccess, OutcomeFailureNoBike, OutcomeFailureStationFull,
	OutcomeFailureWalkTooFar, OutcomeFailureNoRoute,
}

var terminalOutcome = map[JourneyState]Outcome{
	StateCompleted:         OutcomeSuccess,
	StateFailedNoBike:      OutcomeFailureNoBike,
	StateFailedStationFull: OutcomeFailureStationFull,
	StateFailedWalkTooFar:  OutcomeFailureWalkTooFar,
	StateFailedNoRoute:     OutcomeFailureNoRoute,
}

// Journey is one simulated user's trip attempt. It is owned by the Simulator
// from departure until it reaches a terminal state.
type Journey struct {
	Trip *Trip

	State    JourneyState
	ResumeAt int64 // timestamp of the pending JourneyEvent, if any

	OriginStation      StationID
	DestinationStation StationID
	WalkToKm           float64
	WalkFromKm         float64
	Leg                *Leg

	HasBike          bool
	ReturnedToOrigin bool // bike docked back at the origin after FailedStationFull
	Transitions      []trace.TransitionRecord
}

// NewJourney creates a journey in the Created state.
func NewJourney(trip *Trip) *Journey {
	return &Journey{Trip: trip, State: StateCreated}
}

func (j *Journey) String() string {
	return fmt.Sprintf("Journey: (ID: %s, State: %s, Origin: %s, Destination: %s)",
		j.Trip.ID, j.State, j.OriginStation, j.DestinationStation)
}

// Outcome returns the journey outcome; empty while the journey is in flight.
func (j *Journey) Outcome() Outcome {
	return terminalOutcome[j.State]
}

// transition moves the journey to next and emits a transition record.
func (j *Journey) transition(sim *Simulator, now int64, next JourneyState) {
	rec := trace.TransitionRecord{
		JourneyID: j.Trip.ID,
		From:      string(j.State),
		To:        string(next),
		Clock:     now,
	}
	logrus.Debugf("[t=%07d] %s: %s -> %s", now, j.Trip.ID, j.State, next)
	j.State = next
	j.Transitions = append(j.Transitions, rec)
	sim.Recorder.RecordTransition(rec)
}

// suspend schedules the journey to be re-entered after delay seconds.
func (j *Journey) suspend(sim *Simulator, now, delay int64) {
	j.ResumeAt = now + delay
	sim.Schedule(&JourneyEvent{time: j.ResumeAt, Journey: j})
}

// Step advances the journey from its current state until it either suspends
// on a delay or reaches a terminal state.
func (j *Journey) Step(sim *Simulator, now int64) {
	for !j.State.Terminal() {
		switch j.State {
		case StateCreated:
			next := j.resolve(sim)
			j.transition(sim, now, next)
			if next == StateWalkingToOrigin {
				j.suspend(sim, now, TravelSeconds(j.WalkToKm, sim.Config.WalkingSpeedKmph))
				return
			}

		case StateWalkingToOrigin:
			j.transition(sim, now, StateWaitingForBike)

		case StateWaitingForBike:
			if err := sim.Stations.TryTakeBike(j.OriginStation); err != nil {
				j.transition(sim, now, StateFailedNoBike)
				continue
			}
			j.HasBike = true
			sim.BikesInTransit++
			j.transition(sim, now, StateCycling)
			j.suspend(sim, now, j.Leg.DurationSec)
			return

		case StateCycling:
			j.transition(sim, now, StateWaitingForDock)

		case StateWaitingForDock:
			// The destination walk limit was enforced at Created; the station and
			// distance cannot have changed since.
			if err := sim.Stations.TryPutBike(j.DestinationStation); err != nil {
				j.returnToOrigin(sim)
				j.transition(sim, now, StateFailedStationFull)
				continue
			}
			j.HasBike = false
			sim.BikesInTransit--
			j.transition(sim, now, StateWalkingToDestination)
			j.suspend(sim, now, TravelSeconds(j.WalkFromKm, sim.Config.WalkingSpeedKmph))
			return

		case StateWalkingToDestination:
			j.transition(sim, now, StateCompleted)

		default:
			panic(fmt.Sprintf("journey %s: unexpected state %q", j.Trip.ID, j.State))
		}
	}
	sim.finish(j, now)
}

// returnToOrigin docks a bike the destination refused back at the origin
// station. When the origin is full too the bike stays in transit.
func (j *Journey) returnToOrigin(sim *Simulator) {
	if err := sim.Stations.TryPutBike(j.OriginStation); err != nil {
		logrus.Warnf("%s: origin %s cannot take the bike back: %v", j.Trip.ID, j.OriginStation, err)
		return
	}
	j.HasBike = false
	j.ReturnedToOrigin = true
	sim.BikesInTransit--
}

// resolve maps both walk endpoints onto stations and applies the walking limits.
// It never touches station pools.
func (j *Journey) resolve(sim *Simulator) JourneyState {
	origin, walkTo, err := sim.Routes.NearestStation(j.Trip.Origin)
	if err != nil {
		logrus.Warnf("%s: resolving origin %s: %v", j.Trip.ID, j.Trip.Origin, err)
		return StateFailedNoRoute
	}
	dest, walkFrom, err := sim.Routes.NearestStation(j.Trip.Destination)
	if err != nil {
		logrus.Warnf("%s: resolving destination %s: %v", j.Trip.ID, j.Trip.Destination, err)
		return StateFailedNoRoute
	}
	j.OriginStation, j.DestinationStation = origin, dest
	j.WalkToKm, j.WalkFromKm = walkTo, walkFrom

	cfg := sim.Config
	if walkTo > cfg.MaxWalkKm || walkFrom > cfg.MaxWalkKm {
		return StateFailedWalkTooFar
	}
	if cfg.MaxTotalWalkKm > 0 && walkTo+walkFrom > cfg.MaxTotalWalkKm {
		return StateFailedWalkTooFar
	}
	if origin == dest {
		return StateFailedNoRoute
	}
	leg, err := sim.Routes.Route(origin, dest)
	if err != nil {
		if !errors.Is(err, ErrUnreachable) {
			logrus.Warnf("%s: route %s -> %s: %v", j.Trip.ID, origin, dest, err)
		}
		return StateFailedNoRoute
	}
	j.Leg = leg
	return StateWalkingToOrigin
}
