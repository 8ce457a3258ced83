// Accumulates per-trip outcomes, per-station usage, per-route usage and
// availability snapshots into report-ready aggregates.

package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/bikeshare-sim/bikeshare-sim/sim/trace"
)

// TripRecord is the outcome of one journey, produced once at its terminal state.
type TripRecord struct {
	TripID             string                   `json:"trip_id"`
	Outcome            Outcome                  `json:"outcome"`
	FinalState         JourneyState             `json:"final_state"`
	Departure          int64                    `json:"departure"`
	EndTime            int64                    `json:"end_time"`
	OriginStation      StationID                `json:"origin_station,omitempty"`
	DestinationStation StationID                `json:"destination_station,omitempty"`
	WalkToKm           float64                  `json:"walk_to_km"`
	WalkFromKm         float64                  `json:"walk_from_km"`
	CycleKm            float64                  `json:"cycle_km"`
	CycleSeconds       int64                    `json:"cycle_seconds"`
	BikeTaken          bool                     `json:"bike_taken"`
	ReturnedToOrigin   bool                     `json:"returned_to_origin,omitempty"`
	Transitions        []trace.TransitionRecord `json:"transitions"`
}

// NewTripRecord builds the outcome record of a terminal journey.
func NewTripRecord(j *Journey, now int64) TripRecord {
	rec := TripRecord{
		TripID:             j.Trip.ID,
		Outcome:            j.Outcome(),
		FinalState:         j.State,
		Departure:          j.Trip.Departure,
		EndTime:            now,
		OriginStation:      j.OriginStation,
		DestinationStation: j.DestinationStation,
		WalkToKm:           j.WalkToKm,
		WalkFromKm:         j.WalkFromKm,
		BikeTaken:          j.State == StateCompleted || j.State == StateFailedStationFull,
		ReturnedToOrigin:   j.ReturnedToOrigin,
		Transitions:        append([]trace.TransitionRecord(nil), j.Transitions...),
	}
	if rec.BikeTaken && j.Leg != nil {
		rec.CycleKm = j.Leg.DistanceKm
		rec.CycleSeconds = j.Leg.DurationSec
	}
	return rec
}

// StationUsage counts resource operations and failures at one station.
type StationUsage struct {
	Pickups             int `json:"pickups"`
	Dropoffs            int `json:"dropoffs"`
	NoBikeFailures      int `json:"no_bike_failures"`
	StationFullFailures int `json:"station_full_failures"`
}

// AvailabilitySnapshot is the bikes-available count per station at one instant.
type AvailabilitySnapshot struct {
	Clock int64             `json:"clock"`
	Hour  int               `json:"hour"`
	Bikes map[StationID]int `json:"bikes"`
	Docks map[StationID]int `json:"docks"`
}

// RouteKey renders a station pair as a report key.
func RouteKey(from, to StationID) string {
	return fmt.Sprintf("%s->%s", from, to)
}

// Recorder aggregates statistics about the simulation for final reporting.
type Recorder struct {
	config Config

	Trips         []TripRecord
	OutcomeCounts map[Outcome]int
	StationUsage  map[StationID]*StationUsage
	RouteUsage    map[string]int
	Availability  []AvailabilitySnapshot
	Trace         *trace.SimulationTrace

	TotalWalkKm  float64 // walking of completed trips
	TotalCycleKm float64 // cycling of trips that took a bike
	SimEndedTime int64
}

// NewRecorder creates a Recorder with a usage row for every station.
func NewRecorder(cfg Config, stations *StationSet) *Recorder {
	level := trace.TraceLevelNone
	if cfg.TraceTransitions {
		level = trace.TraceLevelTransitions
	}
	r := &Recorder{
		config:        cfg,
		OutcomeCounts: make(map[Outcome]int),
		StationUsage:  make(map[StationID]*StationUsage),
		RouteUsage:    make(map[string]int),
		Trace:         trace.NewSimulationTrace(trace.TraceConfig{Level: level}),
	}
	if stations != nil {
		for _, id := range stations.IDs() {
			r.StationUsage[id] = &StationUsage{}
		}
	}
	return r
}

// RecordTransition forwards a transition to the global trace.
func (r *Recorder) RecordTransition(rec trace.TransitionRecord) {
	r.Trace.RecordTransition(rec)
}

func (r *Recorder) usage(id StationID) *StationUsage {
	u, ok := r.StationUsage[id]
	if !ok {
		u = &StationUsage{}
		r.StationUsage[id] = u
	}
	return u
}

// ObserveTrip implements Observer.
func (r *Recorder) ObserveTrip(rec TripRecord) {
	r.Trips = append(r.Trips, rec)
	r.OutcomeCounts[rec.Outcome]++

	if rec.BikeTaken {
		r.usage(rec.OriginStation).Pickups++
		r.TotalCycleKm += rec.CycleKm
	}
	switch rec.Outcome {
	case OutcomeSuccess:
		r.usage(rec.DestinationStation).Dropoffs++
		r.RouteUsage[RouteKey(rec.OriginStation, rec.DestinationStation)]++
		r.TotalWalkKm += rec.WalkToKm + rec.WalkFromKm
	case OutcomeFailureNoBike:
		r.usage(rec.OriginStation).NoBikeFailures++
	case OutcomeFailureStationFull:
		r.usage(rec.DestinationStation).StationFullFailures++
	}
}

// ObserveSnapshot implements Observer.
func (r *Recorder) ObserveSnapshot(clock int64, levels []StationLevel) {
	snap := AvailabilitySnapshot{
		Clock: clock,
		Hour:  r.config.HourOfDay(clock),
		Bikes: make(map[StationID]int, len(levels)),
		Docks: make(map[StationID]int, len(levels)),
	}
	for _, l := range levels {
		snap.Bikes[l.ID] = l.Bikes
		snap.Docks[l.ID] = l.Docks
	}
	r.Availability = append(r.Availability, snap)
}

// Completed returns the number of successful trips.
func (r *Recorder) Completed() int { return r.OutcomeCounts[OutcomeSuccess] }

// Failed returns the number of trips with any failure outcome.
func (r *Recorder) Failed() int { return len(r.Trips) - r.Completed() }

// StationSeries returns the bikes-available series of one station across snapshots.
func (r *Recorder) StationSeries(id StationID) []int {
	out := make([]int, 0, len(r.Availability))
	for _, s := range r.Availability {
		out = append(out, s.Bikes[id])
	}
	return out
}

// Report is the serialisable form of the recorder consumed by external reporting.
type Report struct {
	SimEndedTime  int64                       `json:"sim_ended_time"`
	OutcomeCounts map[Outcome]int             `json:"outcome_counts"`
	TotalWalkKm   float64                     `json:"total_walk_km"`
	TotalCycleKm  float64                     `json:"total_cycle_km"`
	StationUsage  map[StationID]*StationUsage `json:"station_usage"`
	RouteUsage    map[string]int              `json:"route_usage"`
	Availability  []AvailabilitySnapshot      `json:"availability"`
	Trips         []TripRecord                `json:"trips"`
}

// Report returns the serialisable aggregate.
func (r *Recorder) Report() Report {
	return Report{
		SimEndedTime:  r.SimEndedTime,
		OutcomeCounts: r.OutcomeCounts,
		TotalWalkKm:   r.TotalWalkKm,
		TotalCycleKm:  r.TotalCycleKm,
		StationUsage:  r.StationUsage,
		RouteUsage:    r.RouteUsage,
		Availability:  r.Availability,
		Trips:         r.Trips,
	}
}

// WriteJSON writes the report. Map keys are sorted by encoding/json, so equal
// runs produce byte-identical output.
func (r *Recorder) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r.Report())
}

// TopRoutes returns the n most used routes, ties broken by key.
func (r *Recorder) TopRoutes(n int) []string {
	keys := make([]string, 0, len(r.RouteUsage))
	for k := range r.RouteUsage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if r.RouteUsage[keys[i]] != r.RouteUsage[keys[j]] {
			return r.RouteUsage[keys[i]] > r.RouteUsage[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n < len(keys) {
		keys = keys[:n]
	}
	return keys
}

// Print displays aggregated metrics at the end of the simulation.
func (r *Recorder) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Simulated Time       : %d s\n", r.SimEndedTime)
	fmt.Fprintf(w, "Trips                : %d\n", len(r.Trips))
	for _, o := range Outcomes {
		fmt.Fprintf(w, "  %-22s: %d\n", o, r.OutcomeCounts[o])
	}
	if len(r.Trips) == 0 {
		return
	}
	fmt.Fprintf(w, "Success Rate         : %.2f%%\n", 100*float64(r.Completed())/float64(len(r.Trips)))

	var durations, walks []float64
	for _, t := range r.Trips {
		if t.Outcome != OutcomeSuccess {
			continue
		}
		durations = append(durations, float64(t.EndTime-t.Departure))
		walks = append(walks, t.WalkToKm+t.WalkFromKm)
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		sort.Float64s(walks)
		fmt.Fprintf(w, "Mean Trip Duration   : %.1f s\n", CalculateMean(durations))
		fmt.Fprintf(w, "P90 Trip Duration    : %.1f s\n", CalculatePercentile(durations, 90))
		fmt.Fprintf(w, "Mean Walk Distance   : %.3f km\n", CalculateMean(walks))
	}
	fmt.Fprintf(w, "Total Walking        : %.2f km\n", r.TotalWalkKm)
	fmt.Fprintf(w, "Total Cycling        : %.2f km\n", r.TotalCycleKm)
	if top := r.TopRoutes(5); len(top) > 0 {
		fmt.Fprintln(w, "Top Routes           :")
		for _, k := range top {
			fmt.Fprintf(w, "  %-20s %d\n", k, r.RouteUsage[k])
		}
	}
	if r.Trace.Enabled() {
		ts := trace.Summarize(r.Trace)
		fmt.Fprintf(w, "Traced Transitions   : %d over %d journeys (%.1f each)\n",
			ts.TotalTransitions, ts.Journeys, ts.MeanTransitions)
	}
}
