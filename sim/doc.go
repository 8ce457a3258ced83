// Package sim provides the core discrete-event simulation engine for a
// bike-sharing network.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - station.go: Station pools (bikes, docks) and the two atomic operations
//   - journey.go: Journey lifecycle (created → walking → cycling → completed) and failure exits
//   - event.go: Event types that drive the simulation (Departure, JourneyStep, Snapshot)
//   - simulator.go: The event loop, trip injection and the horizon
//   - recorder.go: Outcome aggregation consumed by reporting
//
// # Architecture
//
// The sim package defines the engine and bridge interfaces; implementations live in
// sub-packages:
//   - sim/routing/: Route cache (all-pairs cycling legs, nearest-station lookup)
//   - sim/workload/: Trip generation from demand weight tables
//   - sim/rebalance/: Rebalancing route optimizer over a station snapshot
//   - sim/trace/: Journey transition trace recording
//
// # Key Interfaces
//
//   - RouteProvider: nearest-station resolution and cached station-to-station legs
//   - Observer: receives finished trip records and availability snapshots
//
// Simulated time is measured in integer seconds. Journeys are not goroutines: each
// journey is a state value that the event loop re-enters at its resume timestamp.
package sim
