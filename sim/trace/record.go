// Package trace provides journey transition recording.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// TransitionRecord captures a single journey state transition.
type TransitionRecord struct {
	JourneyID string `json:"journey_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Clock     int64  `json:"clock"`
}
