package trace

// TraceLevel controls the verbosity of transition tracing.
type TraceLevel string

const (
	// TraceLevelNone disables the global trace (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelTransitions captures every journey transition in dispatch order.
	TraceLevelTransitions TraceLevel = "transitions"
)

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects transition records during a simulation.
type SimulationTrace struct {
	Config      TraceConfig
	Transitions []TransitionRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Transitions: make([]TransitionRecord, 0),
	}
}

// Enabled reports whether records are kept.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelTransitions
}

// RecordTransition appends a transition record when tracing is enabled.
func (st *SimulationTrace) RecordTransition(record TransitionRecord) {
	if !st.Enabled() {
		return
	}
	st.Transitions = append(st.Transitions, record)
}
