package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTransitions int
	Journeys         int
	StateEntries     map[string]int // state → number of transitions into it
	EdgeCounts       map[string]int // "from->to" → count
	MeanTransitions  float64        // transitions per journey
	LastClock        int64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		StateEntries: make(map[string]int),
		EdgeCounts:   make(map[string]int),
	}
	if st == nil {
		return summary
	}

	journeys := make(map[string]struct{})
	for _, t := range st.Transitions {
		summary.TotalTransitions++
		summary.StateEntries[t.To]++
		summary.EdgeCounts[t.From+"->"+t.To]++
		journeys[t.JourneyID] = struct{}{}
		if t.Clock > summary.LastClock {
			summary.LastClock = t.Clock
		}
	}
	summary.Journeys = len(journeys)
	if summary.Journeys > 0 {
		summary.MeanTransitions = float64(summary.TotalTransitions) / float64(summary.Journeys)
	}
	return summary
}
