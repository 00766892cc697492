package policy

import (
	"fmt"
	"sort"
	"strings"

	"converse/internal/domain"
	"converse/internal/tracker"
)

// FeaturizeStates turns a window of sparse state maps into a deterministic
// lookup key: per state the sorted "name=value" pairs joined by "|", states
// joined by ";". Weights are formatted with a fixed precision so equal
// states always produce equal keys.
func FeaturizeStates(states []map[string]float64) string {
	parts := make([]string, len(states))
	for i, state := range states {
		names := make([]string, 0, len(state))
		for name := range state {
			names = append(names, name)
		}
		sort.Strings(names)
		pairs := make([]string, len(names))
		for j, name := range names {
			pairs[j] = fmt.Sprintf("%s=%.4f", name, state[name])
		}
		parts[i] = strings.Join(pairs, "|")
	}
	return strings.Join(parts, ";")
}

// decisionStates returns the last maxHistory decision states of a tracker,
// ending with the current one. maxHistory <= 0 keeps the full history.
func decisionStates(t *tracker.Tracker, d *domain.Domain, maxHistory int) []map[string]float64 {
	states := d.StatesForTrackerHistory(t)
	return lastN(states, maxHistory)
}

func lastN(states []map[string]float64, n int) []map[string]float64 {
	if n <= 0 || len(states) <= n {
		return states
	}
	return states[len(states)-n:]
}
