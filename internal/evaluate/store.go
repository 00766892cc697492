// Package evaluate replays recorded conversations against a trained model
// and scores the predictions.
package evaluate

import (
	"fmt"

	"converse/internal/tracker"
)

// padSentinel fills the shorter side when targets and predictions differ in
// length, so downstream scoring always sees pairs.
const padSentinel = "None"

// Store accumulates prediction/target pairs for actions, intents and
// entities over one or many conversations.
type Store struct {
	ActionPredictions []string
	ActionTargets     []string
	IntentPredictions []string
	IntentTargets     []string
	EntityPredictions []string
	EntityTargets     []string
}

// Merge appends the contents of other.
func (s *Store) Merge(other *Store) {
	s.ActionPredictions = append(s.ActionPredictions, other.ActionPredictions...)
	s.ActionTargets = append(s.ActionTargets, other.ActionTargets...)
	s.IntentPredictions = append(s.IntentPredictions, other.IntentPredictions...)
	s.IntentTargets = append(s.IntentTargets, other.IntentTargets...)
	s.EntityPredictions = append(s.EntityPredictions, other.EntityPredictions...)
	s.EntityTargets = append(s.EntityTargets, other.EntityTargets...)
}

// HasMismatch reports whether any prediction list differs from its target
// list.
func (s *Store) HasMismatch() bool {
	return !equalStrings(s.ActionPredictions, s.ActionTargets) ||
		!equalStrings(s.IntentPredictions, s.IntentTargets) ||
		!equalStrings(s.EntityPredictions, s.EntityTargets)
}

// Serialize flattens the store into one target list and one prediction
// list of equal length, padding the shorter side with the sentinel.
func (s *Store) Serialize() (targets, predictions []string) {
	targets = concat(s.ActionTargets, s.IntentTargets, s.EntityTargets)
	predictions = concat(s.ActionPredictions, s.IntentPredictions, s.EntityPredictions)
	for len(targets) < len(predictions) {
		targets = append(targets, padSentinel)
	}
	for len(predictions) < len(targets) {
		predictions = append(predictions, padSentinel)
	}
	return targets, predictions
}

// formatEntity renders an entity the way stories annotate them, so entity
// targets and predictions compare as plain strings.
func formatEntity(e tracker.Entity) string {
	return fmt.Sprintf("[%v](%s)", e.Value, e.Name)
}

func formatEntities(entities []tracker.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, formatEntity(e))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
