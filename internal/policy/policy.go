// Package policy implements next-action prediction: the Policy contract,
// its concrete variants, and the Ensemble that arbitrates among them.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"converse/internal/domain"
	"converse/internal/tracker"
)

// Version is recorded into every persisted model.
const Version = "1.2.0"

// MinCompatibleVersion is the oldest model version this runtime still
// loads. Older models are rejected with UnsupportedModelVersionError.
const MinCompatibleVersion = "1.0.0"

// Default priorities per policy family. Higher wins ties on confidence.
// They are defaults, not enforced unique; duplicates only warn.
const (
	MemoizationPriority = 3
	FallbackPriority    = 4
	MappingPriority     = 5
	FormPriority        = 6
)

// DefaultMaxHistory is how many decision states the memoization family
// matches against when not configured otherwise.
const DefaultMaxHistory = 5

// Policy predicts a probability distribution over the domain's action index
// space. Implementations are stateless between calls except for what Train
// builds; PredictActionProbabilities is a pure function of its inputs.
type Policy interface {
	// Name returns the registry name of the policy variant.
	Name() string
	// Priority is the static tie-break rank used by the ensemble.
	Priority() int
	// Train fits the policy against a corpus of recorded conversations.
	Train(trackers []*tracker.Tracker, d *domain.Domain) error
	// PredictActionProbabilities returns one float per domain action, each
	// in [0, 1]. Callers own the returned slice.
	PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error)
	// Persist writes the trained state into dir.
	Persist(dir string) error
	// MaxHistory returns the history window, 0 when unbounded.
	MaxHistory() int
}

// UnsupportedModelVersionError rejects a persisted model trained by a
// runtime older than MinCompatibleVersion.
type UnsupportedModelVersionError struct {
	Found   string
	Minimum string
}

func (e *UnsupportedModelVersionError) Error() string {
	return fmt.Sprintf(
		"model version %s is too old to be loaded, minimum compatible version is %s; retrain the model",
		e.Found, e.Minimum)
}

// MalformedPolicyError reports a persisted policy artifact that restored to
// nothing or to the wrong type. It is treated as a corrupted model.
type MalformedPolicyError struct {
	PolicyName string
	Reason     string
}

func (e *MalformedPolicyError) Error() string {
	return fmt.Sprintf("failed to load policy %s: %s", e.PolicyName, e.Reason)
}

// writeArtifact persists a policy's state document as JSON inside dir.
func writeArtifact(dir string, v any) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "policy.json"), data, 0644); err != nil {
		return fmt.Errorf("write policy artifact: %w", err)
	}
	return nil
}

// readArtifact restores a policy state document written by writeArtifact.
func readArtifact(dir string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, "policy.json"))
	if err != nil {
		return fmt.Errorf("read policy artifact: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode policy artifact: %w", err)
	}
	return nil
}

// zeros returns an all-zero distribution sized to the domain.
func zeros(d *domain.Domain) []float64 {
	return make([]float64, d.NumActions())
}

// oneHot returns a distribution with a single spike at the given action.
func oneHot(d *domain.Domain, actionName string, score float64) ([]float64, error) {
	idx, err := d.IndexForAction(actionName)
	if err != nil {
		return nil, err
	}
	probs := zeros(d)
	probs[idx] = score
	return probs, nil
}
