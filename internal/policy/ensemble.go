package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/metrics"
	"converse/internal/tracker"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// metadataFile holds the ensemble document inside a model directory.
const metadataFile = "metadata.json"

// ActionFingerprint records which slots an action set during training. At
// serving time a custom action mutating slots it never touched in training
// is a drift signal (logged, not enforced).
type ActionFingerprint struct {
	Slots []string `json:"slots"`
}

// Ensemble owns an ordered collection of policies, arbitrates among their
// predictions and persists them as one unit together with a state-schema
// compatibility fingerprint.
type Ensemble struct {
	policies     []Policy
	fingerprints map[string]ActionFingerprint
	trainedAt    time.Time
	log          *zap.Logger
}

// NewEnsemble creates an untrained ensemble over the given policies, in
// their configured order. Order matters: earlier policies win arbitration
// ties outright.
func NewEnsemble(policies []Policy, log *zap.Logger) *Ensemble {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Ensemble{
		policies:     policies,
		fingerprints: map[string]ActionFingerprint{},
		log:          log,
	}
	e.checkPriorities()
	e.checkImportantPolicies()
	return e
}

// Policies returns the ensemble's policies in order.
func (e *Ensemble) Policies() []Policy { return e.policies }

// TrainedAt returns when Train last ran, zero for untrained ensembles.
func (e *Ensemble) TrainedAt() time.Time { return e.trainedAt }

// Fingerprints returns the per-action training fingerprints.
func (e *Ensemble) Fingerprints() map[string]ActionFingerprint { return e.fingerprints }

// checkPriorities warns about duplicate priorities: arbitration still works
// (configured order breaks ties) but the outcome may surprise.
func (e *Ensemble) checkPriorities() {
	byPriority := map[int][]string{}
	for _, p := range e.policies {
		byPriority[p.Priority()] = append(byPriority[p.Priority()], p.Name())
	}
	for priority, names := range byPriority {
		if len(names) > 1 {
			e.log.Warn("multiple policies share a priority, give every policy a distinct one",
				zap.Int("priority", priority),
				zap.Strings("policies", names))
		}
	}
}

func (e *Ensemble) checkImportantPolicies() {
	for _, p := range e.policies {
		if _, ok := p.(*MappingPolicy); ok {
			return
		}
	}
	e.log.Info("no mapping policy configured, the built-in restart/back intents will not trigger their actions")
}

// policyID is the stable identifier of a policy inside this ensemble,
// matching its persisted sub-artifact directory.
func policyID(index int, p Policy) string {
	return fmt.Sprintf("policy_%d_%s", index, p.Name())
}

// IsMemoizationID reports whether a winning-policy identifier belongs to
// the memoization family.
func IsMemoizationID(id string) bool {
	return strings.HasSuffix(id, "_MemoizationPolicy") ||
		strings.HasSuffix(id, "_AugmentedMemoizationPolicy")
}

// Train trains every policy independently against the corpus and computes
// the per-action fingerprints.
func (e *Ensemble) Train(trackers []*tracker.Tracker, d *domain.Domain) error {
	if len(trackers) == 0 {
		e.log.Info("skipped training, no training conversations")
		return nil
	}
	for i, p := range e.policies {
		if err := p.Train(trackers, d); err != nil {
			return fmt.Errorf("train %s: %w", policyID(i, p), err)
		}
	}
	e.fingerprints = fingerprintActions(trackers)
	e.trainedAt = time.Now()
	return nil
}

// fingerprintActions records, per action name, the distinct slots observed
// being set immediately after that action during training.
func fingerprintActions(trackers []*tracker.Tracker) map[string]ActionFingerprint {
	slotsByAction := map[string]map[string]struct{}{}
	for _, t := range trackers {
		lastAction := ""
		for _, ev := range t.Events() {
			switch e := ev.(type) {
			case tracker.ActionExecuted:
				lastAction = e.ActionName
			case tracker.WronglyPredictedAction:
				lastAction = e.ActionExecuted.ActionName
			case tracker.SlotSet:
				if lastAction == "" {
					continue
				}
				if slotsByAction[lastAction] == nil {
					slotsByAction[lastAction] = map[string]struct{}{}
				}
				slotsByAction[lastAction][e.Key] = struct{}{}
			}
		}
	}

	fingerprints := make(map[string]ActionFingerprint, len(slotsByAction))
	for actionName, slots := range slotsByAction {
		fp := ActionFingerprint{Slots: sortedSet(slots)}
		fingerprints[actionName] = fp
	}
	return fingerprints
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ProbabilitiesUsingBestPolicy queries every policy, arbitrates by
// (confidence, priority) and applies the rejection and stall overrides.
// It returns the winning distribution and the winner's identifier, and is
// a pure function of the tracker and domain.
func (e *Ensemble) ProbabilitiesUsingBestPolicy(t *tracker.Tracker, d *domain.Domain) ([]float64, string, error) {
	rejectedIdx := -1
	if rej, ok := t.LastEvent().(tracker.ActionRejected); ok {
		idx, err := d.IndexForAction(rej.ActionName)
		if err != nil {
			return nil, "", fmt.Errorf("rejected action: %w", err)
		}
		rejectedIdx = idx
	}

	var (
		best         []float64
		bestID       string
		bestPriority = -1
		maxConf      = -1.0
	)

	for i, p := range e.policies {
		probs, err := p.PredictActionProbabilities(t, d)
		if err != nil {
			return nil, "", fmt.Errorf("predict with %s: %w", policyID(i, p), err)
		}
		if len(probs) != d.NumActions() {
			return nil, "", fmt.Errorf("%s returned %d probabilities for %d actions",
				policyID(i, p), len(probs), d.NumActions())
		}

		if rejectedIdx >= 0 && probs[rejectedIdx] != 0 {
			// Zero on a private copy: the policy may hand out a slice it
			// also caches, and it must never observe our mutation.
			probs = append([]float64(nil), probs...)
			probs[rejectedIdx] = 0
			metrics.RejectionZeroingsTotal.Inc()
		}

		conf := maxValue(probs)
		if conf > maxConf || (conf == maxConf && p.Priority() > bestPriority) {
			maxConf = conf
			best = probs
			bestID = policyID(i, p)
			bestPriority = p.Priority()
		}
	}

	if best == nil {
		return nil, "", fmt.Errorf("ensemble has no policies")
	}

	// A non-memoization policy predicting listen right after we listened is
	// a no-progress signal: substitute the fallback distribution.
	listenIdx, err := d.IndexForAction(action.ListenName)
	if err != nil {
		return nil, "", err
	}
	if argmax(best) == listenIdx &&
		t.LatestActionName() == action.ListenName &&
		!IsMemoizationID(bestID) {
		if idx, fallback := e.fallbackPolicy(); fallback != nil {
			e.log.Debug("listen predicted right after listening, overriding with fallback",
				zap.String("policy", bestID),
				zap.String("fallback_action", fallback.FallbackActionName()))
			scores, err := fallback.FallbackScores(d, 1.0)
			if err != nil {
				return nil, "", err
			}
			best = scores
			bestID = policyID(idx, fallback)
			metrics.FallbackOverridesTotal.Inc()
		}
	}

	e.log.Debug("predicted next action", zap.String("policy", bestID))
	metrics.PredictionsTotal.WithLabelValues(bestID).Inc()
	return best, bestID, nil
}

// fallbackPolicy returns the first configured fallback policy, if any.
func (e *Ensemble) fallbackPolicy() (int, *FallbackPolicy) {
	for i, p := range e.policies {
		if fb, ok := p.(*FallbackPolicy); ok {
			return i, fb
		}
	}
	return -1, nil
}

// FormPolicy returns the first configured form policy, if any. The
// evaluation engine needs it for rejection emulation.
func (e *Ensemble) FormPolicy() *FormPolicy {
	for _, p := range e.policies {
		if fp, ok := p.(*FormPolicy); ok {
			return fp
		}
	}
	return nil
}

func maxValue(probs []float64) float64 {
	max := 0.0
	for _, v := range probs {
		if v > max {
			max = v
		}
	}
	return max
}

func argmax(probs []float64) int {
	best, bestIdx := -1.0, 0
	for i, v := range probs {
		if v > best {
			best = v
			bestIdx = i
		}
	}
	return bestIdx
}

// ensembleMetadata is the persisted metadata.json document.
type ensembleMetadata struct {
	EnsembleName       string                       `json:"ensemble_name"`
	Version            string                       `json:"version"`
	TrainedAt          string                       `json:"trained_at"`
	PolicyNames        []string                     `json:"policy_names"`
	Priorities         []int                        `json:"priorities"`
	MaxHistories       []int                        `json:"max_histories"`
	ActionFingerprints map[string]ActionFingerprint `json:"action_fingerprints"`
}

// Persist writes the ensemble metadata plus one sub-artifact per policy
// into dir, alongside the domain's state-schema specification.
func (e *Ensemble) Persist(dir string, d *domain.Domain) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	meta := ensembleMetadata{
		EnsembleName:       "SimplePolicyEnsemble",
		Version:            Version,
		TrainedAt:          e.trainedAt.UTC().Format("20060102-150405"),
		ActionFingerprints: e.fingerprints,
	}
	for i, p := range e.policies {
		meta.PolicyNames = append(meta.PolicyNames, p.Name())
		meta.Priorities = append(meta.Priorities, p.Priority())
		meta.MaxHistories = append(meta.MaxHistories, p.MaxHistory())
		if err := p.Persist(filepath.Join(dir, policyID(i, p))); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ensemble metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", metadataFile, err)
	}

	return d.PersistSpecification(dir)
}

// LoadEnsemble restores a persisted ensemble: metadata first, then the
// version guard, then every policy through the static registry.
func LoadEnsemble(dir string, log *zap.Logger) (*Ensemble, error) {
	if log == nil {
		log = zap.NewNop()
	}

	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", metadataFile, err)
	}
	var meta ensembleMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metadataFile, err)
	}

	if err := ensureCompatibility(meta.Version); err != nil {
		return nil, err
	}

	policies := make([]Policy, 0, len(meta.PolicyNames))
	for i, name := range meta.PolicyNames {
		p, err := Load(name, filepath.Join(dir, fmt.Sprintf("policy_%d_%s", i, name)), log)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}

	e := NewEnsemble(policies, log)
	if meta.ActionFingerprints != nil {
		e.fingerprints = meta.ActionFingerprints
	}
	if ts, err := time.Parse("20060102-150405", meta.TrainedAt); err == nil {
		e.trainedAt = ts
	}
	return e, nil
}

// ensureCompatibility enforces the minimum-compatible-version guard.
func ensureCompatibility(found string) error {
	if found == "" {
		found = "0.0.0"
	}
	foundVersion, err := semver.NewVersion(found)
	if err != nil {
		return fmt.Errorf("model version %q is not a valid version: %w", found, err)
	}
	minimum := semver.MustParse(MinCompatibleVersion)
	if foundVersion.LessThan(minimum) {
		return &UnsupportedModelVersionError{Found: found, Minimum: MinCompatibleVersion}
	}
	return nil
}
