package policy

import (
	"converse/internal/domain"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// MemoizationPolicy exact-matches the recent state history against the
// training conversations. On a hit it returns a one-hot distribution on the
// memorized action, on a miss all zeros. Windows that occurred with more
// than one next action in training are ambiguous and forgotten.
type MemoizationPolicy struct {
	priority   int
	maxHistory int
	// lookup maps a featurized state window to the next action. An empty
	// value is a tombstone for an ambiguous window.
	lookup map[string]string
	log    *zap.Logger
}

// NewMemoizationPolicy creates an untrained memoization policy.
func NewMemoizationPolicy(priority, maxHistory int, log *zap.Logger) *MemoizationPolicy {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoizationPolicy{
		priority:   priority,
		maxHistory: maxHistory,
		lookup:     make(map[string]string),
		log:        log,
	}
}

// Name implements Policy.
func (*MemoizationPolicy) Name() string { return "MemoizationPolicy" }

// Priority implements Policy.
func (p *MemoizationPolicy) Priority() int { return p.priority }

// MaxHistory implements Policy.
func (p *MemoizationPolicy) MaxHistory() int { return p.maxHistory }

// Train memorizes, for every decision point of every conversation, the
// featurized window of the last maxHistory states and the action that
// followed it.
func (p *MemoizationPolicy) Train(trackers []*tracker.Tracker, d *domain.Domain) error {
	ambiguous := 0
	for _, t := range trackers {
		states := d.StatesForTrackerHistory(t)
		actions := t.ExecutedActions()
		for i, actionName := range actions {
			window := lastN(states[:i+1], p.maxHistory)
			if !p.memorize(FeaturizeStates(window), actionName) {
				ambiguous++
			}
		}
	}
	p.log.Debug("memoization training finished",
		zap.Int("windows", len(p.lookup)),
		zap.Int("ambiguous", ambiguous))
	return nil
}

// memorize stores one window, tombstoning it when a different action was
// already recorded for the same history. It reports whether the window is
// still unambiguous.
func (p *MemoizationPolicy) memorize(key, actionName string) bool {
	if existing, ok := p.lookup[key]; ok {
		if existing != actionName && existing != "" {
			// Same history, different outcome: unlearnable by exact
			// matching, drop the window entirely.
			p.lookup[key] = ""
			return false
		}
		return true
	}
	p.lookup[key] = actionName
	return true
}

// recall looks up the current window, exact match only.
func (p *MemoizationPolicy) recall(window []map[string]float64) (string, bool) {
	actionName, ok := p.lookup[FeaturizeStates(window)]
	if !ok || actionName == "" {
		return "", false
	}
	return actionName, true
}

// PredictActionProbabilities implements Policy.
func (p *MemoizationPolicy) PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error) {
	window := decisionStates(t, d, p.maxHistory)
	actionName, ok := p.recall(window)
	if !ok {
		return zeros(d), nil
	}
	return oneHot(d, actionName, 1.0)
}

// memoizationArtifact is the persisted form of the memoization family.
type memoizationArtifact struct {
	Priority   int               `json:"priority"`
	MaxHistory int               `json:"max_history"`
	Lookup     map[string]string `json:"lookup"`
}

// Persist implements Policy.
func (p *MemoizationPolicy) Persist(dir string) error {
	return writeArtifact(dir, memoizationArtifact{
		Priority:   p.priority,
		MaxHistory: p.maxHistory,
		Lookup:     p.lookup,
	})
}

func loadMemoizationPolicy(dir string, log *zap.Logger) (*MemoizationPolicy, error) {
	var art memoizationArtifact
	if err := readArtifact(dir, &art); err != nil {
		return nil, err
	}
	p := NewMemoizationPolicy(art.Priority, art.MaxHistory, log)
	if art.Lookup != nil {
		p.lookup = art.Lookup
	}
	return p, nil
}

// AugmentedMemoizationPolicy is a memoization policy that, on a miss,
// retries with progressively truncated history, forgetting the oldest
// turns. It recovers conversations that diverged early but re-joined a
// known path.
type AugmentedMemoizationPolicy struct {
	MemoizationPolicy
}

// NewAugmentedMemoizationPolicy creates an untrained augmented policy.
func NewAugmentedMemoizationPolicy(priority, maxHistory int, log *zap.Logger) *AugmentedMemoizationPolicy {
	return &AugmentedMemoizationPolicy{*NewMemoizationPolicy(priority, maxHistory, log)}
}

// Train memorizes every window like the plain policy, plus every suffix of
// each window, so truncated recall has something to match against.
func (p *AugmentedMemoizationPolicy) Train(trackers []*tracker.Tracker, d *domain.Domain) error {
	for _, t := range trackers {
		states := d.StatesForTrackerHistory(t)
		actions := t.ExecutedActions()
		for i, actionName := range actions {
			window := lastN(states[:i+1], p.maxHistory)
			for h := len(window); h >= 1; h-- {
				p.memorize(FeaturizeStates(window[len(window)-h:]), actionName)
			}
		}
	}
	return nil
}

// Name implements Policy.
func (*AugmentedMemoizationPolicy) Name() string { return "AugmentedMemoizationPolicy" }

// PredictActionProbabilities implements Policy.
func (p *AugmentedMemoizationPolicy) PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error) {
	window := decisionStates(t, d, p.maxHistory)
	for h := len(window); h >= 1; h-- {
		if actionName, ok := p.recall(window[len(window)-h:]); ok {
			return oneHot(d, actionName, 1.0)
		}
	}
	return zeros(d), nil
}

func loadAugmentedMemoizationPolicy(dir string, log *zap.Logger) (*AugmentedMemoizationPolicy, error) {
	inner, err := loadMemoizationPolicy(dir, log)
	if err != nil {
		return nil, err
	}
	return &AugmentedMemoizationPolicy{*inner}, nil
}
