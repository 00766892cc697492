package policy

import (
	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// formMaxHistory is the short window the form policy memorizes unhappy
// paths with: the rejection context and the turn before it.
const formMaxHistory = 2

// FormPolicy keeps an active form in control: it predicts the form's action
// after every user message and hands back to listen after the form ran.
// When the form rejected execution it defers to the other policies, unless
// the rejection context was seen in training as an unhappy path with a
// recorded recovery action.
type FormPolicy struct {
	priority int
	// lookup maps a featurized rejection context to the recovery action
	// the training conversations took.
	lookup map[string]string
	log    *zap.Logger
}

// NewFormPolicy creates an untrained form policy.
func NewFormPolicy(priority int, log *zap.Logger) *FormPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &FormPolicy{priority: priority, lookup: make(map[string]string), log: log}
}

// Name implements Policy.
func (*FormPolicy) Name() string { return "FormPolicy" }

// Priority implements Policy.
func (p *FormPolicy) Priority() int { return p.priority }

// MaxHistory implements Policy.
func (*FormPolicy) MaxHistory() int { return formMaxHistory }

// Train memorizes every decision point where a form had rejected execution,
// together with the action the conversation recovered with.
func (p *FormPolicy) Train(trackers []*tracker.Tracker, d *domain.Domain) error {
	for _, t := range trackers {
		prior := t.GeneratePriorTrackers()
		actions := t.ExecutedActions()
		for i, actionName := range actions {
			form := prior[i].ActiveForm()
			if form.Name == "" || !form.Rejected {
				continue
			}
			key := FeaturizeStates(decisionStates(prior[i], d, formMaxHistory))
			p.lookup[key] = actionName
		}
	}
	p.log.Debug("form policy training finished", zap.Int("unhappy_paths", len(p.lookup)))
	return nil
}

// StateIsUnhappy reports whether the tracker's current rejection context
// was covered by the training conversations. The evaluation engine uses it
// to decide whether an emulated rejection should stand.
func (p *FormPolicy) StateIsUnhappy(t *tracker.Tracker, d *domain.Domain) bool {
	_, ok := p.lookup[FeaturizeStates(decisionStates(t, d, formMaxHistory))]
	return ok
}

// PredictActionProbabilities implements Policy.
func (p *FormPolicy) PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error) {
	form := t.ActiveForm()
	if form.Name == "" {
		return zeros(d), nil
	}

	if form.Rejected {
		if recovery, ok := p.lookup[FeaturizeStates(decisionStates(t, d, formMaxHistory))]; ok {
			p.log.Debug("form rejection matches a trained unhappy path",
				zap.String("form", form.Name),
				zap.String("recovery", recovery))
			return oneHot(d, recovery, 1.0)
		}
		// Unknown rejection context: defer to the other policies.
		return zeros(d), nil
	}

	switch t.LatestActionName() {
	case form.Name:
		return oneHot(d, action.ListenName, 1.0)
	default:
		return oneHot(d, form.Name, 1.0)
	}
}

type formArtifact struct {
	Priority int               `json:"priority"`
	Lookup   map[string]string `json:"lookup"`
}

// Persist implements Policy.
func (p *FormPolicy) Persist(dir string) error {
	return writeArtifact(dir, formArtifact{Priority: p.priority, Lookup: p.lookup})
}

func loadFormPolicy(dir string, log *zap.Logger) (*FormPolicy, error) {
	var art formArtifact
	if err := readArtifact(dir, &art); err != nil {
		return nil, err
	}
	p := NewFormPolicy(art.Priority, log)
	if art.Lookup != nil {
		p.lookup = art.Lookup
	}
	return p, nil
}
