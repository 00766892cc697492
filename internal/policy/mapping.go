package policy

import (
	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// MappingPolicy deterministically routes intents to actions: intents with a
// `triggers` property in the domain go straight to their action, and the
// built-in restart/back intents go to their default actions. It needs no
// training.
type MappingPolicy struct {
	priority int
	log      *zap.Logger
}

// NewMappingPolicy creates a mapping policy.
func NewMappingPolicy(priority int, log *zap.Logger) *MappingPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &MappingPolicy{priority: priority, log: log}
}

// Name implements Policy.
func (*MappingPolicy) Name() string { return "MappingPolicy" }

// Priority implements Policy.
func (p *MappingPolicy) Priority() int { return p.priority }

// MaxHistory implements Policy.
func (*MappingPolicy) MaxHistory() int { return 0 }

// Train implements Policy. Mappings come from the domain, nothing to fit.
func (*MappingPolicy) Train([]*tracker.Tracker, *domain.Domain) error { return nil }

// mappedAction resolves the action an intent routes to, empty when the
// intent is unmapped.
func (p *MappingPolicy) mappedAction(intentName string, d *domain.Domain) string {
	switch intentName {
	case action.IntentRestart:
		return action.RestartName
	case action.IntentBack:
		return action.BackName
	}
	return d.IntentProperties(intentName).Triggers
}

// PredictActionProbabilities implements Policy. Right after a user message
// it predicts the mapped action with full confidence; right after the
// mapped action ran it hands control back by predicting listen.
func (p *MappingPolicy) PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error) {
	msg := t.LatestMessage()
	if msg == nil {
		return zeros(d), nil
	}
	mapped := p.mappedAction(msg.Intent.Name, d)
	if mapped == "" {
		return zeros(d), nil
	}

	switch t.LatestActionName() {
	case action.ListenName:
		p.log.Debug("intent is mapped, predicting its action",
			zap.String("intent", msg.Intent.Name),
			zap.String("action", mapped))
		return oneHot(d, mapped, 1.0)
	case mapped:
		return oneHot(d, action.ListenName, 1.0)
	}
	return zeros(d), nil
}

type mappingArtifact struct {
	Priority int `json:"priority"`
}

// Persist implements Policy.
func (p *MappingPolicy) Persist(dir string) error {
	return writeArtifact(dir, mappingArtifact{Priority: p.priority})
}

func loadMappingPolicy(dir string, log *zap.Logger) (*MappingPolicy, error) {
	var art mappingArtifact
	if err := readArtifact(dir, &art); err != nil {
		return nil, err
	}
	return NewMappingPolicy(art.Priority, log), nil
}
