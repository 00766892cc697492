package policy

import (
	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// Fallback default thresholds and action.
const (
	DefaultNLUThreshold   = 0.3
	DefaultCoreThreshold  = 0.3
	DefaultFallbackAction = action.DefaultFallbackName
)

// FallbackPolicy takes over when nothing else is confident: it fires its
// designated fallback action when the parsed intent confidence falls below
// the NLU threshold, and otherwise bids the core threshold so that it only
// wins when every other policy stays below it.
type FallbackPolicy struct {
	priority       int
	nluThreshold   float64
	coreThreshold  float64
	fallbackAction string
	log            *zap.Logger
}

// NewFallbackPolicy creates a fallback policy. Zero thresholds take the
// defaults; an empty action name takes action_default_fallback.
func NewFallbackPolicy(priority int, nluThreshold, coreThreshold float64, fallbackAction string, log *zap.Logger) *FallbackPolicy {
	if nluThreshold == 0 {
		nluThreshold = DefaultNLUThreshold
	}
	if coreThreshold == 0 {
		coreThreshold = DefaultCoreThreshold
	}
	if fallbackAction == "" {
		fallbackAction = DefaultFallbackAction
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackPolicy{
		priority:       priority,
		nluThreshold:   nluThreshold,
		coreThreshold:  coreThreshold,
		fallbackAction: fallbackAction,
		log:            log,
	}
}

// Name implements Policy.
func (*FallbackPolicy) Name() string { return "FallbackPolicy" }

// Priority implements Policy.
func (p *FallbackPolicy) Priority() int { return p.priority }

// MaxHistory implements Policy.
func (*FallbackPolicy) MaxHistory() int { return 0 }

// Train implements Policy. Thresholds are configuration, nothing to fit.
func (*FallbackPolicy) Train([]*tracker.Tracker, *domain.Domain) error { return nil }

// FallbackActionName returns the configured safe action.
func (p *FallbackPolicy) FallbackActionName() string { return p.fallbackAction }

// FallbackScores returns the fixed distribution concentrated on the
// fallback action. The ensemble substitutes it when overriding a stalled
// listen prediction.
func (p *FallbackPolicy) FallbackScores(d *domain.Domain, score float64) ([]float64, error) {
	return oneHot(d, p.fallbackAction, score)
}

// PredictActionProbabilities implements Policy.
func (p *FallbackPolicy) PredictActionProbabilities(t *tracker.Tracker, d *domain.Domain) ([]float64, error) {
	msg := t.LatestMessage()
	if msg == nil {
		return zeros(d), nil
	}

	// After the fallback action ran, hand back to the user.
	if t.LatestActionName() == p.fallbackAction {
		return oneHot(d, action.ListenName, 1.0)
	}

	if t.LatestActionName() == action.ListenName && msg.Intent.Confidence < p.nluThreshold {
		p.log.Debug("intent confidence below NLU threshold, proposing fallback",
			zap.String("intent", msg.Intent.Name),
			zap.Float64("confidence", msg.Intent.Confidence),
			zap.Float64("threshold", p.nluThreshold))
		return p.FallbackScores(d, 1.0)
	}

	// Stay in the bidding at exactly the core threshold: the fallback wins
	// only when no other policy clears it.
	return p.FallbackScores(d, p.coreThreshold)
}

type fallbackArtifact struct {
	Priority       int     `json:"priority"`
	NLUThreshold   float64 `json:"nlu_threshold"`
	CoreThreshold  float64 `json:"core_threshold"`
	FallbackAction string  `json:"fallback_action"`
}

// Persist implements Policy.
func (p *FallbackPolicy) Persist(dir string) error {
	return writeArtifact(dir, fallbackArtifact{
		Priority:       p.priority,
		NLUThreshold:   p.nluThreshold,
		CoreThreshold:  p.coreThreshold,
		FallbackAction: p.fallbackAction,
	})
}

func loadFallbackPolicy(dir string, log *zap.Logger) (*FallbackPolicy, error) {
	var art fallbackArtifact
	if err := readArtifact(dir, &art); err != nil {
		return nil, err
	}
	return NewFallbackPolicy(art.Priority, art.NLUThreshold, art.CoreThreshold, art.FallbackAction, log), nil
}
