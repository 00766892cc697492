// Package processor runs the serving-time turn loop: it owns the domain,
// the trained policy ensemble and the tracker store, and drives a
// conversation one message at a time.
package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/policy"
	"converse/internal/store"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// DefaultMaxPredictionLoops bounds the actions per incoming message.
const DefaultMaxPredictionLoops = 10

// Message is one parsed incoming user message.
type Message struct {
	Text          string
	Intent        tracker.Intent
	IntentRanking []tracker.Intent
	Entities      []tracker.Entity
}

// Prediction is the ensemble's answer for one decision point.
type Prediction struct {
	ActionName string
	PolicyID   string
	Confidence float64
}

// Processor drives conversations against a trained ensemble. A tracker is
// owned by exactly one turn at a time; the processor serializes turns per
// sender.
type Processor struct {
	domain   *domain.Domain
	ensemble *policy.Ensemble
	store    store.TrackerStore
	maxLoops int
	log      *zap.Logger

	mu      sync.Mutex
	senders map[string]*sync.Mutex
}

// New assembles a processor. maxLoops <= 0 selects the default.
func New(d *domain.Domain, e *policy.Ensemble, s store.TrackerStore, maxLoops int, log *zap.Logger) *Processor {
	if maxLoops <= 0 {
		maxLoops = DefaultMaxPredictionLoops
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		domain:   d,
		ensemble: e,
		store:    s,
		maxLoops: maxLoops,
		log:      log,
		senders:  map[string]*sync.Mutex{},
	}
}

// Domain returns the processor's domain.
func (p *Processor) Domain() *domain.Domain { return p.domain }

// Ensemble returns the processor's policy ensemble.
func (p *Processor) Ensemble() *policy.Ensemble { return p.ensemble }

func (p *Processor) senderLock(senderID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.senders[senderID]
	if !ok {
		l = &sync.Mutex{}
		p.senders[senderID] = l
	}
	return l
}

// PredictNextAction asks the ensemble for the next action at the tracker's
// current decision point.
func (p *Processor) PredictNextAction(t *tracker.Tracker) (Prediction, error) {
	probs, policyID, err := p.ensemble.ProbabilitiesUsingBestPolicy(t, p.domain)
	if err != nil {
		return Prediction{}, err
	}
	bestIdx, bestConf := 0, -1.0
	for i, v := range probs {
		if v > bestConf {
			bestIdx, bestConf = i, v
		}
	}
	name, err := p.domain.ActionForIndex(bestIdx)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{ActionName: name, PolicyID: policyID, Confidence: bestConf}, nil
}

// HandleMessage runs one full turn: append the user message, then predict
// and apply actions until listen. It returns the bot utterances produced
// during the turn.
func (p *Processor) HandleMessage(ctx context.Context, senderID string, msg Message) ([]string, error) {
	lock := p.senderLock(senderID)
	lock.Lock()
	defer lock.Unlock()

	t, err := p.fetchOrCreateTracker(ctx, senderID)
	if err != nil {
		return nil, err
	}

	if msg.Intent.Confidence == 0 {
		msg.Intent.Confidence = 1.0
	}
	t.Update(tracker.UserUttered{
		Text:          msg.Text,
		Intent:        msg.Intent,
		IntentRanking: msg.IntentRanking,
		Entities:      msg.Entities,
	})
	for _, ss := range p.domain.SlotsForEntities(msg.Entities) {
		t.Update(ss)
	}

	var responses []string
	for i := 0; ; i++ {
		if i >= p.maxLoops {
			p.log.Warn("prediction loop limit hit, forcing listen",
				zap.String("sender_id", senderID),
				zap.Int("limit", p.maxLoops))
			t.Update(tracker.NewActionExecuted(action.ListenName, "", 0))
			break
		}

		pred, err := p.PredictNextAction(t)
		if err != nil {
			return nil, fmt.Errorf("predict for %s: %w", senderID, err)
		}

		done, utterances := p.executeAction(t, pred)
		responses = append(responses, utterances...)
		if done {
			break
		}
	}

	if err := p.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save tracker for %s: %w", senderID, err)
	}
	return responses, nil
}

// executeAction applies one predicted action to the tracker and reports
// whether the turn is over.
func (p *Processor) executeAction(t *tracker.Tracker, pred Prediction) (done bool, utterances []string) {
	record := func() {
		t.Update(tracker.NewActionExecuted(pred.ActionName, pred.PolicyID, pred.Confidence))
	}

	switch {
	case pred.ActionName == action.ListenName:
		record()
		return true, nil

	case pred.ActionName == action.RestartName:
		record()
		t.Update(tracker.Restarted{})
		return true, nil

	case pred.ActionName == action.DeactivateFormName:
		record()
		t.Update(tracker.FormDeactivated{})
		return false, nil

	case pred.ActionName == action.DefaultFallbackName:
		record()
		if text, ok := p.utterance("utter_default"); ok {
			t.Update(tracker.BotUttered{Text: text})
			utterances = append(utterances, text)
		}
		return false, nil

	case isForm(p.domain, pred.ActionName):
		if t.ActiveForm().Name != pred.ActionName {
			t.Update(tracker.FormActivated{Name: pred.ActionName})
		}
		record()
		return false, nil

	case strings.HasPrefix(pred.ActionName, action.UtterPrefix):
		record()
		if text, ok := p.utterance(pred.ActionName); ok {
			t.Update(tracker.BotUttered{Text: text})
			utterances = append(utterances, text)
		}
		return false, nil

	default:
		// Custom action without an executor: record it and move on. Slot
		// side effects happen only through entities in this runtime.
		record()
		return false, nil
	}
}

// utterance resolves a response template to its first text variant.
func (p *Processor) utterance(name string) (string, bool) {
	templates := p.domain.TemplatesFor(name)
	for _, tpl := range templates {
		if tpl.Text != "" {
			return tpl.Text, true
		}
	}
	if len(templates) > 0 {
		p.log.Warn("response template has no text variant", zap.String("template", name))
	}
	return "", false
}

func isForm(d *domain.Domain, name string) bool {
	for _, f := range d.FormNames() {
		if f == name {
			return true
		}
	}
	return false
}

func (p *Processor) fetchOrCreateTracker(ctx context.Context, senderID string) (*tracker.Tracker, error) {
	t, err := p.store.Get(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("load tracker for %s: %w", senderID, err)
	}
	if t == nil {
		t = tracker.NewWithSlots(senderID, p.domain.InitialSlotValues())
		t.Update(tracker.NewActionExecuted(action.ListenName, "", 1.0))
	}
	return t, nil
}
