package evaluate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"converse/internal/metrics"
	"converse/internal/policy"
	"converse/internal/processor"
	"converse/internal/tracker"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultWorkers bounds the parallel story replays.
const defaultWorkers = 4

// failedStoriesFile collects the transcripts of mispredicted stories.
const failedStoriesFile = "failed_stories.md"

// PredictionError aborts a fail-fast evaluation at the first mismatch. It
// carries the rendered story up to and including the wrong step.
type PredictionError struct {
	Message string
	Story   string
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("%s Failed story:\n\n%s", e.Message, e.Story)
}

// ActionResult records one evaluated decision point.
type ActionResult struct {
	Action     string  `json:"action"`
	Predicted  string  `json:"predicted"`
	PolicyID   string  `json:"policy"`
	Confidence float64 `json:"confidence"`
}

// Options tunes an evaluation run.
type Options struct {
	// FailOnPredictionErrors aborts at the first mismatch with a
	// PredictionError instead of collecting it.
	FailOnPredictionErrors bool

	// E2E additionally scores intents and entities against the recorded
	// true values.
	E2E bool

	// OutDirectory, when set, receives failed_stories.md.
	OutDirectory string

	// MaxStories truncates the corpus when positive.
	MaxStories int

	// Workers bounds the parallel replays, default 4.
	Workers int

	Logger *zap.Logger
}

// Result is the outcome of one evaluation run.
type Result struct {
	Report                 Report         `json:"report"`
	Precision              float64        `json:"precision"`
	F1                     float64        `json:"f1"`
	Accuracy               float64        `json:"accuracy"`
	Actions                []ActionResult `json:"actions"`
	InTrainingDataFraction float64        `json:"in_training_data_fraction"`
	IsEndToEndEvaluation   bool           `json:"is_end_to_end_evaluation"`
}

// storyOutcome is one conversation's evaluation, kept per input index so
// parallel runs merge deterministically.
type storyOutcome struct {
	store   *Store
	partial *tracker.Tracker
	actions []ActionResult
}

// Test replays every conversation against the processor's model and scores
// the predictions.
func Test(ctx context.Context, trackers []*tracker.Tracker, p *processor.Processor, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxStories > 0 && len(trackers) > opts.MaxStories {
		trackers = trackers[:opts.MaxStories]
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	log.Info("evaluating stories", zap.Int("count", len(trackers)))

	outcomes := make([]storyOutcome, len(trackers))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range trackers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcome, err := evaluateTracker(p, t, opts)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in input order so the failed-story list is deterministic.
	combined := &Store{}
	var failed []*tracker.Tracker
	var actions []ActionResult
	for _, o := range outcomes {
		combined.Merge(o.store)
		actions = append(actions, o.actions...)
		if o.store.HasMismatch() {
			failed = append(failed, o.partial)
			metrics.StoriesEvaluatedTotal.WithLabelValues("failed").Inc()
		} else {
			metrics.StoriesEvaluatedTotal.WithLabelValues("passed").Inc()
		}
	}

	targets, predictions := combined.Serialize()
	report, precision, f1, accuracy := Metrics(targets, predictions)

	result := &Result{
		Report:                 report,
		Precision:              precision,
		F1:                     f1,
		Accuracy:               accuracy,
		Actions:                actions,
		InTrainingDataFraction: inTrainingDataFraction(actions),
		IsEndToEndEvaluation:   opts.E2E,
	}

	log.Info("finished collecting predictions",
		zap.Int("failed_stories", len(failed)),
		zap.Float64("accuracy", accuracy),
		zap.Float64("in_training_data_fraction", result.InTrainingDataFraction))

	if opts.OutDirectory != "" {
		if err := writeFailedStories(opts.OutDirectory, failed); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// inTrainingDataFraction is the share of decision points answered by the
// memoization family, i.e. seen verbatim during training.
func inTrainingDataFraction(actions []ActionResult) float64 {
	if len(actions) == 0 {
		return 0
	}
	memoized := 0
	for _, a := range actions {
		if a.PolicyID != "" && policy.IsMemoizationID(a.PolicyID) {
			memoized++
		}
	}
	return float64(memoized) / float64(len(actions))
}

// evaluateTracker replays one gold conversation. The partial tracker
// re-grows event by event, asking the model for a prediction at every
// recorded decision point.
func evaluateTracker(p *processor.Processor, gold *tracker.Tracker, opts Options) (storyOutcome, error) {
	events := gold.Events()
	partial := tracker.NewWithSlots(gold.SenderID(), p.Domain().InitialSlotValues())
	start := 0
	if len(events) > 0 {
		partial.Update(events[0])
		start = 1
	}

	outcome := storyOutcome{store: &Store{}, partial: partial}
	for _, ev := range events[start:] {
		switch e := ev.(type) {
		case tracker.ActionExecuted:
			es, res, err := collectActionExecuted(p, partial, e, opts.FailOnPredictionErrors)
			if err != nil {
				return storyOutcome{}, err
			}
			outcome.store.Merge(es)
			outcome.actions = append(outcome.actions, res)
		case tracker.UserUttered:
			if opts.E2E {
				es, err := collectUserUttered(partial, e, opts.FailOnPredictionErrors)
				if err != nil {
					return storyOutcome{}, err
				}
				outcome.store.Merge(es)
			} else {
				partial.Update(ev)
			}
		default:
			partial.Update(ev)
		}
	}
	return outcome, nil
}

// collectActionExecuted scores one decision point. A wrong answer from the
// form policy gets a second chance after an emulated form rejection.
func collectActionExecuted(p *processor.Processor, partial *tracker.Tracker, gold tracker.ActionExecuted, failFast bool) (*Store, ActionResult, error) {
	pred, err := p.PredictNextAction(partial)
	if err != nil {
		return nil, ActionResult{}, err
	}

	formPredicted := strings.HasSuffix(pred.PolicyID, "_FormPolicy")
	if pred.PolicyID != "" && pred.ActionName != gold.ActionName && formPredicted {
		emulateFormRejection(p, partial)
		pred, err = p.PredictNextAction(partial)
		if err != nil {
			return nil, ActionResult{}, err
		}
	}

	es := &Store{
		ActionPredictions: []string{pred.ActionName},
		ActionTargets:     []string{gold.ActionName},
	}
	if es.HasMismatch() {
		partial.Update(tracker.WronglyPredictedAction{
			ActionExecuted: tracker.ActionExecuted{
				Timestamped: gold.Timestamped,
				ActionName:  gold.ActionName,
				Policy:      gold.Policy,
				Confidence:  gold.Confidence,
			},
			PredictedAction: pred.ActionName,
		})
		if failFast {
			msg := "Model predicted a wrong action."
			if strings.HasSuffix(pred.PolicyID, "_FormPolicy") {
				msg += " The form itself does not run during evaluation, so a" +
					" failed validation is indistinguishable from a wrong story;" +
					" if the story is correct, add it to the training data and retrain."
			}
			return nil, ActionResult{}, &PredictionError{Message: msg, Story: partial.ExportStory()}
		}
	} else {
		partial.Update(gold)
	}

	result := ActionResult{
		Action:     gold.ActionName,
		Predicted:  pred.ActionName,
		PolicyID:   pred.PolicyID,
		Confidence: pred.Confidence,
	}
	return es, result, nil
}

// emulateFormRejection injects an ActionRejected for the active form, then
// rolls it back unless the resulting unhappy state was memorized from the
// training stories.
func emulateFormRejection(p *processor.Processor, partial *tracker.Tracker) {
	form := partial.ActiveForm()
	if form.Name == "" {
		return
	}
	fp := p.Ensemble().FormPolicy()
	if fp == nil {
		return
	}
	partial.Update(tracker.ActionRejected{ActionName: form.Name})
	if !fp.StateIsUnhappy(partial, p.Domain()) {
		partial.RollbackLastEvent()
	}
}

// collectUserUttered scores one end-to-end user turn against the recorded
// true intent and entities.
func collectUserUttered(partial *tracker.Tracker, gold tracker.UserUttered, failFast bool) (*Store, error) {
	es := &Store{
		IntentPredictions: []string{gold.Intent.Name},
		IntentTargets:     []string{gold.TrueIntent},
	}
	if len(gold.TrueEntities) > 0 || len(gold.Entities) > 0 {
		es.EntityPredictions = formatEntities(gold.Entities)
		es.EntityTargets = formatEntities(gold.TrueEntities)
	}

	if es.HasMismatch() {
		wrong := tracker.WronglyClassifiedUserUtterance{
			UserUttered:       gold,
			PredictedIntent:   gold.Intent.Name,
			PredictedEntities: gold.Entities,
		}
		wrong.UserUttered.Intent = tracker.Intent{Name: gold.TrueIntent}
		wrong.UserUttered.Entities = gold.TrueEntities
		partial.Update(wrong)
		if failFast {
			return nil, &PredictionError{
				Message: "NLU model predicted a wrong intent.",
				Story:   partial.ExportStory(),
			}
		}
	} else {
		partial.Update(gold)
	}
	return es, nil
}

// writeFailedStories renders the mispredicted conversations, one story per
// failure, into failed_stories.md.
func writeFailedStories(dir string, failed []*tracker.Tracker) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	var b strings.Builder
	if len(failed) == 0 {
		b.WriteString("<!-- All stories passed -->")
	} else {
		for _, t := range failed {
			b.WriteString(t.ExportStory())
			b.WriteString("\n\n")
		}
	}
	path := filepath.Join(dir, failedStoriesFile)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", failedStoriesFile, err)
	}
	return nil
}
