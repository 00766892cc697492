package tracker

import (
	"fmt"
	"strings"
	"time"

	"converse/internal/action"

	"github.com/google/uuid"
)

// ActiveForm is the form currently driving the conversation, if any.
type ActiveForm struct {
	Name     string
	Rejected bool
}

// Tracker is the append-only event log of one conversation plus the state
// derived from folding it. A tracker is owned by exactly one in-flight turn
// at a time; callers serialize turns per conversation.
type Tracker struct {
	senderID     string
	events       []Event
	initialSlots map[string]any

	// Folded state. Only Update mutates these, and only as a function of
	// the appended event.
	slots        map[string]any
	latestMsg    *UserUttered
	latestAction string
	activeForm   ActiveForm
	paused       bool
}

// New creates an empty tracker. An empty senderID gets a fresh UUID.
func New(senderID string) *Tracker {
	return NewWithSlots(senderID, nil)
}

// NewWithSlots creates an empty tracker whose slots start at (and reset to,
// on restart) the given initial values.
func NewWithSlots(senderID string, initialSlots map[string]any) *Tracker {
	if senderID == "" {
		senderID = uuid.NewString()
	}
	t := &Tracker{
		senderID:     senderID,
		initialSlots: initialSlots,
	}
	t.reset()
	return t
}

// FromEvents rebuilds a tracker by folding the given events in order.
func FromEvents(senderID string, initialSlots map[string]any, events []Event) *Tracker {
	t := NewWithSlots(senderID, initialSlots)
	for _, e := range events {
		t.Update(e)
	}
	return t
}

func (t *Tracker) reset() {
	t.slots = make(map[string]any, len(t.initialSlots))
	for k, v := range t.initialSlots {
		t.slots[k] = v
	}
	t.latestMsg = nil
	t.latestAction = action.ListenName
	t.activeForm = ActiveForm{}
	t.paused = false
}

// SenderID returns the conversation identifier.
func (t *Tracker) SenderID() string { return t.senderID }

// Events returns the full event log. Callers must not mutate it.
func (t *Tracker) Events() []Event { return t.events }

// LastEvent returns the most recent event, or nil on an empty log.
func (t *Tracker) LastEvent() Event {
	if len(t.events) == 0 {
		return nil
	}
	return t.events[len(t.events)-1]
}

// Update appends the event and folds it into the derived state.
func (t *Tracker) Update(e Event) {
	t.events = append(t.events, e)
	t.apply(e)
}

func (t *Tracker) apply(e Event) {
	switch ev := e.(type) {
	case UserUttered:
		t.latestMsg = &ev
	case WronglyClassifiedUserUtterance:
		msg := ev.UserUttered
		t.latestMsg = &msg
	case ActionExecuted:
		t.applyAction(ev.ActionName)
	case WronglyPredictedAction:
		t.applyAction(ev.ActionExecuted.ActionName)
	case SlotSet:
		if ev.Value == nil {
			delete(t.slots, ev.Key)
		} else {
			t.slots[ev.Key] = ev.Value
		}
	case FormActivated:
		t.activeForm = ActiveForm{Name: ev.Name}
	case FormDeactivated:
		t.activeForm = ActiveForm{}
	case ActionRejected:
		if t.activeForm.Name != "" && t.activeForm.Name == ev.ActionName {
			t.activeForm.Rejected = true
		}
	case Restarted:
		t.reset()
	}
}

func (t *Tracker) applyAction(name string) {
	t.latestAction = name
	// A form that runs again after a rejection has recovered.
	if t.activeForm.Name != "" && t.activeForm.Name == name {
		t.activeForm.Rejected = false
	}
}

// Slots returns the current slot values. Callers must not mutate the map.
func (t *Tracker) Slots() map[string]any { return t.slots }

// SlotValue returns the current value of one slot, nil when unset.
func (t *Tracker) SlotValue(name string) any { return t.slots[name] }

// InitialSlots returns the slot values the tracker starts from on reset.
// Callers must not mutate the map.
func (t *Tracker) InitialSlots() map[string]any { return t.initialSlots }

// LatestMessage returns the most recent user message, nil before the first.
func (t *Tracker) LatestMessage() *UserUttered { return t.latestMsg }

// LatestActionName returns the name of the most recently executed action.
// A fresh tracker reports action_listen.
func (t *Tracker) LatestActionName() string { return t.latestAction }

// ActiveForm returns the form currently in control, zero value when none.
func (t *Tracker) ActiveForm() ActiveForm { return t.activeForm }

// Copy returns an independent tracker with the same log and derived state.
func (t *Tracker) Copy() *Tracker {
	events := make([]Event, len(t.events))
	copy(events, t.events)
	return FromEvents(t.senderID, t.initialSlots, events)
}

// RollbackLastEvent removes the most recent event and refolds the log.
// The fold being pure makes this exact: there is no separately mutated
// state to repair.
func (t *Tracker) RollbackLastEvent() {
	if len(t.events) == 0 {
		return
	}
	events := t.events[:len(t.events)-1]
	t.events = nil
	t.reset()
	for _, e := range events {
		t.Update(e)
	}
}

// EventsAfterLatestRestart returns the suffix of the log after the most
// recent Restarted event (the whole log when there is none).
func (t *Tracker) EventsAfterLatestRestart() []Event {
	for i := len(t.events) - 1; i >= 0; i-- {
		if _, ok := t.events[i].(Restarted); ok {
			return t.events[i+1:]
		}
	}
	return t.events
}

// GeneratePriorTrackers yields the decision-time prefixes of the
// conversation: for every executed action, the tracker as it looked right
// before that action ran, plus the full tracker as the final element (the
// decision state for whatever comes next). Training pairs element i with
// the i-th executed action.
func (t *Tracker) GeneratePriorTrackers() []*Tracker {
	var prior []*Tracker
	partial := NewWithSlots(t.senderID, t.initialSlots)
	for _, e := range t.events {
		if isActionEvent(e) {
			prior = append(prior, partial.Copy())
		}
		partial.Update(e)
	}
	return append(prior, partial)
}

// ExecutedActions returns the action names in execution order, aligned with
// the prefixes of GeneratePriorTrackers.
func (t *Tracker) ExecutedActions() []string {
	var actions []string
	for _, e := range t.events {
		switch ev := e.(type) {
		case ActionExecuted:
			actions = append(actions, ev.ActionName)
		case WronglyPredictedAction:
			actions = append(actions, ev.ActionExecuted.ActionName)
		}
	}
	return actions
}

func isActionEvent(e Event) bool {
	switch e.(type) {
	case ActionExecuted, WronglyPredictedAction:
		return true
	}
	return false
}

// NewUserUttered builds a user message event with a current timestamp.
func NewUserUttered(text string, intent Intent, entities []Entity) UserUttered {
	return UserUttered{
		Timestamped: Timestamped{At: time.Now()},
		Text:        text,
		Intent:      intent,
		Entities:    entities,
	}
}

// NewActionExecuted builds an action event with a current timestamp.
func NewActionExecuted(name, policy string, confidence float64) ActionExecuted {
	return ActionExecuted{
		Timestamped: Timestamped{At: time.Now()},
		ActionName:  name,
		Policy:      policy,
		Confidence:  confidence,
	}
}

// ExportStory renders the conversation since the latest restart as a
// Markdown story transcript. Evaluation mismatch events are annotated
// inline with the wrong prediction beside the correct value.
func (t *Tracker) ExportStory() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", t.senderID)
	for _, e := range t.EventsAfterLatestRestart() {
		switch ev := e.(type) {
		case WronglyClassifiedUserUtterance:
			fmt.Fprintf(&b, "* %s: %s   <!-- predicted: %s: %s -->\n",
				ev.TrueIntent, ev.Text, ev.PredictedIntent, ev.Text)
		case UserUttered:
			b.WriteString("* " + formatUserLine(ev) + "\n")
		case WronglyPredictedAction:
			fmt.Fprintf(&b, "    - %s   <!-- predicted: %s -->\n",
				ev.ActionExecuted.ActionName, ev.PredictedAction)
		case ActionExecuted:
			if ev.ActionName != action.ListenName {
				fmt.Fprintf(&b, "    - %s\n", ev.ActionName)
			}
		case SlotSet:
			fmt.Fprintf(&b, "    - slot{%q: %v}\n", ev.Key, ev.Value)
		case FormActivated:
			fmt.Fprintf(&b, "    - form{%q}\n", ev.Name)
		}
	}
	return b.String()
}

func formatUserLine(ev UserUttered) string {
	if len(ev.Entities) == 0 {
		return ev.Intent.Name
	}
	parts := make([]string, 0, len(ev.Entities))
	for _, ent := range ev.Entities {
		parts = append(parts, fmt.Sprintf("%q: %q", ent.Name, ent.Value))
	}
	return fmt.Sprintf("%s{%s}", ev.Intent.Name, strings.Join(parts, ", "))
}
