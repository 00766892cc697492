// Package tracker implements the per-conversation event log.
//
// A Tracker is an append-only ordered log of tagged event variants. The
// "current state" of a conversation (slots, active form, latest message,
// latest action) is always a pure fold over that log; nothing is mutated
// independently of it. This keeps offline evaluation and live serving
// consistent by construction.
package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Intent is a parsed user intent with its classifier confidence.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Entity is a recognized entity occurrence in a user message.
type Entity struct {
	Name  string `json:"entity"`
	Value string `json:"value"`
	Start int    `json:"start,omitempty"`
	End   int    `json:"end,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Event is a single tagged entry in a conversation log.
type Event interface {
	// TypeName returns the stable wire tag of the event variant.
	TypeName() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Timestamped carries the shared timestamp field of all event variants.
type Timestamped struct {
	At time.Time `json:"timestamp"`
}

// Timestamp implements Event.
func (t Timestamped) Timestamp() time.Time { return t.At }

// UserUttered records an incoming user message together with the parse
// result. TrueIntent and TrueEntities are only populated on recorded
// conversations used for end-to-end evaluation.
type UserUttered struct {
	Timestamped
	Text          string   `json:"text"`
	Intent        Intent   `json:"intent"`
	IntentRanking []Intent `json:"intent_ranking,omitempty"`
	Entities      []Entity `json:"entities,omitempty"`
	TrueIntent    string   `json:"true_intent,omitempty"`
	TrueEntities  []Entity `json:"true_entities,omitempty"`
}

// TypeName implements Event.
func (UserUttered) TypeName() string { return "user" }

// ActionExecuted records that the bot ran an action, and which policy chose
// it at what confidence.
type ActionExecuted struct {
	Timestamped
	ActionName string  `json:"name"`
	Policy     string  `json:"policy,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TypeName implements Event.
func (ActionExecuted) TypeName() string { return "action" }

// BotUttered records a message sent to the user.
type BotUttered struct {
	Timestamped
	Text string `json:"text"`
}

// TypeName implements Event.
func (BotUttered) TypeName() string { return "bot" }

// SlotSet records a slot receiving a value. A nil value clears the slot.
type SlotSet struct {
	Timestamped
	Key   string `json:"name"`
	Value any    `json:"value"`
}

// TypeName implements Event.
func (SlotSet) TypeName() string { return "slot" }

// FormActivated records a form taking control of the conversation.
type FormActivated struct {
	Timestamped
	Name string `json:"name"`
}

// TypeName implements Event.
func (FormActivated) TypeName() string { return "form" }

// FormDeactivated records the active form releasing control.
type FormDeactivated struct {
	Timestamped
}

// TypeName implements Event.
func (FormDeactivated) TypeName() string { return "form_deactivated" }

// ActionRejected records that an action declined to run. The ensemble uses
// this to suppress the rejected action on the immediately following
// prediction.
type ActionRejected struct {
	Timestamped
	ActionName string `json:"name"`
}

// TypeName implements Event.
func (ActionRejected) TypeName() string { return "action_rejected" }

// Restarted wipes the conversation state back to a fresh session.
type Restarted struct {
	Timestamped
}

// TypeName implements Event.
func (Restarted) TypeName() string { return "restart" }

// WronglyPredictedAction is an ActionExecuted stand-in used by the
// evaluation engine to mark a mismatch. It renders both the gold action and
// the wrong prediction when the conversation is exported as a story.
type WronglyPredictedAction struct {
	ActionExecuted
	PredictedAction string `json:"predicted"`
}

// TypeName implements Event.
func (WronglyPredictedAction) TypeName() string { return "wrong_action" }

// WronglyClassifiedUserUtterance is a UserUttered stand-in marking an NLU
// mismatch found during end-to-end evaluation.
type WronglyClassifiedUserUtterance struct {
	UserUttered
	PredictedIntent   string   `json:"predicted_intent"`
	PredictedEntities []Entity `json:"predicted_entities,omitempty"`
}

// TypeName implements Event.
func (WronglyClassifiedUserUtterance) TypeName() string { return "wrong_utterance" }

// envelope is the persisted form of an event: the variant tag plus the
// variant's own fields, flattened by a second marshal pass.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalEvent serializes an event with its variant tag for storage.
func MarshalEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.TypeName(), err)
	}
	return json.Marshal(envelope{Type: e.TypeName(), Data: data})
}

// UnmarshalEvent restores an event serialized by MarshalEvent. Unknown
// variant tags are an error: a log with foreign events cannot be folded.
func UnmarshalEvent(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var e Event
	switch env.Type {
	case "user":
		e = &UserUttered{}
	case "action":
		e = &ActionExecuted{}
	case "bot":
		e = &BotUttered{}
	case "slot":
		e = &SlotSet{}
	case "form":
		e = &FormActivated{}
	case "form_deactivated":
		e = &FormDeactivated{}
	case "action_rejected":
		e = &ActionRejected{}
	case "restart":
		e = &Restarted{}
	case "wrong_action":
		e = &WronglyPredictedAction{}
	case "wrong_utterance":
		e = &WronglyClassifiedUserUtterance{}
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return deref(e), nil
}

// deref returns the value form of the decoded pointer so that events stay
// comparable and copy-safe.
func deref(e Event) Event {
	switch v := e.(type) {
	case *UserUttered:
		return *v
	case *ActionExecuted:
		return *v
	case *BotUttered:
		return *v
	case *SlotSet:
		return *v
	case *FormActivated:
		return *v
	case *FormDeactivated:
		return *v
	case *ActionRejected:
		return *v
	case *Restarted:
		return *v
	case *WronglyPredictedAction:
		return *v
	case *WronglyClassifiedUserUtterance:
		return *v
	default:
		return e
	}
}
