package tracker

import (
	"strings"
	"testing"

	"converse/internal/action"
)

func TestFreshTracker(t *testing.T) {
	tr := New("")
	if tr.SenderID() == "" {
		t.Error("empty sender id was not replaced with a generated one")
	}
	if tr.LatestActionName() != action.ListenName {
		t.Errorf("fresh tracker latest action = %q, want listen", tr.LatestActionName())
	}
	if tr.LatestMessage() != nil {
		t.Error("fresh tracker has a latest message")
	}
	if tr.LastEvent() != nil {
		t.Error("fresh tracker has a last event")
	}
}

func TestUpdateFoldsState(t *testing.T) {
	tr := NewWithSlots("alice", map[string]any{"cuisine": nil})
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))
	tr.Update(NewUserUttered("chinese please", Intent{Name: "inform", Confidence: 0.9},
		[]Entity{{Name: "cuisine", Value: "chinese"}}))
	tr.Update(SlotSet{Key: "cuisine", Value: "chinese"})
	tr.Update(NewActionExecuted("utter_confirm", "policy_0_MemoizationPolicy", 1.0))

	if got := tr.SlotValue("cuisine"); got != "chinese" {
		t.Errorf("cuisine = %v", got)
	}
	if tr.LatestMessage() == nil || tr.LatestMessage().Intent.Name != "inform" {
		t.Errorf("latest message = %+v", tr.LatestMessage())
	}
	if tr.LatestActionName() != "utter_confirm" {
		t.Errorf("latest action = %q", tr.LatestActionName())
	}
	if len(tr.Events()) != 4 {
		t.Errorf("event count = %d", len(tr.Events()))
	}
}

func TestSlotSetNilDeletes(t *testing.T) {
	tr := New("alice")
	tr.Update(SlotSet{Key: "cuisine", Value: "chinese"})
	tr.Update(SlotSet{Key: "cuisine", Value: nil})
	if _, ok := tr.Slots()["cuisine"]; ok {
		t.Error("nil SlotSet did not clear the slot")
	}
}

func TestRestartResetsDerivedState(t *testing.T) {
	tr := NewWithSlots("alice", map[string]any{"cuisine": "default"})
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))
	tr.Update(NewUserUttered("hi", Intent{Name: "greet", Confidence: 1.0}, nil))
	tr.Update(SlotSet{Key: "cuisine", Value: "chinese"})
	tr.Update(FormActivated{Name: "restaurant_form"})
	tr.Update(Restarted{})

	if got := tr.SlotValue("cuisine"); got != "default" {
		t.Errorf("slot after restart = %v, want the initial value", got)
	}
	if tr.LatestMessage() != nil {
		t.Error("latest message survived the restart")
	}
	if tr.ActiveForm().Name != "" {
		t.Error("active form survived the restart")
	}
	if tr.LatestActionName() != action.ListenName {
		t.Errorf("latest action after restart = %q", tr.LatestActionName())
	}
	// The log itself is append-only: the restart is an event, not a purge.
	if len(tr.Events()) != 5 {
		t.Errorf("event count after restart = %d, want 5", len(tr.Events()))
	}
}

func TestFormRejectionLifecycle(t *testing.T) {
	tr := New("alice")
	tr.Update(FormActivated{Name: "restaurant_form"})
	tr.Update(ActionRejected{ActionName: "restaurant_form"})
	if !tr.ActiveForm().Rejected {
		t.Fatal("rejection not recorded on the active form")
	}

	// An unrelated rejection must not touch the form.
	tr2 := New("bob")
	tr2.Update(FormActivated{Name: "restaurant_form"})
	tr2.Update(ActionRejected{ActionName: "other_form"})
	if tr2.ActiveForm().Rejected {
		t.Error("rejection of a different action marked the form rejected")
	}

	// Running the form again clears the rejection.
	tr.Update(NewActionExecuted("restaurant_form", "", 1.0))
	if tr.ActiveForm().Rejected {
		t.Error("re-running the form did not clear the rejection")
	}

	tr.Update(FormDeactivated{})
	if tr.ActiveForm().Name != "" {
		t.Error("form still active after deactivation")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	tr := New("alice")
	tr.Update(SlotSet{Key: "cuisine", Value: "chinese"})

	cp := tr.Copy()
	cp.Update(SlotSet{Key: "cuisine", Value: "italian"})

	if got := tr.SlotValue("cuisine"); got != "chinese" {
		t.Errorf("copy mutation leaked into the original: %v", got)
	}
	if got := cp.SlotValue("cuisine"); got != "italian" {
		t.Errorf("copy slot = %v", got)
	}
}

func TestRollbackLastEvent(t *testing.T) {
	tr := New("alice")
	tr.Update(FormActivated{Name: "restaurant_form"})
	tr.Update(ActionRejected{ActionName: "restaurant_form"})
	tr.RollbackLastEvent()

	if tr.ActiveForm().Rejected {
		t.Error("rollback did not clear the rejection flag")
	}
	if len(tr.Events()) != 1 {
		t.Errorf("event count after rollback = %d, want 1", len(tr.Events()))
	}

	empty := New("bob")
	empty.RollbackLastEvent() // must not panic
	if len(empty.Events()) != 0 {
		t.Error("rollback on an empty log created events")
	}
}

func TestGeneratePriorTrackersAlignment(t *testing.T) {
	tr := New("alice")
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))
	tr.Update(NewUserUttered("hi", Intent{Name: "greet", Confidence: 1.0}, nil))
	tr.Update(NewActionExecuted("utter_greet", "", 1.0))
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))

	prior := tr.GeneratePriorTrackers()
	actions := tr.ExecutedActions()
	if len(prior) != len(actions)+1 {
		t.Fatalf("len(prior) = %d, want len(actions)+1 = %d", len(prior), len(actions)+1)
	}

	// Element i is the state before action i ran.
	if prior[0].LastEvent() != nil {
		t.Error("state before the first action is not empty")
	}
	if prior[1].LatestMessage() == nil {
		t.Error("state before utter_greet is missing the user message")
	}
	if prior[1].LatestActionName() != action.ListenName {
		t.Errorf("latest action before utter_greet = %q", prior[1].LatestActionName())
	}
	if prior[2].LatestActionName() != "utter_greet" {
		t.Errorf("latest action before the closing listen = %q", prior[2].LatestActionName())
	}
	// The final element is the full tracker state.
	last := prior[len(prior)-1]
	if len(last.Events()) != len(tr.Events()) {
		t.Error("final prior element is not the full tracker")
	}
}

func TestEventsAfterLatestRestart(t *testing.T) {
	tr := New("alice")
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))
	tr.Update(Restarted{})
	tr.Update(NewUserUttered("hi", Intent{Name: "greet", Confidence: 1.0}, nil))

	after := tr.EventsAfterLatestRestart()
	if len(after) != 1 {
		t.Fatalf("len(after) = %d, want 1", len(after))
	}
	if _, ok := after[0].(UserUttered); !ok {
		t.Errorf("unexpected event after restart: %T", after[0])
	}
}

func TestExportStory(t *testing.T) {
	tr := New("my story")
	tr.Update(NewActionExecuted(action.ListenName, "", 1.0))
	tr.Update(NewUserUttered("chinese please", Intent{Name: "inform", Confidence: 1.0},
		[]Entity{{Name: "cuisine", Value: "chinese"}}))
	tr.Update(NewActionExecuted("utter_confirm", "", 1.0))
	tr.Update(WronglyPredictedAction{
		ActionExecuted:  ActionExecuted{ActionName: "utter_goodbye"},
		PredictedAction: "utter_greet",
	})

	story := tr.ExportStory()
	if !strings.HasPrefix(story, "## my story\n") {
		t.Errorf("story header missing:\n%s", story)
	}
	if !strings.Contains(story, `* inform{"cuisine": "chinese"}`) {
		t.Errorf("user line missing entities:\n%s", story)
	}
	if !strings.Contains(story, "    - utter_confirm\n") {
		t.Errorf("action line missing:\n%s", story)
	}
	if !strings.Contains(story, "    - utter_goodbye   <!-- predicted: utter_greet -->") {
		t.Errorf("mismatch annotation missing:\n%s", story)
	}
	if strings.Contains(story, action.ListenName) {
		t.Errorf("listen actions must not appear in transcripts:\n%s", story)
	}
}

func TestEventRoundTrip(t *testing.T) {
	events := []Event{
		NewUserUttered("hi", Intent{Name: "greet", Confidence: 0.9},
			[]Entity{{Name: "cuisine", Value: "chinese", Start: 0, End: 2, Text: "hi"}}),
		NewActionExecuted("utter_greet", "policy_0_MemoizationPolicy", 1.0),
		BotUttered{Text: "hello"},
		SlotSet{Key: "cuisine", Value: "chinese"},
		FormActivated{Name: "restaurant_form"},
		FormDeactivated{},
		ActionRejected{ActionName: "restaurant_form"},
		Restarted{},
		WronglyPredictedAction{
			ActionExecuted:  ActionExecuted{ActionName: "a"},
			PredictedAction: "b",
		},
	}

	for _, original := range events {
		data, err := MarshalEvent(original)
		if err != nil {
			t.Fatalf("MarshalEvent(%T) error = %v", original, err)
		}
		restored, err := UnmarshalEvent(data)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%T) error = %v", original, err)
		}
		if restored.TypeName() != original.TypeName() {
			t.Errorf("round trip changed type: %q -> %q", original.TypeName(), restored.TypeName())
		}
	}
}

func TestUnmarshalUnknownEventType(t *testing.T) {
	if _, err := UnmarshalEvent([]byte(`{"type":"teleport","data":{}}`)); err == nil {
		t.Error("UnmarshalEvent() accepted an unknown event type")
	}
}
