package domain

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"converse/internal/action"
)

const sampleDomain = `
intents:
  - greet
  - goodbye
  - inform:
      use_entities:
        - cuisine
      ignore_entities:
        - location
  - affirm:
      use_entities: false
  - request_human:
      triggers: action_handoff
entities:
  - cuisine
  - location
slots:
  cuisine:
    type: text
  people:
    type: float
    min_value: 1
    max_value: 10
responses:
  utter_greet:
    - text: "hey there"
    - text: "hello"
  utter_goodbye:
    - text: "bye"
actions:
  - action_handoff
forms:
  - restaurant_form
session_config:
  session_expiration_time: 60
  carry_over_slots_to_new_session: true
`

func TestFromYAML(t *testing.T) {
	d, err := FromYAML([]byte(sampleDomain), nil)
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}

	wantIntents := []string{"affirm", "goodbye", "greet", "inform", "request_human"}
	if got := d.Intents(); !equalStrings(got, wantIntents) {
		t.Errorf("Intents() = %v, want %v", got, wantIntents)
	}

	inform := d.IntentProperties("inform")
	if inform.UseAllEntities {
		t.Error("inform should use only its listed entities")
	}
	if !equalStrings(inform.UseEntities, []string{"cuisine"}) {
		t.Errorf("inform.UseEntities = %v", inform.UseEntities)
	}

	affirm := d.IntentProperties("affirm")
	if affirm.UseAllEntities || len(affirm.UseEntities) > 0 {
		t.Errorf("affirm should use no entities, got %+v", affirm)
	}

	// Intents without properties default to using every entity.
	greet := d.IntentProperties("greet")
	if !greet.UseAllEntities {
		t.Error("greet should default to all entities")
	}

	if got := d.IntentProperties("request_human").Triggers; got != "action_handoff" {
		t.Errorf("request_human trigger = %q", got)
	}

	// Forms contribute a requested_slot automatically.
	names := make([]string, 0, len(d.Slots()))
	for _, s := range d.Slots() {
		names = append(names, s.Name())
	}
	if !equalStrings(names, []string{"cuisine", "people", RequestedSlot}) {
		t.Errorf("slot names = %v", names)
	}

	if d.SessionConfig().ExpirationMinutes != 60 {
		t.Errorf("session expiration = %v", d.SessionConfig().ExpirationMinutes)
	}
}

func TestActionOrdering(t *testing.T) {
	d, err := FromYAML([]byte(sampleDomain), nil)
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}

	names := d.ActionNames()
	defaults := len(action.DefaultNames())
	if !equalStrings(names[:defaults], action.DefaultNames()) {
		t.Errorf("default actions must come first, got %v", names[:defaults])
	}
	// User actions (including template-derived utterances) follow, sorted,
	// with forms at the end.
	wantUser := []string{"action_handoff", "utter_goodbye", "utter_greet"}
	if !equalStrings(names[defaults:defaults+3], wantUser) {
		t.Errorf("user actions = %v, want %v", names[defaults:defaults+3], wantUser)
	}
	if names[len(names)-1] != "restaurant_form" {
		t.Errorf("last action = %q, want the form", names[len(names)-1])
	}

	for i, name := range names {
		idx, err := d.IndexForAction(name)
		if err != nil || idx != i {
			t.Errorf("IndexForAction(%q) = %d, %v, want %d", name, idx, err, i)
		}
		back, err := d.ActionForIndex(i)
		if err != nil || back != name {
			t.Errorf("ActionForIndex(%d) = %q, %v, want %q", i, back, err, name)
		}
	}

	if _, err := d.IndexForAction("action_unknown"); err == nil {
		t.Error("IndexForAction() accepted an unknown action")
	}
	if _, err := d.ActionForIndex(len(names)); err == nil {
		t.Error("ActionForIndex() accepted an out-of-range index")
	}
}

func TestUnknownTopLevelKeyRejected(t *testing.T) {
	_, err := FromYAML([]byte("intents:\n  - greet\nwalls: []\n"), nil)
	var invalid *InvalidDomainError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidDomainError", err)
	}
	if !strings.Contains(invalid.Message, "walls") {
		t.Errorf("error does not name the offending key: %v", invalid)
	}
}

func TestDuplicateIntentsRejected(t *testing.T) {
	_, err := FromYAML([]byte("intents:\n  - greet\n  - greet\n"), nil)
	var invalid *InvalidDomainError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidDomainError", err)
	}
	if !strings.Contains(invalid.Message, "greet") {
		t.Errorf("error does not name the duplicate intent: %v", invalid)
	}
}

func TestTriggerMustNameKnownAction(t *testing.T) {
	doc := "intents:\n  - help:\n      triggers: action_missing\n"
	_, err := FromYAML([]byte(doc), nil)
	var invalid *InvalidDomainError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidDomainError", err)
	}
	if !strings.Contains(invalid.Message, "action_missing") {
		t.Errorf("error does not name the missing action: %v", invalid)
	}
}

func TestDeprecatedTemplatesKey(t *testing.T) {
	doc := "templates:\n  utter_greet:\n    - text: hi\n"
	d, err := FromYAML([]byte(doc), nil)
	if err != nil {
		t.Fatalf("FromYAML() error = %v", err)
	}
	if len(d.TemplatesFor("utter_greet")) != 1 {
		t.Error("templates key was not honored as a responses alias")
	}
}

func TestResponseNeedsPayload(t *testing.T) {
	doc := "responses:\n  utter_greet:\n    - {}\n"
	if _, err := FromYAML([]byte(doc), nil); err == nil {
		t.Error("FromYAML() accepted a response variant without text or custom payload")
	}
}

func TestUnknownSlotType(t *testing.T) {
	doc := "slots:\n  cuisine:\n    type: warp\n"
	_, err := FromYAML([]byte(doc), nil)
	var invalid *InvalidDomainError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want InvalidDomainError", err)
	}
	if !strings.Contains(invalid.Message, "categorical") {
		t.Errorf("error does not list the valid slot types: %v", invalid)
	}
}

func TestCategoricalSlotNeedsValues(t *testing.T) {
	doc := "slots:\n  cuisine:\n    type: categorical\n"
	if _, err := FromYAML([]byte(doc), nil); err == nil {
		t.Error("FromYAML() accepted a categorical slot without values")
	}
}

func TestFromPathMergesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yml"), "intents:\n  - greet\nentities:\n  - cuisine\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "intents:\n  - goodbye\nactions:\n  - action_handoff\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a domain")

	d, err := FromPath(dir, nil)
	if err != nil {
		t.Fatalf("FromPath() error = %v", err)
	}
	if !equalStrings(d.Intents(), []string{"goodbye", "greet"}) {
		t.Errorf("merged intents = %v", d.Intents())
	}
	if !equalStrings(d.Entities(), []string{"cuisine"}) {
		t.Errorf("merged entities = %v", d.Entities())
	}
	if _, err := d.IndexForAction("action_handoff"); err != nil {
		t.Errorf("merged domain is missing action_handoff: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
