package evaluate

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSerializePadsEveryCombination(t *testing.T) {
	cases := []struct {
		name            string
		store           *Store
		wantTargets     []string
		wantPredictions []string
	}{
		{
			name:            "both empty",
			store:           &Store{},
			wantTargets:     nil,
			wantPredictions: nil,
		},
		{
			name:            "targets only",
			store:           &Store{ActionTargets: []string{"utter_greet", "action_listen"}},
			wantTargets:     []string{"utter_greet", "action_listen"},
			wantPredictions: []string{"None", "None"},
		},
		{
			name:            "predictions only",
			store:           &Store{ActionPredictions: []string{"utter_greet"}},
			wantTargets:     []string{"None"},
			wantPredictions: []string{"utter_greet"},
		},
		{
			name: "unequal lengths",
			store: &Store{
				ActionTargets:     []string{"a", "b", "c"},
				ActionPredictions: []string{"a"},
			},
			wantTargets:     []string{"a", "b", "c"},
			wantPredictions: []string{"a", "None", "None"},
		},
		{
			name: "all sections flattened in order",
			store: &Store{
				ActionTargets:     []string{"act"},
				ActionPredictions: []string{"act"},
				IntentTargets:     []string{"greet"},
				IntentPredictions: []string{"greet"},
				EntityTargets:     []string{"[rome](city)"},
				EntityPredictions: []string{"[rome](city)"},
			},
			wantTargets:     []string{"act", "greet", "[rome](city)"},
			wantPredictions: []string{"act", "greet", "[rome](city)"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			targets, predictions := tc.store.Serialize()
			if diff := cmp.Diff(tc.wantTargets, targets); diff != "" {
				t.Errorf("targets mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantPredictions, predictions); diff != "" {
				t.Errorf("predictions mismatch (-want +got):\n%s", diff)
			}
			if len(targets) != len(predictions) {
				t.Errorf("Serialize() lengths differ: %d vs %d", len(targets), len(predictions))
			}
		})
	}
}

func TestHasMismatch(t *testing.T) {
	ok := &Store{
		ActionTargets:     []string{"utter_greet"},
		ActionPredictions: []string{"utter_greet"},
	}
	if ok.HasMismatch() {
		t.Error("HasMismatch() = true for matching store")
	}

	wrongIntent := &Store{
		IntentTargets:     []string{"greet"},
		IntentPredictions: []string{"goodbye"},
	}
	if !wrongIntent.HasMismatch() {
		t.Error("HasMismatch() = false for an intent mismatch")
	}

	missing := &Store{ActionTargets: []string{"utter_greet"}}
	if !missing.HasMismatch() {
		t.Error("HasMismatch() = false for a missing prediction")
	}
}

func TestMerge(t *testing.T) {
	a := &Store{ActionTargets: []string{"x"}, ActionPredictions: []string{"x"}}
	b := &Store{
		ActionTargets:     []string{"y"},
		ActionPredictions: []string{"z"},
		IntentTargets:     []string{"greet"},
		IntentPredictions: []string{"greet"},
	}
	a.Merge(b)

	if diff := cmp.Diff([]string{"x", "y"}, a.ActionTargets); diff != "" {
		t.Errorf("ActionTargets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "z"}, a.ActionPredictions); diff != "" {
		t.Errorf("ActionPredictions (-want +got):\n%s", diff)
	}
	if !a.HasMismatch() {
		t.Error("merged store lost the mismatch")
	}
}

func TestMetrics(t *testing.T) {
	targets := []string{"a", "a", "a", "b", "b"}
	predictions := []string{"a", "a", "b", "b", "b"}

	report, precision, f1, accuracy := Metrics(targets, predictions)

	if accuracy != 0.8 {
		t.Errorf("accuracy = %v, want 0.8", accuracy)
	}
	if got := report["a"]; got.Support != 3 || got.Precision != 1.0 {
		t.Errorf("report[a] = %+v", got)
	}
	// b: tp=2, fp=1 -> precision 2/3, recall 1.
	if got := report["b"]; got.Support != 2 || got.Recall != 1.0 {
		t.Errorf("report[b] = %+v", got)
	}
	// Weighted precision = (1.0*3 + 2/3*2) / 5.
	wantPrecision := (1.0*3 + 2.0/3.0*2) / 5
	if diff := precision - wantPrecision; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("weighted precision = %v, want %v", precision, wantPrecision)
	}
	if f1 <= 0 || f1 > 1 {
		t.Errorf("weighted f1 = %v out of range", f1)
	}
}

func TestMetricsEmpty(t *testing.T) {
	report, precision, f1, accuracy := Metrics(nil, nil)
	if len(report) != 0 || precision != 0 || f1 != 0 || accuracy != 0 {
		t.Errorf("Metrics(nil) = %v, %v, %v, %v", report, precision, f1, accuracy)
	}
}
