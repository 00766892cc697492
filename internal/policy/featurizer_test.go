package policy

import "testing"

func TestFeaturizeStatesDeterministic(t *testing.T) {
	a := []map[string]float64{
		{"intent_greet": 1.0, "prev_action_listen": 1.0},
		{"prev_utter_greet": 1.0},
	}
	b := []map[string]float64{
		{"prev_action_listen": 1.0, "intent_greet": 1.0},
		{"prev_utter_greet": 1.0},
	}
	if FeaturizeStates(a) != FeaturizeStates(b) {
		t.Error("key depends on map insertion order")
	}
}

func TestFeaturizeStatesDistinguishes(t *testing.T) {
	base := []map[string]float64{{"intent_greet": 1.0}}
	cases := []struct {
		name  string
		other []map[string]float64
	}{
		{"different weight", []map[string]float64{{"intent_greet": 0.5}}},
		{"different state", []map[string]float64{{"intent_goodbye": 1.0}}},
		{"extra turn", []map[string]float64{{"intent_greet": 1.0}, {}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if FeaturizeStates(base) == FeaturizeStates(tc.other) {
				t.Error("distinct histories produced the same key")
			}
		})
	}
}

func TestLastN(t *testing.T) {
	states := []map[string]float64{{"a": 1}, {"b": 1}, {"c": 1}}
	if got := lastN(states, 2); len(got) != 2 || got[0]["b"] != 1 {
		t.Errorf("lastN(2) = %v", got)
	}
	if got := lastN(states, 0); len(got) != 3 {
		t.Errorf("lastN(0) must keep the full history, got %v", got)
	}
	if got := lastN(states, 10); len(got) != 3 {
		t.Errorf("lastN beyond the length must keep everything, got %v", got)
	}
}
