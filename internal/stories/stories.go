// Package stories reads conversation corpora from YAML and converts them
// into trackers for training and evaluation.
package stories

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"converse/internal/action"
	"converse/internal/domain"
	"converse/internal/tracker"

	"gopkg.in/yaml.v3"
)

// Story is one recorded conversation.
type Story struct {
	Name  string `yaml:"story"`
	Steps []Step `yaml:"steps"`
}

// Step is a single turn element. Exactly one of the fields is set.
type Step struct {
	// User is the intent the user expressed.
	User       string            `yaml:"user"`
	Text       string            `yaml:"text"`
	Confidence float64           `yaml:"confidence"`
	Entities   map[string]string `yaml:"entities"`

	// Action names a bot action or utterance.
	Action string `yaml:"action"`

	// Slot sets a slot directly.
	Slot  string `yaml:"slot"`
	Value any    `yaml:"value"`

	// Form activates ("restaurant_form") or deactivates ("") a form when
	// FormSet is true.
	Form    string `yaml:"form"`
	FormSet bool   `yaml:"-"`
}

// UnmarshalYAML keeps track of whether a form key was present at all, so
// `form: null` deactivates while an absent key means nothing.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	type plain Step
	if err := node.Decode((*plain)(s)); err != nil {
		return err
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "form" {
			s.FormSet = true
		}
	}
	return nil
}

type corpus struct {
	Stories []Story `yaml:"stories"`
}

// FromFile reads one corpus file.
func FromFile(path string) ([]Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stories: %w", err)
	}
	var c corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse stories %s: %w", path, err)
	}
	for i, st := range c.Stories {
		if err := validate(st); err != nil {
			return nil, fmt.Errorf("%s: story %d (%s): %w", path, i+1, st.Name, err)
		}
	}
	return c.Stories, nil
}

// FromPath reads a corpus file, or every .yml/.yaml file under a directory.
func FromPath(path string) ([]Story, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat stories path: %w", err)
	}
	if !info.IsDir() {
		return FromFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yml", ".yaml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var all []Story
	for _, f := range files {
		stories, err := FromFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, stories...)
	}
	return all, nil
}

func validate(st Story) error {
	if st.Name == "" {
		return fmt.Errorf("story has no name")
	}
	for i, step := range st.Steps {
		set := 0
		if step.User != "" {
			set++
		}
		if step.Action != "" {
			set++
		}
		if step.Slot != "" {
			set++
		}
		if step.FormSet {
			set++
		}
		if set != 1 {
			return fmt.Errorf("step %d must set exactly one of user, action, slot, form", i+1)
		}
	}
	return nil
}

// ToTracker replays one story into a tracker. Every user step is preceded
// by an implicit action_listen, mirroring how the processor records live
// conversations.
func ToTracker(st Story, d *domain.Domain) *tracker.Tracker {
	t := tracker.NewWithSlots(st.Name, d.InitialSlotValues())
	for _, step := range st.Steps {
		switch {
		case step.User != "":
			t.Update(tracker.NewActionExecuted(action.ListenName, "", 1.0))
			conf := step.Confidence
			if conf == 0 {
				conf = 1.0
			}
			entities := make([]tracker.Entity, 0, len(step.Entities))
			for _, name := range sortedKeys(step.Entities) {
				entities = append(entities, tracker.Entity{Name: name, Value: step.Entities[name]})
			}
			text := step.Text
			if text == "" {
				text = "/" + step.User
			}
			t.Update(tracker.NewUserUttered(text,
				tracker.Intent{Name: step.User, Confidence: conf}, entities))
			for _, ss := range d.SlotsForEntities(entities) {
				t.Update(ss)
			}
		case step.Action != "":
			t.Update(tracker.NewActionExecuted(step.Action, "", 1.0))
		case step.Slot != "":
			t.Update(tracker.SlotSet{Key: step.Slot, Value: step.Value})
		case step.FormSet:
			if step.Form == "" {
				t.Update(tracker.FormDeactivated{})
			} else {
				t.Update(tracker.FormActivated{Name: step.Form})
			}
		}
	}
	return t
}

// ToTrackers converts a whole corpus.
func ToTrackers(stories []Story, d *domain.Domain) []*tracker.Tracker {
	trackers := make([]*tracker.Tracker, 0, len(stories))
	for _, st := range stories {
		trackers = append(trackers, ToTracker(st, d))
	}
	return trackers
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
