// Package domain models the universe a conversational assistant acts in:
// intents, entities, slots, response templates, actions and forms. A Domain
// is immutable once constructed; every derived schema field (most
// importantly the ordered state-name list that defines the numeric state
// vector) is computed eagerly at construction time.
package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"converse/internal/action"
	"converse/internal/tracker"

	"go.uber.org/zap"
)

// State-name prefixes. Together with the intent/entity/slot names they form
// the state schema, so they must never change for persisted models to stay
// loadable.
const (
	prevPrefix       = "prev_"
	activeFormPrefix = "active_form_"
	intentPrefix     = "intent_"
	entityPrefix     = "entity_"
	slotPrefix       = "slot_"
)

// specificationFile is the persisted state-schema document next to a model.
const specificationFile = "domain.json"

// IntentProperties configures how one intent is featurized and routed.
type IntentProperties struct {
	// UseAllEntities includes every recognized entity for this intent.
	// When false, only the entities listed in UseEntities are included.
	UseAllEntities bool
	UseEntities    []string
	IgnoreEntities []string
	// Triggers deterministically maps this intent to an action (consumed by
	// the mapping policy). Must name a known action.
	Triggers string
}

// Template is one variant of an utterance response. Exactly one of Text or
// Custom is set.
type Template struct {
	Text   string         `yaml:"text,omitempty" json:"text,omitempty"`
	Custom map[string]any `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// SessionConfig controls conversation session handling.
type SessionConfig struct {
	// ExpirationMinutes of inactivity after which a new session starts.
	// Zero disables sessions.
	ExpirationMinutes float64 `yaml:"session_expiration_time" json:"session_expiration_time"`
	CarryOverSlots    bool    `yaml:"carry_over_slots_to_new_session" json:"carry_over_slots_to_new_session"`
}

// DefaultSessionConfig returns the session behavior used when the domain
// file has no session_config block.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{ExpirationMinutes: 0, CarryOverSlots: true}
}

// Definition holds the normalized inputs a Domain is built from. It is also
// the merge currency: merging domains merges their definitions.
type Definition struct {
	Intents              map[string]IntentProperties
	Entities             []string
	Slots                []Slot
	Templates            map[string][]Template
	Actions              []string
	Forms                []string
	Session              SessionConfig
	SessionConfigured    bool
	StoreEntitiesAsSlots bool
}

// NewDefinition returns an empty definition with default config values.
func NewDefinition() Definition {
	return Definition{
		Intents:              map[string]IntentProperties{},
		Templates:            map[string][]Template{},
		Session:              DefaultSessionConfig(),
		StoreEntitiesAsSlots: true,
	}
}

// Domain is the immutable description of the assistant's universe plus the
// eagerly computed state-vector schema.
type Domain struct {
	def Definition

	intentNames []string
	slots       []Slot
	userActions []string
	actionNames []string
	actionIndex map[string]int

	inputStates   []string
	inputStateMap map[string]int

	log *zap.Logger
}

// New builds and validates a Domain. The logger only ever receives
// warnings; pass nil to discard them.
func New(def Definition, log *zap.Logger) (*Domain, error) {
	if log == nil {
		log = zap.NewNop()
	}

	d := &Domain{def: def, log: log}

	d.intentNames = sortedKeys(def.Intents)
	sort.Strings(d.def.Entities)
	sort.Strings(d.def.Forms)

	// requested_slot backs form slot-filling; it carries no features.
	d.slots = append([]Slot(nil), def.Slots...)
	if len(def.Forms) > 0 && !hasSlot(d.slots, RequestedSlot) {
		s, _ := NewSlot(RequestedSlot, SlotDefinition{Type: "unfeaturized"})
		d.slots = append(d.slots, s)
	}
	// Slot order is part of the state schema, keep it stable.
	sort.Slice(d.slots, func(i, j int) bool { return d.slots[i].Name() < d.slots[j].Name() })

	d.userActions = combineWithTemplates(def.Actions, def.Templates)
	d.actionNames = append(action.DefaultNames(), d.userActions...)
	d.actionNames = append(d.actionNames, d.def.Forms...)
	d.actionIndex = make(map[string]int, len(d.actionNames))
	for i, name := range d.actionNames {
		d.actionIndex[name] = i
	}

	if err := d.checkSanity(); err != nil {
		return nil, err
	}
	d.warnAmbiguousEntities()
	d.warnMissingTemplates()

	d.inputStates = d.buildInputStates()
	d.inputStateMap = make(map[string]int, len(d.inputStates))
	for i, s := range d.inputStates {
		d.inputStateMap[s] = i
	}

	return d, nil
}

// Empty returns a domain with no intents, entities, slots or user actions.
func Empty() *Domain {
	d, err := New(NewDefinition(), nil)
	if err != nil {
		panic(err) // empty definition is always valid
	}
	return d
}

func combineWithTemplates(actions []string, templates map[string][]Template) []string {
	seen := make(map[string]struct{}, len(actions))
	combined := append([]string(nil), actions...)
	for _, a := range actions {
		seen[a] = struct{}{}
	}
	for name := range templates {
		if _, ok := seen[name]; !ok && strings.HasPrefix(name, action.UtterPrefix) {
			combined = append(combined, name)
			seen[name] = struct{}{}
		}
	}
	sort.Strings(combined)
	return combined
}

func hasSlot(slots []Slot, name string) bool {
	for _, s := range slots {
		if s.Name() == name {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkSanity enforces the construction invariants: no duplicate action,
// slot or entity names and no intent trigger pointing at an unknown action.
func (d *Domain) checkSanity() error {
	var problems []string

	if dup := duplicates(d.actionNames); len(dup) > 0 {
		problems = append(problems, fmt.Sprintf("duplicate actions: %s", strings.Join(dup, ", ")))
	}
	slotNames := make([]string, len(d.slots))
	for i, s := range d.slots {
		slotNames[i] = s.Name()
	}
	if dup := duplicates(slotNames); len(dup) > 0 {
		problems = append(problems, fmt.Sprintf("duplicate slots: %s", strings.Join(dup, ", ")))
	}
	if dup := duplicates(d.def.Entities); len(dup) > 0 {
		problems = append(problems, fmt.Sprintf("duplicate entities: %s", strings.Join(dup, ", ")))
	}

	for _, name := range d.intentNames {
		props := d.def.Intents[name]
		if props.Triggers != "" {
			if _, ok := d.actionIndex[props.Triggers]; !ok {
				problems = append(problems, fmt.Sprintf(
					"intent %q is set to trigger action %q, which is not defined in the domain",
					name, props.Triggers))
			}
		}
	}

	for key, variants := range d.def.Templates {
		if len(variants) == 0 {
			problems = append(problems, fmt.Sprintf("response %q has no variants", key))
			continue
		}
		for i, v := range variants {
			if v.Text == "" && len(v.Custom) == 0 {
				problems = append(problems, fmt.Sprintf(
					"response %q variant %d needs a 'text' or 'custom' payload", key, i))
			}
		}
	}

	if len(problems) > 0 {
		return &InvalidDomainError{Message: strings.Join(problems, "; ")}
	}
	return nil
}

func duplicates(items []string) []string {
	counts := make(map[string]int, len(items))
	for _, it := range items {
		counts[it]++
	}
	var dup []string
	for it, n := range counts {
		if n > 1 {
			dup = append(dup, it)
		}
	}
	sort.Strings(dup)
	return dup
}

func (d *Domain) warnAmbiguousEntities() {
	for _, name := range d.intentNames {
		props := d.def.Intents[name]
		if props.UseAllEntities || len(props.UseEntities) == 0 {
			continue
		}
		ambiguous := intersect(props.UseEntities, props.IgnoreEntities)
		if len(ambiguous) > 0 {
			d.log.Warn("entities are both explicitly included and excluded for an intent, exclusion wins",
				zap.String("intent", name),
				zap.Strings("entities", ambiguous))
		}
	}
}

func (d *Domain) warnMissingTemplates() {
	for _, a := range d.actionNames {
		if !strings.HasPrefix(a, action.UtterPrefix) {
			continue
		}
		if _, ok := d.def.Templates[a]; !ok {
			d.log.Warn("utterance action has no matching response template",
				zap.String("action", a))
		}
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// buildInputStates concatenates the five state namespaces in their
// canonical order. This ordered list IS the state-vector schema.
func (d *Domain) buildInputStates() []string {
	states := make([]string, 0,
		len(d.intentNames)+len(d.def.Entities)+len(d.actionNames)+len(d.def.Forms))
	for _, i := range d.intentNames {
		states = append(states, intentPrefix+i)
	}
	for _, e := range d.def.Entities {
		states = append(states, entityPrefix+e)
	}
	for _, s := range d.slots {
		for i := 0; i < s.FeatureDimensionality(); i++ {
			states = append(states, fmt.Sprintf("%s%s_%d", slotPrefix, s.Name(), i))
		}
	}
	for _, a := range d.actionNames {
		states = append(states, prevPrefix+a)
	}
	for _, f := range d.def.Forms {
		states = append(states, activeFormPrefix+f)
	}
	return states
}

// Intents returns the sorted intent names.
func (d *Domain) Intents() []string { return d.intentNames }

// IntentProperties returns the configuration of one intent. The zero value
// (all entities included) is returned for unknown intents.
func (d *Domain) IntentProperties(name string) IntentProperties {
	if props, ok := d.def.Intents[name]; ok {
		return props
	}
	return IntentProperties{UseAllEntities: true}
}

// Entities returns the sorted entity type names.
func (d *Domain) Entities() []string { return d.def.Entities }

// Slots returns the slot definitions in schema order.
func (d *Domain) Slots() []Slot { return d.slots }

// InitialSlotValues returns the declared initial value of every slot that
// has one, keyed by slot name.
func (d *Domain) InitialSlotValues() map[string]any {
	values := make(map[string]any)
	for _, s := range d.slots {
		if s.InitialValue() != nil {
			values[s.Name()] = s.InitialValue()
		}
	}
	return values
}

// FormNames returns the sorted form names.
func (d *Domain) FormNames() []string { return d.def.Forms }

// UserActions returns the sorted user-defined action names, including
// utterance actions contributed by response templates.
func (d *Domain) UserActions() []string { return d.userActions }

// ActionNames returns the full ordered action list: default actions, then
// user actions, then forms. The order defines the action index space and is
// stable across train and serve.
func (d *Domain) ActionNames() []string { return d.actionNames }

// NumActions returns the size of the action index space.
func (d *Domain) NumActions() int { return len(d.actionNames) }

// IndexForAction resolves an action name to its index.
func (d *Domain) IndexForAction(name string) (int, error) {
	if i, ok := d.actionIndex[name]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("action %q is not registered in this domain (%d actions known)",
		name, len(d.actionNames))
}

// ActionForIndex resolves an index back to its action name.
func (d *Domain) ActionForIndex(i int) (string, error) {
	if i < 0 || i >= len(d.actionNames) {
		return "", fmt.Errorf("action index %d out of range, domain has %d actions",
			i, len(d.actionNames))
	}
	return d.actionNames[i], nil
}

// InputStates returns the ordered state-name list, i.e. the schema of the
// numeric state vector.
func (d *Domain) InputStates() []string { return d.inputStates }

// NumStates returns the state-vector width.
func (d *Domain) NumStates() int { return len(d.inputStates) }

// IndexOfState resolves a state name to its vector index.
func (d *Domain) IndexOfState(name string) (int, bool) {
	i, ok := d.inputStateMap[name]
	return i, ok
}

// SessionConfig returns the configured session behavior.
func (d *Domain) SessionConfig() SessionConfig { return d.def.Session }

// Templates returns the response templates keyed by utterance action name.
func (d *Domain) Templates() map[string][]Template { return d.def.Templates }

// TemplatesFor returns the variants of one utterance action.
func (d *Domain) TemplatesFor(utterAction string) []Template {
	return d.def.Templates[utterAction]
}

// SlotsForEntities maps recognized entities onto SlotSet events for every
// auto-fill slot sharing an entity's name. List slots collect all matching
// values, scalar slots take the last one.
func (d *Domain) SlotsForEntities(entities []tracker.Entity) []tracker.SlotSet {
	if !d.def.StoreEntitiesAsSlots {
		return nil
	}
	var events []tracker.SlotSet
	for _, s := range d.slots {
		if !s.AutoFill() {
			continue
		}
		var matching []any
		for _, e := range entities {
			if e.Name == s.Name() {
				matching = append(matching, e.Value)
			}
		}
		if len(matching) == 0 {
			continue
		}
		if s.TypeName() == "list" {
			events = append(events, tracker.SlotSet{Key: s.Name(), Value: matching})
		} else {
			events = append(events, tracker.SlotSet{Key: s.Name(), Value: matching[len(matching)-1]})
		}
	}
	return events
}

// PersistSpecification writes the ordered state-name list next to a trained
// model so a reloaded model can be checked for schema compatibility.
func (d *Domain) PersistSpecification(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	spec := map[string]any{"states": d.inputStates}
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode domain specification: %w", err)
	}
	path := filepath.Join(dir, specificationFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", specificationFile, err)
	}
	return nil
}

// LoadSpecification reads the persisted state-name list of a model.
func LoadSpecification(dir string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(dir, specificationFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", specificationFile, err)
	}
	var spec struct {
		States []string `json:"states"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", specificationFile, err)
	}
	return spec.States, nil
}

// CompareWithSpecification checks the live domain's state schema against a
// persisted model's. Any discrepancy is a hard retrain-required error
// naming exactly the added and removed states.
func (d *Domain) CompareWithSpecification(dir string) error {
	states, err := LoadSpecification(dir)
	if err != nil {
		return err
	}

	persisted := make(map[string]struct{}, len(states))
	for _, s := range states {
		persisted[s] = struct{}{}
	}
	live := make(map[string]struct{}, len(d.inputStates))
	for _, s := range d.inputStates {
		live[s] = struct{}{}
	}

	var removed, added []string
	for _, s := range states {
		if _, ok := live[s]; !ok {
			removed = append(removed, s)
		}
	}
	for _, s := range d.inputStates {
		if _, ok := persisted[s]; !ok {
			added = append(added, s)
		}
	}
	if len(removed) > 0 || len(added) > 0 {
		sort.Strings(removed)
		sort.Strings(added)
		return &SpecChangedError{Removed: removed, Added: added}
	}
	return nil
}
