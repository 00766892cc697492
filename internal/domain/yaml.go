package domain

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// allowedTopLevelKeys is the fixed schema of a domain file. Anything else
// is a validation error, not a silent skip.
var allowedTopLevelKeys = map[string]struct{}{
	"intents":        {},
	"entities":       {},
	"slots":          {},
	"responses":      {},
	"templates":      {}, // deprecated alias of responses
	"actions":        {},
	"forms":          {},
	"config":         {},
	"session_config": {},
}

type rawDomain struct {
	Intents   []yaml.Node               `yaml:"intents"`
	Entities  []string                  `yaml:"entities"`
	Slots     map[string]SlotDefinition `yaml:"slots"`
	Responses map[string][]Template     `yaml:"responses"`
	Templates map[string][]Template     `yaml:"templates"`
	Actions   []string                  `yaml:"actions"`
	Forms     []string                  `yaml:"forms"`
	Config    struct {
		StoreEntitiesAsSlots *bool `yaml:"store_entities_as_slots"`
	} `yaml:"config"`
	SessionConfig *struct {
		ExpirationMinutes float64 `yaml:"session_expiration_time"`
		CarryOverSlots    *bool   `yaml:"carry_over_slots_to_new_session"`
	} `yaml:"session_config"`
}

type rawIntentProperties struct {
	UseEntities    yaml.Node `yaml:"use_entities"`
	IgnoreEntities []string  `yaml:"ignore_entities"`
	Triggers       string    `yaml:"triggers"`
}

// FromYAML parses, validates and constructs a domain from one YAML
// document. Validation failures surface as InvalidDomainError with the
// schema violation attached.
func FromYAML(data []byte, log *zap.Logger) (*Domain, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var raw rawDomain
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, &InvalidDomainError{Message: fmt.Sprintf("schema violation: %v", err)}
	}

	def := NewDefinition()
	def.Entities = raw.Entities
	def.Actions = raw.Actions
	def.Forms = raw.Forms

	var err error
	def.Intents, err = collectIntents(raw.Intents)
	if err != nil {
		return nil, err
	}

	def.Templates = raw.Responses
	if raw.Templates != nil {
		log.Warn("domain key 'templates' is deprecated, rename it to 'responses'")
		if def.Templates == nil {
			def.Templates = raw.Templates
		}
	}
	if def.Templates == nil {
		def.Templates = map[string][]Template{}
	}

	// Sorting here keeps the slot part of the state schema independent of
	// map iteration order.
	for _, name := range sortedKeys(raw.Slots) {
		slot, err := NewSlot(name, raw.Slots[name])
		if err != nil {
			return nil, err
		}
		def.Slots = append(def.Slots, slot)
	}

	if raw.Config.StoreEntitiesAsSlots != nil {
		def.StoreEntitiesAsSlots = *raw.Config.StoreEntitiesAsSlots
	}

	if raw.SessionConfig != nil {
		def.SessionConfigured = true
		def.Session.ExpirationMinutes = raw.SessionConfig.ExpirationMinutes
		if raw.SessionConfig.CarryOverSlots != nil {
			def.Session.CarryOverSlots = *raw.SessionConfig.CarryOverSlots
		}
	} else {
		log.Warn("no session_config in domain, sessions are disabled")
	}

	return New(def, log)
}

// validateSchema checks the document shape before any decoding: a mapping
// at the top level, every key known.
func validateSchema(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &InvalidDomainError{Message: fmt.Sprintf("not valid YAML: %v", err)}
	}
	if len(doc.Content) == 0 {
		return &InvalidDomainError{Message: "domain file is empty"}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return &InvalidDomainError{Message: "domain file must be a mapping at the top level"}
	}
	for i := 0; i < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if _, ok := allowedTopLevelKeys[key]; !ok {
			valid := make([]string, 0, len(allowedTopLevelKeys))
			for k := range allowedTopLevelKeys {
				valid = append(valid, k)
			}
			sort.Strings(valid)
			return &InvalidDomainError{Message: fmt.Sprintf(
				"schema violation: unknown top-level key %q (line %d), valid keys: %s",
				key, root.Content[i].Line, strings.Join(valid, ", "))}
		}
	}
	return nil
}

// collectIntents normalizes the intents list, whose items are either a bare
// name or a single-key mapping from name to properties.
func collectIntents(items []yaml.Node) (map[string]IntentProperties, error) {
	intents := make(map[string]IntentProperties, len(items))

	add := func(name string, props IntentProperties) error {
		if _, exists := intents[name]; exists {
			return &InvalidDomainError{Message: fmt.Sprintf(
				"intents are not unique, found two intents named %q", name)}
		}
		intents[name] = props
		return nil
	}

	for _, item := range items {
		switch item.Kind {
		case yaml.ScalarNode:
			if err := add(item.Value, IntentProperties{UseAllEntities: true}); err != nil {
				return nil, err
			}
		case yaml.MappingNode:
			if len(item.Content) != 2 {
				return nil, &InvalidDomainError{Message: fmt.Sprintf(
					"intent entry at line %d must map exactly one name to its properties", item.Line)}
			}
			name := item.Content[0].Value
			var raw rawIntentProperties
			if err := item.Content[1].Decode(&raw); err != nil {
				return nil, &InvalidDomainError{Message: fmt.Sprintf(
					"invalid properties for intent %q: %v", name, err)}
			}
			props, err := normalizeIntentProperties(name, raw)
			if err != nil {
				return nil, err
			}
			if err := add(name, props); err != nil {
				return nil, err
			}
		default:
			return nil, &InvalidDomainError{Message: fmt.Sprintf(
				"intent entry at line %d must be a name or a name-to-properties mapping", item.Line)}
		}
	}
	return intents, nil
}

// normalizeIntentProperties resolves use_entities, which is either a bool
// or an explicit entity list.
func normalizeIntentProperties(name string, raw rawIntentProperties) (IntentProperties, error) {
	props := IntentProperties{
		IgnoreEntities: raw.IgnoreEntities,
		Triggers:       raw.Triggers,
	}

	switch raw.UseEntities.Kind {
	case 0: // absent: all entities
		props.UseAllEntities = true
	case yaml.ScalarNode:
		var b bool
		if raw.UseEntities.Tag == "!!null" {
			break // explicit null: no entities
		}
		if err := raw.UseEntities.Decode(&b); err != nil {
			return props, &InvalidDomainError{Message: fmt.Sprintf(
				"intent %q: use_entities must be a bool or a list", name)}
		}
		props.UseAllEntities = b
	case yaml.SequenceNode:
		if err := raw.UseEntities.Decode(&props.UseEntities); err != nil {
			return props, &InvalidDomainError{Message: fmt.Sprintf(
				"intent %q: use_entities list is invalid: %v", name, err)}
		}
	default:
		return props, &InvalidDomainError{Message: fmt.Sprintf(
			"intent %q: use_entities must be a bool or a list", name)}
	}
	return props, nil
}

// FromFile loads one domain file.
func FromFile(path string, log *zap.Logger) (*Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidDomainError{Message: fmt.Sprintf(
			"failed to load domain from %q: %v", path, err)}
	}
	return FromYAML(data, log)
}

// FromPath loads a domain from a file, or from every .yml/.yaml file under
// a directory tree merged together.
func FromPath(path string, log *zap.Logger) (*Domain, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &InvalidDomainError{Message: fmt.Sprintf(
			"failed to load domain from %q: %v", path, err)}
	}
	if !info.IsDir() {
		return FromFile(path, log)
	}

	merged := Empty()
	err = filepath.WalkDir(path, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		other, err := FromFile(p, log)
		if err != nil {
			return err
		}
		merged, err = merged.Merge(other, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Load merges one or more domain paths into a single domain.
func Load(paths []string, log *zap.Logger) (*Domain, error) {
	if len(paths) == 0 {
		return nil, &InvalidDomainError{Message: "no domain file was specified"}
	}
	merged := Empty()
	for _, path := range paths {
		other, err := FromPath(path, log)
		if err != nil {
			return nil, err
		}
		var mergeErr error
		merged, mergeErr = merged.Merge(other, false)
		if mergeErr != nil {
			return nil, mergeErr
		}
	}
	return merged, nil
}
