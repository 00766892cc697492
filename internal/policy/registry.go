package policy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Options carries the per-policy configuration knobs. Unset fields take the
// variant's defaults.
type Options struct {
	// Priority overrides the variant's default priority when non-nil.
	Priority   *int
	MaxHistory int
	// Fallback policy knobs.
	NLUThreshold   float64
	CoreThreshold  float64
	FallbackAction string

	Logger *zap.Logger
}

func (o Options) priorityOr(def int) int {
	if o.Priority != nil {
		return *o.Priority
	}
	return def
}

type registryEntry struct {
	build func(Options) Policy
	load  func(dir string, log *zap.Logger) (Policy, error)
}

// registry is the closed mapping from configuration name to constructor.
// Policies are resolved through it both at ensemble-build time and at model
// load time; there is no dynamic class loading.
var registry = map[string]registryEntry{
	"MemoizationPolicy": {
		build: func(o Options) Policy {
			return NewMemoizationPolicy(o.priorityOr(MemoizationPriority), o.MaxHistory, o.Logger)
		},
		load: func(dir string, log *zap.Logger) (Policy, error) {
			return loadMemoizationPolicy(dir, log)
		},
	},
	"AugmentedMemoizationPolicy": {
		build: func(o Options) Policy {
			return NewAugmentedMemoizationPolicy(o.priorityOr(MemoizationPriority), o.MaxHistory, o.Logger)
		},
		load: func(dir string, log *zap.Logger) (Policy, error) {
			return loadAugmentedMemoizationPolicy(dir, log)
		},
	},
	"MappingPolicy": {
		build: func(o Options) Policy {
			return NewMappingPolicy(o.priorityOr(MappingPriority), o.Logger)
		},
		load: func(dir string, log *zap.Logger) (Policy, error) {
			return loadMappingPolicy(dir, log)
		},
	},
	"FallbackPolicy": {
		build: func(o Options) Policy {
			return NewFallbackPolicy(o.priorityOr(FallbackPriority),
				o.NLUThreshold, o.CoreThreshold, o.FallbackAction, o.Logger)
		},
		load: func(dir string, log *zap.Logger) (Policy, error) {
			return loadFallbackPolicy(dir, log)
		},
	},
	"FormPolicy": {
		build: func(o Options) Policy {
			return NewFormPolicy(o.priorityOr(FormPriority), o.Logger)
		},
		load: func(dir string, log *zap.Logger) (Policy, error) {
			return loadFormPolicy(dir, log)
		},
	},
}

// ValidNames returns the sorted registry names, for error messages.
func ValidNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs a policy by its registry name. Unknown names fail fast
// with the list of valid names.
func New(name string, opts Options) (Policy, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q, valid policies: %s",
			name, strings.Join(ValidNames(), ", "))
	}
	return entry.build(opts), nil
}

// Load restores a persisted policy by its registry name and verifies the
// restored object really is that policy.
func Load(name, dir string, log *zap.Logger) (Policy, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q in model metadata, valid policies: %s",
			name, strings.Join(ValidNames(), ", "))
	}
	p, err := entry.load(dir, log)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", name, err)
	}
	if p == nil {
		return nil, &MalformedPolicyError{PolicyName: name, Reason: "load returned nil"}
	}
	if p.Name() != name {
		return nil, &MalformedPolicyError{PolicyName: name, Reason: fmt.Sprintf(
			"load returned an instance of %s instead", p.Name())}
	}
	return p, nil
}
