// Package config loads the runtime configuration: which policies make up
// the ensemble, their knobs, and the serving-side settings.
package config

import (
	"bytes"
	"fmt"
	"os"

	"converse/internal/policy"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds all converse configuration.
type Config struct {
	// Policies lists the ensemble members in arbitration order.
	Policies []PolicyConfig `yaml:"policies"`

	// Serving settings.
	Serving ServingConfig `yaml:"serving"`
}

// PolicyConfig configures a single ensemble member. Name must be one of
// the registry names; the remaining fields apply only to the variants
// that understand them.
type PolicyConfig struct {
	Name string `yaml:"name"`

	Priority   *int `yaml:"priority"`
	MaxHistory int  `yaml:"max_history"`

	// Fallback policy knobs.
	NLUThreshold   float64 `yaml:"nlu_threshold"`
	CoreThreshold  float64 `yaml:"core_threshold"`
	FallbackAction string  `yaml:"fallback_action_name"`
}

// ServingConfig configures the message processor and tracker store.
type ServingConfig struct {
	// MaxPredictionLoops bounds the actions executed per incoming message
	// before the processor gives up on a runaway dialogue.
	MaxPredictionLoops int `yaml:"max_prediction_loops"`

	// TrackerStore selects the persistence backend: "memory" or "sqlite".
	TrackerStore string `yaml:"tracker_store"`

	// DatabasePath is the SQLite file used when TrackerStore is "sqlite".
	DatabasePath string `yaml:"database_path"`

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// InvalidPolicyConfigError reports a configuration that cannot produce a
// working ensemble.
type InvalidPolicyConfigError struct {
	Message string
}

func (e *InvalidPolicyConfigError) Error() string {
	return "invalid policy configuration: " + e.Message
}

// DefaultConfig returns the stock configuration: the memoization, mapping,
// fallback and form policies with their default knobs, in-memory trackers.
func DefaultConfig() *Config {
	return &Config{
		Policies: []PolicyConfig{
			{Name: "MemoizationPolicy", MaxHistory: policy.DefaultMaxHistory},
			{Name: "MappingPolicy"},
			{Name: "FallbackPolicy"},
			{Name: "FormPolicy"},
		},
		Serving: ServingConfig{
			MaxPredictionLoops: 10,
			TrackerStore:       "memory",
		},
	}
}

// Load reads a YAML configuration file. Missing serving fields fall back
// to the defaults; the policy list is taken verbatim.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Policies = nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration without building anything.
func (c *Config) Validate() error {
	if len(c.Policies) == 0 {
		return &InvalidPolicyConfigError{Message: "policy list is empty, configure at least one policy"}
	}
	for _, pc := range c.Policies {
		if pc.Name == "" {
			return &InvalidPolicyConfigError{Message: "policy entry is missing a name"}
		}
	}
	if c.Serving.MaxPredictionLoops <= 0 {
		return &InvalidPolicyConfigError{Message: "max_prediction_loops must be positive"}
	}
	switch c.Serving.TrackerStore {
	case "", "memory", "sqlite":
	default:
		return &InvalidPolicyConfigError{
			Message: fmt.Sprintf("unknown tracker_store %q, valid stores: memory, sqlite", c.Serving.TrackerStore),
		}
	}
	return nil
}

// BuildEnsemble resolves every configured policy through the registry and
// assembles them in configuration order.
func (c *Config) BuildEnsemble(log *zap.Logger) (*policy.Ensemble, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	policies := make([]policy.Policy, 0, len(c.Policies))
	for _, pc := range c.Policies {
		p, err := policy.New(pc.Name, policy.Options{
			Priority:       pc.Priority,
			MaxHistory:     pc.MaxHistory,
			NLUThreshold:   pc.NLUThreshold,
			CoreThreshold:  pc.CoreThreshold,
			FallbackAction: pc.FallbackAction,
			Logger:         log,
		})
		if err != nil {
			return nil, &InvalidPolicyConfigError{Message: err.Error()}
		}
		policies = append(policies, p)
	}
	return policy.NewEnsemble(policies, log), nil
}
