package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"converse/internal/policy"
)

func TestDefaultConfigBuildsEnsemble(t *testing.T) {
	cfg := DefaultConfig()
	ensemble, err := cfg.BuildEnsemble(zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, ensemble.Policies(), 4)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
policies:
  - name: AugmentedMemoizationPolicy
    max_history: 3
  - name: FallbackPolicy
    nlu_threshold: 0.5
    priority: 9
serving:
  max_prediction_loops: 20
  tracker_store: sqlite
  database_path: trackers.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Policies, 2)
	assert.Equal(t, "AugmentedMemoizationPolicy", cfg.Policies[0].Name)
	assert.Equal(t, 3, cfg.Policies[0].MaxHistory)
	require.NotNil(t, cfg.Policies[1].Priority)
	assert.Equal(t, 9, *cfg.Policies[1].Priority)
	assert.Equal(t, 20, cfg.Serving.MaxPredictionLoops)
	assert.Equal(t, "sqlite", cfg.Serving.TrackerStore)

	ensemble, err := cfg.BuildEnsemble(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 9, ensemble.Policies()[1].Priority(), "priority override not applied")
}

func TestLoadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := "policies:\n  - name: MappingPolicy\nrandom_key: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	_, err := Load(path)
	assert.Error(t, err, "unknown top-level keys must be rejected")
}

func TestEmptyPolicyListRejected(t *testing.T) {
	cfg := &Config{Serving: DefaultConfig().Serving}
	_, err := cfg.BuildEnsemble(zap.NewNop())
	var invalid *InvalidPolicyConfigError
	require.ErrorAs(t, err, &invalid)
}

func TestUnknownPolicyNameRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = append(cfg.Policies, PolicyConfig{Name: "KerasPolicy"})
	_, err := cfg.BuildEnsemble(zap.NewNop())
	var invalid *InvalidPolicyConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Error(), "KerasPolicy")
}

func TestUnknownTrackerStoreRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Serving.TrackerStore = "redis"
	assert.Error(t, cfg.Validate())
}

func TestBuildPreservesOrder(t *testing.T) {
	cfg := &Config{
		Policies: []PolicyConfig{
			{Name: "FormPolicy"},
			{Name: "MemoizationPolicy"},
		},
		Serving: DefaultConfig().Serving,
	}
	ensemble, err := cfg.BuildEnsemble(zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &policy.FormPolicy{}, ensemble.Policies()[0],
		"configuration order must be preserved")
}
