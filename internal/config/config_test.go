package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.1, cfg.Learner.Alpha)
	assert.Equal(t, 100, cfg.Apportion.TotalSeats)
	assert.Equal(t, 0.2, cfg.Traversal.Epsilon)
	assert.Equal(t, 720*time.Hour, cfg.Links.DecayAfter)
	assert.Equal(t, time.Second, cfg.Engine.FlushInterval)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"WAYFINDER_DATA_DIR", "WAYFINDER_LOG_LEVEL", "WAYFINDER_METRICS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ParsesYAMLOverDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
learner:
  alpha: 0.2
  baseline_interval: 30s
traversal:
  epsilon: 0.05
quality:
  schemas:
    Runbook: [name, steps]
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.Learner.Alpha)
	assert.Equal(t, 30*time.Second, cfg.Learner.BaselineInterval)
	assert.Equal(t, 0.05, cfg.Traversal.Epsilon)
	assert.Equal(t, []string{"name", "steps"}, cfg.Quality.Schemas["Runbook"])
	assert.Equal(t, 3, cfg.Learner.MinCohort, "unset keys keep their defaults")
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("learner: ["), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("traversal:\n  epsilon: 1.5\napportion:\n  total_seats: 0\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traversal.epsilon")
	assert.Contains(t, err.Error(), "apportion.total_seats")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAYFINDER_DATA_DIR", "/var/lib/wayfinder")
	t.Setenv("WAYFINDER_LOG_LEVEL", "debug")
	t.Setenv("WAYFINDER_METRICS_ADDR", ":9464")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/var/lib/wayfinder", cfg.Store.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"alpha zero", func(c *Config) { c.Learner.Alpha = 0 }, "learner.alpha"},
		{"rates inverted", func(c *Config) { c.Learner.MinRate = 0.9; c.Learner.MaxRate = 0.5 }, "learner rates"},
		{"max activation", func(c *Config) { c.Traversal.MaxActivation = 0 }, "traversal.max_activation"},
		{"cost floor", func(c *Config) { c.Traversal.MinActivationCost = 0 }, "traversal.min_activation_cost"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"data dir", func(c *Config) { c.Store.DataDir = "" }, "store.data_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Store.DataDir = ""
	cfg.Store.Disabled = true
	assert.NoError(t, cfg.Validate(), "an in-memory store needs no data dir")
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Traversal.Seed = 42
	require.NoError(t, cfg.Save(path))

	clearEnv(t)
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
