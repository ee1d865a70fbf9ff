package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "feeds.observations", cfg.Feeds.SubjectPrefix)
	assert.Equal(t, "pipeline-workers", cfg.Feeds.QueueGroup)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 50.0, cfg.Correlation.RadiusKm)
	assert.Equal(t, 5*time.Minute, cfg.Correlation.Window)
	assert.Equal(t, uint64(2), cfg.Correlation.ActivationThreshold)
	assert.True(t, cfg.Correlation.DedupeObservations)
	assert.Equal(t, "exponential", cfg.Store.DecayShape)
	assert.Equal(t, 10000, cfg.Store.Capacity)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
correlation:
  radius_km: 25.0
  activation_threshold: 5
store:
  decay_shape: linear
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 25.0, cfg.Correlation.RadiusKm)
	assert.Equal(t, uint64(5), cfg.Correlation.ActivationThreshold)
	assert.Equal(t, "linear", cfg.Store.DecayShape)
	// Untouched values keep defaults.
	assert.Equal(t, 8, cfg.Pipeline.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"negative radius", func(c *Config) { c.Correlation.RadiusKm = -1 }},
		{"zero window", func(c *Config) { c.Correlation.Window = 0 }},
		{"zero half-life", func(c *Config) { c.Store.DecayHalfLife = 0 }},
		{"floor above one", func(c *Config) { c.Store.IntensityFloor = 1.5 }},
		{"zero shards", func(c *Config) { c.Store.Shards = 0 }},
		{"zero sweep interval", func(c *Config) { c.Store.SweepInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())

	// Unknown decay shapes pass validation; the policy layer falls back
	// to exponential.
	cfg := base()
	cfg.Store.DecayShape = "polynomial"
	assert.NoError(t, cfg.Validate())
}
