package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5656, cfg.Port)
	assert.Equal(t, 4, cfg.Shards)
	assert.Equal(t, 64, cfg.QueueCapacity)
	assert.Equal(t, 128, cfg.MaxClients)
	assert.Equal(t, 64, cfg.TimelineMax)
	assert.False(t, cfg.RandomDelay)
	assert.Equal(t, 5*time.Millisecond, cfg.RandomDelayMax)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BABBLE_PORT", "7777")
	t.Setenv("BABBLE_SHARDS", "8")
	t.Setenv("BABBLE_RANDOM_DELAY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, 8, cfg.Shards)
	assert.True(t, cfg.RandomDelay)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero shards", func(c *Config) { c.Shards = 0 }},
		{"zero queue capacity", func(c *Config) { c.QueueCapacity = 0 }},
		{"zero max clients", func(c *Config) { c.MaxClients = 0 }},
		{"rate without burst", func(c *Config) { c.AcceptRate = 10 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
