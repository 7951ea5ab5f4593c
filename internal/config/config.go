// Package config loads server configuration from the environment, with an
// optional .env file and CLI flag overrides for the knobs the original
// command line exposes.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings.
type Config struct {
	Port          int `env:"BABBLE_PORT" envDefault:"5656"`
	Shards        int `env:"BABBLE_SHARDS" envDefault:"4"`
	QueueCapacity int `env:"BABBLE_QUEUE_CAPACITY" envDefault:"64"`
	MaxClients    int `env:"BABBLE_MAX_CLIENTS" envDefault:"128"`
	TimelineMax   int `env:"BABBLE_TIMELINE_MAX" envDefault:"64"`

	// RandomDelay injects random executor delays for stress testing; the
	// -r flag switches it on.
	RandomDelay    bool          `env:"BABBLE_RANDOM_DELAY" envDefault:"false"`
	RandomDelayMax time.Duration `env:"BABBLE_RANDOM_DELAY_MAX" envDefault:"5ms"`

	// MetricsAddr enables the /metrics and /health HTTP endpoint when set,
	// e.g. ":9095".
	MetricsAddr     string        `env:"BABBLE_METRICS_ADDR"`
	MonitorInterval time.Duration `env:"BABBLE_MONITOR_INTERVAL" envDefault:"15s"`

	// AcceptRate/AcceptBurst bound the rate of accepted connections.
	// Zero disables the limiter.
	AcceptRate  float64 `env:"BABBLE_ACCEPT_RATE" envDefault:"0"`
	AcceptBurst int     `env:"BABBLE_ACCEPT_BURST" envDefault:"0"`

	LogLevel  string `env:"BABBLE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"BABBLE_LOG_FORMAT" envDefault:"json"`
}

// Load reads the optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Shards < 1 {
		return fmt.Errorf("shards must be >= 1, got %d", c.Shards)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue capacity must be >= 1, got %d", c.QueueCapacity)
	}
	if c.MaxClients < 1 {
		return fmt.Errorf("max clients must be >= 1, got %d", c.MaxClients)
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return fmt.Errorf("accept burst must be >= 1 when accept rate is set")
	}
	return nil
}
