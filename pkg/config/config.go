// Package config provides optional file-based configuration for the service
// binaries. Flags and environment variables always win; the file fills in
// tuning knobs that rarely change per deployment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig tunes the periodic sweep.
type SchedulerConfig struct {
	Cadence     string `yaml:"cadence"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
}

// Config is the structure of the nurtura.yaml file.
type Config struct {
	DatabaseURL string          `yaml:"database_url"`
	EventBus    string          `yaml:"event_bus"`
	RedisURL    string          `yaml:"redis_url"`
	CRMAPIURL   string          `yaml:"crm_api_url"`
	CRMAPIKey   string          `yaml:"crm_api_key"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads the file when it exists and returns zero values
// otherwise, so every field falls through to flag defaults.
func LoadOrDefault(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		return Config{}
	}

	return cfg
}

// Validate rejects values the binaries would choke on at startup.
func Validate(cfg Config) error {
	if cfg.EventBus != "" && cfg.EventBus != "kafka" && cfg.EventBus != "gochannel" {
		return fmt.Errorf("event_bus must be kafka or gochannel, got %q", cfg.EventBus)
	}

	if cfg.Scheduler.BatchSize < 0 {
		return fmt.Errorf("scheduler.batch_size must not be negative, got %d", cfg.Scheduler.BatchSize)
	}

	if cfg.Scheduler.Concurrency < 0 {
		return fmt.Errorf("scheduler.concurrency must not be negative, got %d", cfg.Scheduler.Concurrency)
	}

	return nil
}
