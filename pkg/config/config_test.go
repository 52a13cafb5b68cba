package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nurtura.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
database_url: postgres://localhost/nurtura
event_bus: kafka
scheduler:
  cadence: "@every 10s"
  batch_size: 50
  concurrency: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/nurtura", cfg.DatabaseURL)
	assert.Equal(t, "kafka", cfg.EventBus)
	assert.Equal(t, "@every 10s", cfg.Scheduler.Cadence)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
}

func TestLoad_RejectsUnknownEventBus(t *testing.T) {
	path := writeConfig(t, "event_bus: rabbitmq\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "event_bus")
}

func TestLoad_RejectsNegativeConcurrency(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  concurrency: -1\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "concurrency")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, Config{}, cfg)
}
