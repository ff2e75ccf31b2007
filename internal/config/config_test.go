package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aescanero/dago-stream-watcher/internal/check"
	"github.com/aescanero/dago-stream-watcher/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stream-watcher-1", cfg.InstanceID)
	assert.Equal(t, 10, cfg.CheckCycleSeconds)
	assert.Equal(t, 10*time.Second, cfg.CheckCycle())
	assert.Equal(t, 10, cfg.ImageCallbackInterval)
	assert.Equal(t, 10, cfg.CheckCallbackInterval)
	assert.Equal(t, 10, cfg.CallbackPoolSize)
	assert.Equal(t, 100, cfg.CallbackQueueSize)
	assert.False(t, cfg.CheckEnabled)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.MQTTEnabled())
	assert.Equal(t, 8083, cfg.HealthPort)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHECK_CYCLE_SECONDS", "3")
	t.Setenv("CHECK_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASS", "secret")
	t.Setenv("CHILD_START_TIMEOUT", "2s")
	t.Setenv("SOURCE_OPEN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.CheckCycle())
	assert.True(t, cfg.CheckEnabled)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 2*time.Second, cfg.ChildStartTimeout)
	assert.Equal(t, 3*time.Second, cfg.SourceOpenTimeout)
	assert.NotContains(t, cfg.String(), "secret")
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"CHECK_CYCLE_SECONDS":     "0",
		"IMAGE_CALLBACK_INTERVAL": "-1",
		"CALLBACK_POOL_SIZE":      "0",
		"HEALTH_PORT":             "70000",
		"LOG_LEVEL":               "verbose",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

const workersYAML = `
vars:
  cam_host: 10.0.0.5
workers:
  - name: gate
    source: "rtsp://{{env.CAM_USER}}:{{env.CAM_PASS}}@{{vars.cam_host}}/stream1?a=1&b=2"
    mode: process
    image_callback: snapshot
    check_callback: hamming
    image_callback_interval: 5
    on_check_fail: restart
    check_enabled: true
    options:
      dir: "/var/lib/stream-watcher/{{name}}"
      threshold: "0.01"
  - name: lobby
    source: test://pattern?frames=10
`

func TestParseWorkers(t *testing.T) {
	defs, err := ParseWorkers([]byte(workersYAML), defaultConfig(t), map[string]string{
		"CAM_USER": "viewer",
		"CAM_PASS": "pw",
	})
	require.NoError(t, err)
	require.Len(t, defs, 2)

	gate := defs[0]
	assert.Equal(t, "gate", gate.Name)
	assert.Equal(t, "rtsp://viewer:pw@10.0.0.5/stream1?a=1&b=2", gate.Config.Descriptor)
	assert.Equal(t, worker.ModeProcess, gate.Config.Mode)
	assert.Equal(t, 5, gate.Config.ImageInterval)
	assert.Equal(t, 10, gate.Config.CheckInterval)
	assert.True(t, gate.Config.CheckEnabled)
	assert.Equal(t, check.PolicyRestart, gate.Config.OnCheckFail)
	assert.Equal(t, "/var/lib/stream-watcher/gate", gate.Config.Options["dir"])

	lobby := defs[1]
	assert.Equal(t, "test://pattern?frames=10", lobby.Config.Descriptor)
	assert.Equal(t, worker.ModeThread, lobby.Config.Mode)
	assert.False(t, lobby.Config.CheckEnabled)
	assert.Equal(t, check.PolicyWarn, lobby.Config.OnCheckFail)
}

func TestParseWorkersErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "workers:\n  - source: test://pattern\n"},
		{"missing source", "workers:\n  - name: a\n"},
		{"duplicate", "workers:\n  - name: a\n    source: x\n  - name: a\n    source: y\n"},
		{"bad mode", "workers:\n  - name: a\n    source: x\n    mode: fiber\n"},
		{"bad policy", "workers:\n  - name: a\n    source: x\n    on_check_fail: explode\n"},
		{"bad template", "workers:\n  - name: a\n    source: \"{{#if}}\"\n"},
		{"bad yaml", "workers: [\n"},
	}

	cfg := defaultConfig(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWorkers([]byte(tt.yaml), cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers:\n  - name: a\n    source: test://pattern\n"), 0o644))

	defs, err := LoadWorkers(path, defaultConfig(t))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "a", defs[0].Name)

	_, err = LoadWorkers(filepath.Join(t.TempDir(), "missing.yaml"), defaultConfig(t))
	assert.Error(t, err)
}
