package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "task_client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppConfig(t *testing.T) {
	path := writeConfig(t, `
client:
  slotsDir: /tmp/voltask/slots
  quitGracePeriod: 20s
  logFlags: [task]
loop:
  maxRunning: 2
host:
  nCPUs: 8
  mNBytes: 16e9
projects:
  - name: sim
    url: https://sim.example.org/
jobs:
  - project: sim
    app: {appName: sim, executable: /opt/sim/worker, flops: 1e9}
    wu: {name: wu_1, rscFpopsEst: 1e12, rscDiskBound: 1e8}
    result: {name: wu_1_0}
`)
	cfg, err := loadAppConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/voltask/slots", cfg.Client.SlotsDir)
	assert.Equal(t, 20*time.Second, cfg.Client.QuitGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.Client.AbortGracePeriod)
	assert.Equal(t, 2, cfg.Loop.MaxRunning)
	assert.Equal(t, defaultPollInterval, cfg.Loop.PollInterval)
	assert.Equal(t, 8, cfg.Host.NCPUs)
	assert.Equal(t, 16e9, cfg.Host.MNBytes)
	assert.Equal(t, "voltask", cfg.Metrics.Namespace)
	assert.NotEmpty(t, cfg.Server.Addr)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, 1e8, cfg.Jobs[0].WU.RscDiskBound)
}

func TestLoadAppConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown log flag", "client: {logFlags: [nope]}"},
		{"unknown project", "jobs: [{project: x, app: {executable: /bin/true}, result: {name: r}}]"},
		{"missing result", "jobs: [{app: {executable: /bin/true}}]"},
		{"missing executable", "jobs: [{result: {name: r}}]"},
		{"bad yaml", "client: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadAppConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
