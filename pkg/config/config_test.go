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
	path := filepath.Join(t.TempDir(), "stratum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/stratum
log:
  level: debug
  json: true
pools:
  - name: default
    volume_group: vg_host0
    thin_pool: vm-pool
  - name: scratch
    volume_group: vg1
    thin_pool: pool00
    sudo: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/stratum", cfg.DataDir)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	require.Len(t, cfg.Pools, 2)
	assert.Equal(t, "vg_host0", cfg.Pools[0].VolumeGroup)
	assert.False(t, cfg.Pools[0].Sudo)
	assert.True(t, cfg.Pools[1].Sudo)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pools: []\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed yaml", "pools: ["},
		{"empty data dir", "data_dir: \"\"\n"},
		{"pool without name", "pools:\n  - volume_group: vg0\n    thin_pool: pool00\n"},
		{"pool without vg", "pools:\n  - name: default\n    thin_pool: pool00\n"},
		{"pool without thin pool", "pools:\n  - name: default\n    volume_group: vg0\n"},
		{"duplicate pool names", `
pools:
  - name: default
    volume_group: vg0
    thin_pool: pool00
  - name: default
    volume_group: vg1
    thin_pool: pool00
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}
