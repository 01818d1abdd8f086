package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
tick_interval: 250ms
listen_addr: ":9000"
content_pack: packs/base.json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "packs/base.json", cfg.ContentPack)
	// Untouched keys keep defaults.
	assert.Equal(t, 1000, cfg.HistoryCap)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "tick_interval: [not a duration"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "tick_interval: -5s"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick_interval")

	_, err = Load(writeConfig(t, "history_cap: 0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history_cap")

	_, err = Load(writeConfig(t, "batch_size: -1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}
