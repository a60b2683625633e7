package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir (Go 1.24+), which is unavailable on the
// toolchain used to build this module.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beamdecode.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Decode.BeamWidth)
	assert.Equal(t, 100, cfg.Decode.MaxSteps)
	assert.Equal(t, 35, cfg.Decode.MinSteps)
	assert.Equal(t, "text", cfg.Vocab.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Debug.LogLevel)
	assert.Nil(t, cfg.Database)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"decode": {"beam_width": 8, "max_steps": 60, "min_steps": 10, "avoid_trigram_repeats": true},
		"vocab": {"path": "vocab.json", "format": "json"},
		"server": {"addr": ":9999"},
		"database": {"host": "db.internal", "port": 5432}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Decode.BeamWidth)
	assert.Equal(t, 10, cfg.Decode.MinSteps)
	assert.True(t, cfg.Decode.AvoidTrigramRepeats)
	assert.Equal(t, "json", cfg.Vocab.Format)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	require.NotNil(t, cfg.Database)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeConfig(t, `{"decode": {"beam_width": -1, "max_steps": 10}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{"vocab": {"format": "xml"}}`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{not json`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadDefaultWithoutFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Decode.BeamWidth)
}

func TestLoadDefaultFindsLocalFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".beamdecode.json"), []byte(`{"server": {"addr": ":7070"}}`), 0o644))
	chdir(t, dir)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}
