package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFileUsesCodeDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, ModeBalanced, cfg.Server.Mode)
	assert.Equal(t, TierWarp, cfg.Server.Tier)
}

func TestLoad_TomlOverridesCodeDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.v6.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000
mode = "GAMING"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ModeGaming, cfg.Server.Mode)
	// untouched key keeps its code default
	assert.Equal(t, "full", cfg.Server.Resolution)
}

func TestLoad_EnvOverridesTomlAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.v6.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000
`), 0o644))

	t.Setenv("VELOX_PORT", "9500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9500, cfg.Server.Port)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
}
