package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "inmem", cfg.Store.Backend)
	require.Equal(t, 5*time.Second, cfg.Store.Timeout)
	require.Equal(t, "inmem", cfg.Engine.Backend)
	require.Equal(t, "crewforge", cfg.Engine.TaskQueue)
	require.Equal(t, "inmem", cfg.Bus.Backend)
	require.Equal(t, "agents", cfg.Bus.Channel)
	require.Equal(t, "./projects", cfg.Sandbox.Root)
	require.Equal(t, "./configs/agents.yaml", cfg.Agents.ConfigFile)
	require.Equal(t, 5.0, cfg.CostLimit)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, "inmem", cfg.Store.Backend)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: mongo
  uri: mongodb://localhost:27017
  database: crewforge
cost_limit: 12.5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "mongo", cfg.Store.Backend)
	require.Equal(t, "mongodb://localhost:27017", cfg.Store.URI)
	require.Equal(t, 12.5, cfg.CostLimit)
	// Untouched defaults survive a partial file.
	require.Equal(t, "inmem", cfg.Engine.Backend)
}

func TestLoadEnvOverridesFileAndDefaults(t *testing.T) {
	t.Setenv("CREWFORGE_COST_LIMIT", "99")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 99.0, cfg.CostLimit)
}
