package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "queue.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Worker.Count)
	assert.Equal(t, 200, cfg.Worker.PollIntervalMs)
	assert.Equal(t, 300, cfg.Worker.StaleAfterS)
	assert.Equal(t, 30, cfg.Worker.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Worker.Count = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestLoadReadsTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flam.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
path = "custom.db"

[worker]
count = 3
`), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.Worker.Count)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FLAM_DATABASE_PATH", "env.db")
	t.Setenv("FLAM_WORKER_COUNT", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Worker.Count)
}

func TestLoadAppliesFlagOverridesLast(t *testing.T) {
	t.Setenv("FLAM_DATABASE_PATH", "env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), map[string]string{
		"db": "flag.db",
	})
	require.NoError(t, err)
	assert.Equal(t, "flag.db", cfg.Database.Path)
}
