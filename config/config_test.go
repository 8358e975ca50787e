package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test in an empty directory so no stray .env is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /var/lib/library/circ.db
  busy_timeout_ms: 2500
log:
  mode: production
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/library/circ.db", cfg.Database.Path)
	assert.Equal(t, 2500, cfg.Database.BusyTimeoutMS)
	assert.Equal(t, "production", cfg.Log.Mode)

	t.Setenv("LIBRARY_DB_PATH", "override.db")
	t.Setenv("LIBRARY_LOG_LEVEL", "debug")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "override.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "production", cfg.Log.Mode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LIBRARY_BUSY_TIMEOUT_MS=750\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LIBRARY_BUSY_TIMEOUT_MS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 750, cfg.Database.BusyTimeoutMS)
}

func TestLoadRejectsBadValues(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LIBRARY_BUSY_TIMEOUT_MS", "soon")
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
