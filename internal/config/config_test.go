package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "DB_PATH", "LOG_LEVEL", "LOG_FILE", "SEED_PATH", "MATCH_WINDOW_DAYS",
		"MATCH_MIN_SCORE", "AUTOMATCH_INTERVAL_SECONDS", "AUTOMATCH_TENANTS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "hotelops.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 7, cfg.MatchWindowDays)
	assert.Equal(t, 40, cfg.MatchMinScore)
	assert.Equal(t, 5*time.Minute, cfg.AutoMatchInterval)
	assert.Empty(t, cfg.AutoMatchTenants)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  db_path: /var/lib/hotelops/data.db
log:
  level: debug
matching:
  window_days: 3
automatch:
  interval_seconds: 60
  tenants: [" hotel-a ", "hotel-b", ""]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/hotelops/data.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MatchWindowDays)
	assert.Equal(t, time.Minute, cfg.AutoMatchInterval)
	assert.Equal(t, []string{"hotel-a", "hotel-b"}, cfg.AutoMatchTenants)

	t.Setenv("PORT", "7070")
	t.Setenv("MATCH_WINDOW_DAYS", "not-a-number")
	t.Setenv("AUTOMATCH_TENANTS", "hotel-c")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 3, cfg.MatchWindowDays)
	assert.Equal(t, []string{"hotel-c"}, cfg.AutoMatchTenants)
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = Load("")
	assert.Error(t, err)
}
