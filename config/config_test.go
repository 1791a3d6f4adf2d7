package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/meeting-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "meetings.db", cfg.DSN)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "@every 1h", cfg.ForecastCron)
	assert.Equal(t, 3, cfg.ForecastHorizonMonths)
	assert.Equal(t, 12, cfg.HistoryMonths)
	assert.Equal(t, 4, cfg.BulkWorkers)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("MEETINGS_PORT", "9090")
	t.Setenv("MEETINGS_DB_DRIVER", "POSTGRES")
	t.Setenv("MEETINGS_DSN", "postgres://localhost/meetings")
	t.Setenv("MEETINGS_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/meetings", cfg.DSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MEETINGS_LOG_LEVEL=debug\nMEETINGS_BULK_WORKERS=2\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("MEETINGS_LOG_LEVEL")
		os.Unsetenv("MEETINGS_BULK_WORKERS")
	})

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.BulkWorkers)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("MEETINGS_DB_DRIVER", "oracle")

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Error(t, err)
}
