package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("COLLECTORS_TEST_DEFAULTS")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "collectortrack.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, uint(5), cfg.StoreMaxTries)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, ":8082", cfg.HTTPAddr)
	assert.Equal(t, float64(20), cfg.RateLimit)
	assert.Equal(t, 40, cfg.RateBurst)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "collectortrack", cfg.ServiceName)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestNewConfigFromEnvironment(t *testing.T) {
	t.Setenv("COLLECTORS_DATABASE_DRIVER", "pgx")
	t.Setenv("COLLECTORS_DATABASE_URL", "postgres://collectors@localhost/collectors")
	t.Setenv("COLLECTORS_STORE_TIMEOUT", "750ms")
	t.Setenv("COLLECTORS_HTTP_ADDR", ":9000")
	t.Setenv("COLLECTORS_OTLP_ENDPOINT", "localhost:4318")
	t.Setenv("COLLECTORS_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://collectors@localhost/collectors", cfg.DatabaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "localhost:4318", cfg.OTLPEndpoint)
	assert.True(t, cfg.Debug)
}

func TestNewConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":  {"COLLECTORS_DATABASE_DRIVER": "oracle"},
		"timeout": {"COLLECTORS_STORE_TIMEOUT": "0s"},
		"rate":    {"COLLECTORS_RATE_LIMIT": "-1"},
		"parse":   {"COLLECTORS_STORE_MAX_TRIES": "many"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true, "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud", false, "")
	assert.Error(t, err)

	dir := t.TempDir()
	logger, err = NewLogger("info", false, dir)
	require.NoError(t, err)
	logger.Info("movement recorded")
	logger.Error("movement failed")
	_ = logger.Sync()

	standard, err := os.ReadFile(filepath.Join(dir, "standard.log"))
	require.NoError(t, err)
	assert.Contains(t, string(standard), "movement recorded")

	errs, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "movement failed")
	assert.NotContains(t, string(errs), "movement recorded")
}
