package kremisconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Equal(t, "./data", cfg.Persistence.DataDir)
	assert.False(t, cfg.Persistence.SyncWrites)
	assert.False(t, cfg.Persistence.LowMemory)
	assert.Equal(t, 0, cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("KREMIS_DATA_DIR", "/tmp/kremis")
	t.Setenv("KREMIS_SYNC_WRITES", "true")
	t.Setenv("KREMIS_LOW_MEMORY", "1")
	t.Setenv("KREMIS_LOG_LEVEL", "2")

	cfg := LoadFromEnv()
	assert.Equal(t, "/tmp/kremis", cfg.Persistence.DataDir)
	assert.True(t, cfg.Persistence.SyncWrites)
	assert.True(t, cfg.Persistence.LowMemory)
	assert.Equal(t, 2, cfg.Logging.Level)
}

func TestValidateRejectsEmptyDataDir(t *testing.T) {
	cfg := &Config{Persistence: PersistenceConfig{DataDir: "  "}}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeLogLevel(t *testing.T) {
	cfg := &Config{Persistence: PersistenceConfig{DataDir: "./data"}, Logging: LoggingConfig{Level: -1}}
	require.Error(t, cfg.Validate())
}
