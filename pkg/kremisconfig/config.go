// Package kremisconfig loads Kremis-Core's runtime configuration from
// environment variables.
//
// Kremis-Core has no server, auth, or feature-flag surface — its
// environment is limited to where the persistent backend keeps its data and
// how both backends log. Configuration is loaded with LoadFromEnv() and can
// be checked with Validate(). The session package's constructors call
// LoadFromEnv() but do not call Validate().
//
// Example Usage:
//
//	cfg := kremisconfig.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//
//   - KREMIS_DATA_DIR — data directory setting (default "./data"); session.Open
//     and session.Create take their directory as an argument and ignore it
//   - KREMIS_SYNC_WRITES — fsync every write before it commits (default false)
//   - KREMIS_LOW_MEMORY — tune the persistent backend for constrained hosts (default false)
//   - KREMIS_LOG_LEVEL — logr verbosity, 0 (info) upward (default 0)
package kremisconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds Kremis-Core's environment-derived settings.
type Config struct {
	// Persistence controls where and how the embedded KV backend stores data.
	Persistence PersistenceConfig

	// Logging controls the verbosity of the logr logger every component shares.
	Logging LoggingConfig
}

// PersistenceConfig mirrors storage.BadgerOptions' tunables; kremisconfig
// only parses these from the environment, it does not depend on pkg/storage.
type PersistenceConfig struct {
	DataDir    string
	SyncWrites bool
	LowMemory  bool
}

// LoggingConfig controls the stdr-backed logr.Logger every package accepts.
type LoggingConfig struct {
	// Level follows logr's convention: 0 is info, increasing numbers are
	// increasingly verbose debug levels.
	Level int
}

// LoadFromEnv reads every Kremis-Core environment variable, falling back to
// its documented default for anything unset or unparsable.
func LoadFromEnv() *Config {
	return &Config{
		Persistence: PersistenceConfig{
			DataDir:    getEnv("KREMIS_DATA_DIR", "./data"),
			SyncWrites: getEnvBool("KREMIS_SYNC_WRITES", false),
			LowMemory:  getEnvBool("KREMIS_LOW_MEMORY", false),
		},
		Logging: LoggingConfig{
			Level: getEnvInt("KREMIS_LOG_LEVEL", 0),
		},
	}
}

// Validate reports whether c is usable as-is.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Persistence.DataDir) == "" {
		return fmt.Errorf("kremisconfig: data dir must not be empty")
	}
	if c.Logging.Level < 0 {
		return fmt.Errorf("kremisconfig: log level must be >= 0, got %d", c.Logging.Level)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
