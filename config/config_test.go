package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Port:              "8080",
		Store:             StoreSQLite,
		DBPath:            "finance.db",
		LogLevel:          "info",
		LogFormat:         "text",
		AMQPExchange:      "finance",
		AMQPQueue:         "transaction_events",
		GeminiModel:       "gemini-2.0-flash",
		ReconcileInterval: time.Hour,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errorString string
	}{
		{
			name:   "valid sqlite config",
			mutate: func(c *Config) {},
		},
		{
			name:   "valid memory config with AMQP",
			mutate: func(c *Config) { c.Store = StoreMemory; c.AMQPURL = "amqps://user:pw@broker:5671/" },
		},
		{
			name:   "scheduler disabled",
			mutate: func(c *Config) { c.ReconcileInterval = 0 },
		},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Port = "70000" },
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "unknown store",
			mutate:      func(c *Config) { c.Store = "postgres" },
			errorString: "invalid store 'postgres'",
		},
		{
			name:        "sqlite without path",
			mutate:      func(c *Config) { c.DBPath = "" },
			errorString: "database path cannot be empty",
		},
		{
			name:        "bad AMQP scheme",
			mutate:      func(c *Config) { c.AMQPURL = "http://localhost" },
			errorString: "invalid AMQP URL scheme 'http'",
		},
		{
			name:        "bad log format",
			mutate:      func(c *Config) { c.LogFormat = "xml" },
			errorString: "invalid log format 'xml'",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.LogLevel = "loud" },
			errorString: "unknown log level",
		},
		{
			name:        "sub-second reconcile interval",
			mutate:      func(c *Config) { c.ReconcileInterval = time.Millisecond },
			errorString: "must be at least 1 second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.errorString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE", "DB_PATH", "CORS_ORIGINS", "RECONCILE_INTERVAL", "RECONCILE_REPAIR", "AMQP_URL", "LOG_LEVEL", "LOG_FORMAT", "GEMINI_MODEL"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "finance.db", cfg.DBPath)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, time.Hour, cfg.ReconcileInterval)
	assert.False(t, cfg.ReconcileRepair)
	assert.Empty(t, cfg.AMQPURL)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", "memory")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("RECONCILE_REPAIR", "true")

	cfg := FromEnv()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.True(t, cfg.ReconcileRepair)
}
