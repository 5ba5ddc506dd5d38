// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "plotweave", cfg.Logger().ServiceName)
	assert.Equal(t, DriverSQLite, cfg.Storage().Driver)
	assert.True(t, cfg.Engine().AllowSelfLoops)
	assert.True(t, cfg.Engine().ValidateSchemaOnLoad)
	assert.Equal(t, 0, cfg.Engine().MaxSnapshots)
	assert.Equal(t, GeneratorOffline, cfg.Generator().Provider)
	assert.Equal(t, 30*time.Second, cfg.Generator().BreakerTimeout)
	assert.Equal(t, "gemini-2.5-pro", cfg.Agent().LLM.DefaultPowerfulModel)
	assert.Equal(t, ":8089", cfg.Server().Addr)
	assert.Equal(t, "plotweave", cfg.Metrics().Namespace)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("should accept the defaults", func(t *testing.T) {
		assert.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("should reject an unknown storage driver", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetStorageDriver("mongo")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown driver "mongo"`)
	})

	t.Run("should require a URL for postgres", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetStorageDriver(string(DriverPostgres))
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "postgres_url is required")

		cfg.StorageCfg.PostgresURL = "postgres://localhost/plotweave"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should reject negative snapshot retention", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.EngineCfg.MaxSnapshots = -1
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.max_snapshots must not be negative")
	})

	t.Run("Generator Validation", func(t *testing.T) {
		valid := GeneratorConfig{
			Provider:          GeneratorLLM,
			RequestsPerSecond: 1,
			Burst:             1,
			BreakerTimeout:    time.Second,
		}
		assert.NoError(t, valid.Validate())

		offline := GeneratorConfig{Provider: GeneratorOffline}
		assert.NoError(t, offline.Validate(), "offline generation needs no limits")

		noRate := valid
		noRate.RequestsPerSecond = 0
		err := noRate.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requests_per_second must be positive")

		noBurst := valid
		noBurst.Burst = 0
		err = noBurst.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "burst must be a positive integer")

		unknown := valid
		unknown.Provider = "oracle"
		assert.Error(t, unknown.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("should load values from YAML over defaults", func(t *testing.T) {
		yamlBytes := []byte(`
storage:
  driver: memory
engine:
  allow_self_loops: false
  max_snapshots: 50
server:
  addr: "127.0.0.1:9000"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, DriverMemory, cfg.Storage().Driver)
		assert.False(t, cfg.Engine().AllowSelfLoops)
		assert.Equal(t, 50, cfg.Engine().MaxSnapshots)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server().Addr)
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("should fail validation", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("generator.provider", "llm")
		v.Set("generator.burst", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "burst must be a positive integer")
	})

	t.Run("should let environment variables override the file", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
storage:
  driver: postgres
  postgres_url: "postgres://configfile/db"
`)))

		testURL := "postgres://envvar/db"
		t.Setenv("PLOTWEAVE_POSTGRES_URL", testURL)
		t.Setenv("PLOTWEAVE_LOGGER_LEVEL", "debug")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testURL, cfg.Storage().PostgresURL)
		assert.Equal(t, "debug", cfg.Logger().Level)
	})

	t.Run("should expand the home directory in paths", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, home+"/.plotweave/plotweave.db", cfg.Storage().SQLitePath)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/plotweave.log
generator:
  breaker_timeout: 5s
agent:
  llm:
    models:
      storyteller:
        provider: gemini
        model: gemini-2.5-flash
        temperature: 0.9
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/plotweave.log", cfg.Logger().LogFile)
	assert.Equal(t, 5*time.Second, cfg.Generator().BreakerTimeout)
	require.Contains(t, cfg.Agent().LLM.Models, "storyteller")
	assert.Equal(t, ProviderGemini, cfg.Agent().LLM.Models["storyteller"].Provider)
	assert.InDelta(t, 0.9, cfg.Agent().LLM.Models["storyteller"].Temperature, 0.001)
}
