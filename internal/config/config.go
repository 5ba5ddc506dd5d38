// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Storage() StorageConfig
	Engine() EngineConfig
	Generator() GeneratorConfig
	Agent() AgentConfig
	Server() ServerConfig
	Metrics() MetricsConfig

	// Setters used by CLI flag overrides.
	SetStorageDriver(string)
	SetGeneratorProvider(string)
	SetServerAddr(string)
}

// Config holds the entire application configuration. Sections are exported so
// viper can decode into them; callers go through the Interface getters.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	StorageCfg   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	GeneratorCfg GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	AgentCfg     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	ServerCfg    ServerConfig    `mapstructure:"server" yaml:"server"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Storage() StorageConfig     { return c.StorageCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Generator() GeneratorConfig { return c.GeneratorCfg }
func (c *Config) Agent() AgentConfig         { return c.AgentCfg }
func (c *Config) Server() ServerConfig       { return c.ServerCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetStorageDriver(d string)     { c.StorageCfg.Driver = StorageDriver(d) }
func (c *Config) SetGeneratorProvider(p string) { c.GeneratorCfg.Provider = GeneratorProvider(p) }
func (c *Config) SetServerAddr(a string)        { c.ServerCfg.Addr = a }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	DriverMemory   StorageDriver = "memory"
	DriverSQLite   StorageDriver = "sqlite"
	DriverPostgres StorageDriver = "postgres"
)

// StorageConfig selects and locates the project store.
type StorageConfig struct {
	Driver      StorageDriver `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string        `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// EngineConfig tunes graph editing and history.
type EngineConfig struct {
	AllowSelfLoops       bool `mapstructure:"allow_self_loops" yaml:"allow_self_loops"`
	MaxSnapshots         int  `mapstructure:"max_snapshots" yaml:"max_snapshots"`
	ValidateSchemaOnLoad bool `mapstructure:"validate_schema_on_load" yaml:"validate_schema_on_load"`
}

// GeneratorProvider selects the content generator.
type GeneratorProvider string

const (
	GeneratorOffline GeneratorProvider = "offline"
	GeneratorLLM     GeneratorProvider = "llm"
)

// GeneratorConfig configures content generation and its protection.
type GeneratorConfig struct {
	Provider           GeneratorProvider `mapstructure:"provider" yaml:"provider"`
	RequestsPerSecond  float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst              int               `mapstructure:"burst" yaml:"burst"`
	BreakerMaxFailures uint32            `mapstructure:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration     `mapstructure:"breaker_timeout" yaml:"breaker_timeout"`
	Temperature        float32           `mapstructure:"temperature" yaml:"temperature"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// MetricsConfig configures Prometheus instrumentation.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// AgentConfig holds settings related to the language models.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "plotweave")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Storage --
	v.SetDefault("storage.driver", string(DriverSQLite))
	v.SetDefault("storage.sqlite_path", "~/.plotweave/plotweave.db")
	v.SetDefault("storage.postgres_url", "")

	// -- Engine --
	v.SetDefault("engine.allow_self_loops", true)
	v.SetDefault("engine.max_snapshots", 0)
	v.SetDefault("engine.validate_schema_on_load", true)

	// -- Generator --
	v.SetDefault("generator.provider", string(GeneratorOffline))
	v.SetDefault("generator.requests_per_second", 2.0)
	v.SetDefault("generator.burst", 4)
	v.SetDefault("generator.breaker_max_failures", 5)
	v.SetDefault("generator.breaker_timeout", "30s")
	v.SetDefault("generator.temperature", 0.8)

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")

	// -- Server --
	v.SetDefault("server.addr", ":8089")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "2m")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "plotweave")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("PLOTWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Bind environment variables for sensitive data
	_ = v.BindEnv("storage.postgres_url", "PLOTWEAVE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.StorageCfg.SQLitePath != "" {
		expanded, err := homedir.Expand(cfg.StorageCfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand sqlite_path: %w", err)
		}
		cfg.StorageCfg.SQLitePath = expanded
	}
	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StorageCfg.Validate(); err != nil {
		return fmt.Errorf("storage configuration invalid: %w", err)
	}
	if c.EngineCfg.MaxSnapshots < 0 {
		return fmt.Errorf("engine.max_snapshots must not be negative")
	}
	if err := c.GeneratorCfg.Validate(); err != nil {
		return fmt.Errorf("generator configuration invalid: %w", err)
	}
	if c.ServerCfg.Addr == "" {
		return fmt.Errorf("server.addr is a required configuration field")
	}
	return nil
}

// Validate checks the storage configuration.
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres driver. Ensure PLOTWEAVE_POSTGRES_URL is set")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Validate checks the generator settings.
func (g *GeneratorConfig) Validate() error {
	switch g.Provider {
	case GeneratorOffline:
		return nil
	case GeneratorLLM:
	default:
		return fmt.Errorf("unknown provider %q", g.Provider)
	}
	if g.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if g.Burst <= 0 {
		return fmt.Errorf("burst must be a positive integer")
	}
	if g.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker_timeout must be a positive duration")
	}
	return nil
}
