// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Selector() SelectorConfig
	Locator() LocatorConfig
	Executor() ExecutorConfig
	Transport() TransportConfig

	// Transport Setters
	SetTransportKind(kind string)
	SetTransportRemoteURL(url string)

	// Database Setters
	SetDatabaseURL(url string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	SelectorCfg  SelectorConfig  `mapstructure:"selector" yaml:"selector"`
	LocatorCfg   LocatorConfig   `mapstructure:"locator" yaml:"locator"`
	ExecutorCfg  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	TransportCfg TransportConfig `mapstructure:"transport" yaml:"transport"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Selector() SelectorConfig   { return c.SelectorCfg }
func (c *Config) Locator() LocatorConfig     { return c.LocatorCfg }
func (c *Config) Executor() ExecutorConfig   { return c.ExecutorCfg }
func (c *Config) Transport() TransportConfig { return c.TransportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetTransportKind(kind string)     { c.TransportCfg.Kind = kind }
func (c *Config) SetTransportRemoteURL(url string) { c.TransportCfg.RemoteURL = url }
func (c *Config) SetDatabaseURL(url string)        { c.DatabaseCfg.URL = url }

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

// DatabaseConfig holds the database connection details. Only the flow store
// needs it.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SelectorConfig tunes selector generation.
type SelectorConfig struct {
	MaxCandidates    int      `mapstructure:"max_candidates" yaml:"max_candidates"`
	MaxTextLength    int      `mapstructure:"max_text_length" yaml:"max_text_length"`
	MaxPathDepth     int      `mapstructure:"max_path_depth" yaml:"max_path_depth"`
	TestIDAttributes []string `mapstructure:"test_id_attributes" yaml:"test_id_attributes"`
	Strategies       []string `mapstructure:"strategies" yaml:"strategies"`
	IncludeXPath     bool     `mapstructure:"include_xpath" yaml:"include_xpath"`
}

// LocatorConfig holds the replay-time lookup defaults.
type LocatorConfig struct {
	PreferRef         bool `mapstructure:"prefer_ref" yaml:"prefer_ref"`
	VerifyFingerprint bool `mapstructure:"verify_fingerprint" yaml:"verify_fingerprint"`
	AllowMultiple     bool `mapstructure:"allow_multiple" yaml:"allow_multiple"`
}

// ExecutorConfig configures the action registry and scheduler.
type ExecutorConfig struct {
	// DefaultTimeout bounds actions without a timeout policy. Zero means none.
	DefaultTimeout            time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxWhileIterations        int           `mapstructure:"max_while_iterations" yaml:"max_while_iterations"`
	DefaultForeachConcurrency int           `mapstructure:"default_foreach_concurrency" yaml:"default_foreach_concurrency"`
	MaxSubflowDepth           int           `mapstructure:"max_subflow_depth" yaml:"max_subflow_depth"`
}

// Transport kinds.
const (
	TransportSnapshot = "snapshot"
	TransportCDP      = "cdp"
)

// TransportConfig selects and throttles the DOM transport.
type TransportConfig struct {
	Kind              string  `mapstructure:"kind" yaml:"kind"`
	RemoteURL         string  `mapstructure:"remote_url" yaml:"remote_url"`
	Headless          bool    `mapstructure:"headless" yaml:"headless"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second" yaml:"messages_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "scalpel-replay")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Selector --
	v.SetDefault("selector.max_candidates", 8)
	v.SetDefault("selector.max_text_length", 64)
	v.SetDefault("selector.max_path_depth", 12)
	v.SetDefault("selector.test_id_attributes", []string{"data-testid", "data-test-id", "data-test", "data-qa", "data-cy"})
	v.SetDefault("selector.strategies", []string{"testid", "aria", "css-unique", "css-path", "anchor-relative-path", "xpath", "text"})
	v.SetDefault("selector.include_xpath", true)

	// -- Locator --
	v.SetDefault("locator.prefer_ref", false)
	v.SetDefault("locator.verify_fingerprint", true)
	v.SetDefault("locator.allow_multiple", false)

	// -- Executor --
	v.SetDefault("executor.default_timeout", "0s")
	v.SetDefault("executor.max_while_iterations", 1000)
	v.SetDefault("executor.default_foreach_concurrency", 1)
	v.SetDefault("executor.max_subflow_depth", 16)

	// -- Transport --
	v.SetDefault("transport.kind", TransportSnapshot)
	v.SetDefault("transport.remote_url", "")
	v.SetDefault("transport.headless", true)
	v.SetDefault("transport.messages_per_second", 50.0)
	v.SetDefault("transport.burst", 10)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password, so it has its own variable.
	_ = v.BindEnv("database.url", "SCALPEL_REPLAY_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.SelectorCfg.MaxCandidates <= 0 {
		return fmt.Errorf("selector.max_candidates must be a positive integer")
	}
	if c.SelectorCfg.MaxTextLength <= 0 {
		return fmt.Errorf("selector.max_text_length must be a positive integer")
	}
	if err := c.ExecutorCfg.Validate(); err != nil {
		return fmt.Errorf("executor configuration invalid: %w", err)
	}
	if err := c.TransportCfg.Validate(); err != nil {
		return fmt.Errorf("transport configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the executor limits.
func (e *ExecutorConfig) Validate() error {
	if e.DefaultTimeout < 0 {
		return fmt.Errorf("default_timeout must not be negative")
	}
	if e.MaxWhileIterations <= 0 {
		return fmt.Errorf("max_while_iterations must be greater than 0")
	}
	if e.DefaultForeachConcurrency <= 0 {
		return fmt.Errorf("default_foreach_concurrency must be greater than 0")
	}
	if e.MaxSubflowDepth <= 0 {
		return fmt.Errorf("max_subflow_depth must be greater than 0")
	}
	return nil
}

// Validate checks the transport selection.
func (t *TransportConfig) Validate() error {
	switch strings.ToLower(t.Kind) {
	case TransportSnapshot, TransportCDP:
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", TransportSnapshot, TransportCDP, t.Kind)
	}
	if t.MessagesPerSecond < 0 {
		return fmt.Errorf("messages_per_second must not be negative")
	}
	if t.Burst < 0 {
		return fmt.Errorf("burst must not be negative")
	}
	return nil
}
