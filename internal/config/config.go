// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration, loaded from file, MENDER_* environment
// variables and flags.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Healing  HealingConfig  `mapstructure:"healing" yaml:"healing"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
}

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

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and locates the persistence backend.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// ViewportConfig is the page size of every browser context.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// RunnerConfig bounds scenario execution.
type RunnerConfig struct {
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ScenarioTimeout   time.Duration `mapstructure:"scenario_timeout" yaml:"scenario_timeout"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	LaunchRate        float64       `mapstructure:"launch_rate" yaml:"launch_rate"`
	ScreenshotQuality int           `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// HealingConfig tunes element re-location.
type HealingConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	Threshold         float64 `mapstructure:"threshold" yaml:"threshold"`
	CandidateLimit    int     `mapstructure:"candidate_limit" yaml:"candidate_limit"`
	CaseSensitiveText bool    `mapstructure:"case_sensitive_text" yaml:"case_sensitive_text"`
	CacheSize         int     `mapstructure:"cache_size" yaml:"cache_size"`
}

// EventsConfig configures where run notifications go. Empty addresses
// disable the corresponding sink.
type EventsConfig struct {
	BufferSize         int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	WebsocketAddr      string `mapstructure:"websocket_addr" yaml:"websocket_addr"`
	RedisAddr          string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannelPrefix string `mapstructure:"redis_channel_prefix" yaml:"redis_channel_prefix"`
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
	v.SetDefault("logger.service_name", "mender")
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

	// -- Database --
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "mender.db")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "500ms")

	// -- Runner --
	v.SetDefault("runner.step_timeout", "30s")
	v.SetDefault("runner.scenario_timeout", "5m")
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.launch_rate", 2.0)
	v.SetDefault("runner.screenshot_quality", 80)
	v.SetDefault("runner.screenshot_dir", "")

	// -- Healing --
	v.SetDefault("healing.enabled", true)
	v.SetDefault("healing.threshold", 0.5)
	v.SetDefault("healing.candidate_limit", 200)
	v.SetDefault("healing.case_sensitive_text", true)
	v.SetDefault("healing.cache_size", 1024)

	// -- Events --
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("events.websocket_addr", "")
	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_channel_prefix", "mender:runs:")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials usually arrive through the environment.
	v.BindEnv("database.url", "MENDER_DATABASE_URL")

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
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	if c.Runner.StepTimeout <= 0 {
		return fmt.Errorf("runner.step_timeout must be a positive duration")
	}
	if c.Runner.ScenarioTimeout <= 0 {
		return fmt.Errorf("runner.scenario_timeout must be a positive duration")
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("runner.concurrency must be a positive integer")
	}
	if c.Runner.LaunchRate <= 0 {
		return fmt.Errorf("runner.launch_rate must be positive")
	}
	if c.Runner.ScreenshotQuality < 1 || c.Runner.ScreenshotQuality > 100 {
		return fmt.Errorf("runner.screenshot_quality must be between 1 and 100")
	}
	if c.Healing.Threshold < 0.0 || c.Healing.Threshold > 1.0 {
		return fmt.Errorf("healing.threshold must be between 0.0 and 1.0")
	}
	if c.Healing.CandidateLimit <= 0 {
		return fmt.Errorf("healing.candidate_limit must be a positive integer")
	}
	if c.Healing.CacheSize <= 0 {
		return fmt.Errorf("healing.cache_size must be a positive integer")
	}
	if c.Events.BufferSize < 0 {
		return fmt.Errorf("events.buffer_size must not be negative")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive")
	}
	return nil
}

// Validate checks that the selected driver has what it needs to connect.
func (d *DatabaseConfig) Validate() error {
	switch strings.ToLower(d.Driver) {
	case DriverPostgres:
		if d.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if d.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q (want postgres or sqlite)", d.Driver)
	}
	return nil
}
