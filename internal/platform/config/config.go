// Package config loads camstream configuration from .env files, the
// environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CAMSTREAM_SERVER_PORT.
const EnvPrefix = "CAMSTREAM"

const (
	defaultPort           = 5000
	defaultStartupTimeout = 5 * time.Second
	defaultSettleDelay    = 5 * time.Second
	defaultRestartDelay   = time.Second
	defaultRequestTimeout = 15 * time.Second
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Viewer   ViewerConfig   `mapstructure:"viewer"`
}

// ServerConfig configures the stream backend.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	HLSDir         string        `mapstructure:"hls_dir"`
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	WatchdogSpec   string        `mapstructure:"watchdog_spec"`
}

// DatabaseConfig selects where camera settings are persisted.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ViewerConfig configures the console viewer.
type ViewerConfig struct {
	BackendURL     string        `mapstructure:"backend_url"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
	Autoplay       bool          `mapstructure:"autoplay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Address returns the listen address of the backend.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LoadDotEnv reads .env files into the process environment. A missing file
// is not an error; with no paths, ".env" is used.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := godotenv.Read(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// SetDefaults configures default values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.hls_dir", "static/hls")
	v.SetDefault("server.ffmpeg_path", "ffmpeg")
	v.SetDefault("server.startup_timeout", defaultStartupTimeout)
	v.SetDefault("server.watchdog_spec", "@every 5s")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("viewer.backend_url", fmt.Sprintf("http://localhost:%d", defaultPort))
	v.SetDefault("viewer.settle_delay", defaultSettleDelay)
	v.SetDefault("viewer.restart_delay", defaultRestartDelay)
	v.SetDefault("viewer.autoplay", true)
	v.SetDefault("viewer.request_timeout", defaultRequestTimeout)
}

// Bind sets up environment lookup on v: CAMSTREAM_ prefix, dots and dashes
// mapped to underscores.
func Bind(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load builds a Config from defaults, the environment and, when configPath
// is set, a config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	Bind(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.HLSDir == "" {
		errs = append(errs, errors.New("server.hls_dir is required"))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, sqlite, postgres, mysql", c.Database.Driver))
	}
	if d := strings.ToLower(c.Database.Driver); (d == "postgres" || d == "mysql") && c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required for %s", d))
	}
	if u, err := url.Parse(c.Viewer.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("viewer.backend_url %q must be an http(s) url", c.Viewer.BackendURL))
	}
	if c.Viewer.SettleDelay < 0 || c.Viewer.RestartDelay < 0 {
		errs = append(errs, errors.New("viewer delays must not be negative"))
	}
	return errors.Join(errs...)
}
