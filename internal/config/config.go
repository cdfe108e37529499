package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apod-desktop/apod/pkg/apod"
	"github.com/apod-desktop/apod/pkg/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the search paths.
const FileName = "config.toml"

// Config holds all application configuration
type Config struct {
	// Cache locations
	CacheDir  string `mapstructure:"cache-dir"`
	FSMDBPath string `mapstructure:"fsm-db-path"`

	// APOD API
	APIURL      string        `mapstructure:"api-url"`
	APIKey      string        `mapstructure:"api-key"`
	HTTPTimeout time.Duration `mapstructure:"http-timeout"`

	// Optional S3 mirror of APOD images
	MirrorBucket string `mapstructure:"mirror-bucket"`
	MirrorRegion string `mapstructure:"mirror-region"`

	// Security limits
	MaxImageSize int64 `mapstructure:"max-image-size"`

	// FSM configuration; retries per state after the first attempt
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`

	LogLevel string `mapstructure:"log-level"`
}

// Defaults are applied before the environment, config file and flags.
var defaults = map[string]any{
	"cache-dir":       "image_cache",
	"fsm-db-path":     "image_cache_fsm",
	"api-url":         apod.DefaultAPIURL,
	"api-key":         "DEMO_KEY",
	"http-timeout":    30 * time.Second,
	"mirror-bucket":   "",
	"mirror-region":   "us-east-1",
	"max-image-size":  50 * 1024 * 1024,
	"fsm-max-retries": 5,
	"log-level":       "info",
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Environment variables (will be APOD_CACHE_DIR, etc.)
	viper.SetEnvPrefix("APOD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.apod-desktop")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	} else {
		slog.Debug("config_file_loaded", "path", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if filepath.Clean(c.FSMDBPath) == filepath.Clean(c.CacheDir) {
		return fmt.Errorf("fsm-db-path must differ from cache-dir")
	}
	if c.APIURL == "" {
		return fmt.Errorf("api-url cannot be empty")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api-key cannot be empty")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http-timeout must be positive")
	}
	if c.MirrorBucket != "" && c.MirrorRegion == "" {
		return fmt.Errorf("mirror-region is required when mirror-bucket is set")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log-level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log-level %q", s)
	}
	return level, nil
}

// file is the on-disk TOML layout. Durations are written as strings so
// the file stays readable and viper parses them back.
type file struct {
	CacheDir      string `toml:"cache-dir"`
	FSMDBPath     string `toml:"fsm-db-path"`
	APIURL        string `toml:"api-url"`
	APIKey        string `toml:"api-key"`
	HTTPTimeout   string `toml:"http-timeout"`
	MirrorBucket  string `toml:"mirror-bucket"`
	MirrorRegion  string `toml:"mirror-region"`
	MaxImageSize  int64  `toml:"max-image-size"`
	FSMMaxRetries int    `toml:"fsm-max-retries"`
	LogLevel      string `toml:"log-level"`
}

// Save writes c as TOML to path, refusing to replace an existing file
// unless overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := toml.Marshal(file{
		CacheDir:      c.CacheDir,
		FSMDBPath:     c.FSMDBPath,
		APIURL:        c.APIURL,
		APIKey:        c.APIKey,
		HTTPTimeout:   c.HTTPTimeout.String(),
		MirrorBucket:  c.MirrorBucket,
		MirrorRegion:  c.MirrorRegion,
		MaxImageSize:  c.MaxImageSize,
		FSMMaxRetries: c.FSMMaxRetries,
		LogLevel:      c.LogLevel,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	slog.Info("config_saved", "path", path)
	return nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve home directory")
	}
	return filepath.Join(home, ".apod-desktop", FileName), nil
}
