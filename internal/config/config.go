package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override the
// config file, e.g. SUBUNIT_FAIL_FAST or SUBUNIT_LOG_LEVEL.
const EnvPrefix = "SUBUNIT"

// Config holds the settings shared by every command.
type Config struct {
	Format      string        `mapstructure:"format"`
	Passthrough bool          `mapstructure:"passthrough"`
	FailFast    bool          `mapstructure:"fail_fast"`
	Order       string        `mapstructure:"order"`
	Resync      bool          `mapstructure:"resync"`
	Strict      bool          `mapstructure:"strict"`
	Log         LogConfig     `mapstructure:"log"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	History     HistoryConfig `mapstructure:"history"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	ShowTime   bool   `mapstructure:"show_time"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"` // empty disables recording
}

// flagKeys maps command-line flag names to config keys where they differ.
var flagKeys = map[string]string{
	"fail-fast":    "fail_fast",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"metrics-addr": "metrics.addr",
	"history":      "history.dsn",
}

// New returns a viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("format", "text")
	v.SetDefault("passthrough", true)
	v.SetDefault("fail_fast", false)
	v.SetDefault("order", "arrival")
	v.SetDefault("resync", false)
	v.SetDefault("strict", false)
	v.SetDefault("log.level", "error")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.show_time", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("history.dsn", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the flags in fs that correspond to config keys. Flags
// only override the file and environment when set on the command line.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		if !isKey(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func isKey(key string) bool {
	switch key {
	case "format", "passthrough", "fail_fast", "order", "resync", "strict",
		"log.level", "log.file", "metrics.addr", "history.dsn":
		return true
	}
	return false
}

// Load reads the config file at path, if any, and returns the merged
// configuration. An empty path looks for subunit.yaml in the working
// directory and tolerates its absence.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("subunit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Format {
	case "text", "binary":
	default:
		return fmt.Errorf("invalid format %q: want text or binary", c.Format)
	}
	switch c.Order {
	case "", "arrival", "timestamp":
	default:
		return fmt.Errorf("invalid order %q: want arrival or timestamp", c.Order)
	}
	return nil
}
