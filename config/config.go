// Package config loads the conveyord configuration: TOML file plus
// CONVEYOR_-prefixed environment overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parcelforge/conveyor/errors"
)

// Config is the full conveyord configuration tree.
type Config struct {
	// Instance identifies this process; workers advertise
	// "<instance>-<n>". Defaults to the hostname.
	Instance string `mapstructure:"instance"`

	Database DatabaseConfig `mapstructure:"database"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Purge    PurgeConfig    `mapstructure:"purge"`
}

// DatabaseConfig locates the invocation store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BlobConfig locates the log artifact store. An empty dir disables
// persistent captures.
type BlobConfig struct {
	Dir string `mapstructure:"dir"`
}

// WorkersConfig sizes the dispatch fleet.
type WorkersConfig struct {
	Count        int           `mapstructure:"count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Invisibility time.Duration `mapstructure:"invisibility"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`

	// RatePerSecond gates dispatch throughput; 0 disables the gate.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// LogConfig controls process logging.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PurgeConfig controls the built-in retention job.
type PurgeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Interval time.Duration `mapstructure:"interval"`
}

// Load reads configuration from the default search paths and the
// environment. A missing config file is fine; defaults and environment
// cover everything.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("conveyor")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.conveyor")
	v.AddConfigPath("/etc/conveyor")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}
	return unmarshal(v)
}

// LoadFromFile reads configuration from one explicit file.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if cfg.Instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, "failed to derive instance name")
		}
		cfg.Instance = host
	}
	return &cfg, nil
}
