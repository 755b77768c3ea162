package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/iberryful/tarpit/pkg/filler"
)

// EnvPrefix prefixes every environment override, e.g. TARPIT_CHUNK_SIZE.
const EnvPrefix = "TARPIT"

// Config is the server configuration. Keys double as flag names.
type Config struct {
	Listen         string        `mapstructure:"listen" yaml:"listen"`
	Preamble       string        `mapstructure:"preamble" yaml:"preamble"` // path, empty for the built in header
	Filler         string        `mapstructure:"filler" yaml:"filler"`     // zero or random
	ChunkSize      int           `mapstructure:"chunk-size" yaml:"chunk-size"`
	Pace           time.Duration `mapstructure:"pace" yaml:"pace"`
	Rate           int           `mapstructure:"rate" yaml:"rate"` // chunks per second per connection
	MaxConns       int           `mapstructure:"max-conns" yaml:"max-conns"`
	ReportInterval time.Duration `mapstructure:"report-interval" yaml:"report-interval"`
	Metrics        string        `mapstructure:"metrics" yaml:"metrics"` // listen address, empty disables
	MetricsPerPeer bool          `mapstructure:"metrics-per-peer" yaml:"metrics-per-peer"`
	LogLevel       string        `mapstructure:"log-level" yaml:"log-level"`
	Profile        bool          `mapstructure:"profile" yaml:"profile"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
// Pace is left out; it follows the filler kind unless set.
func DefaultConfig() *Config {
	return &Config{
		Listen:         "0.0.0.0:8080",
		Filler:         string(filler.KindZero),
		ChunkSize:      filler.DefaultChunkSize,
		ReportInterval: time.Second,
		LogLevel:       "info",
	}
}

// Load merges, from lowest to highest priority, the defaults, the YAML file
// at path (when not empty), TARPIT_* environment variables and the changed
// flags of fs (when not nil).
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("preamble", d.Preamble)
	v.SetDefault("filler", d.Filler)
	v.SetDefault("chunk-size", d.ChunkSize)
	v.SetDefault("rate", d.Rate)
	v.SetDefault("max-conns", d.MaxConns)
	v.SetDefault("report-interval", d.ReportInterval)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("metrics-per-peer", d.MetricsPerPeer)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("profile", d.Profile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("pace"); err != nil {
		return nil, err
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !v.IsSet("pace") {
		if kind, err := filler.ParseKind(cfg.Filler); err == nil {
			cfg.Pace = kind.DefaultPace()
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if _, err := filler.ParseKind(c.Filler); err != nil {
		return fmt.Errorf("filler: %w", err)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > filler.MaxChunkSize {
		return fmt.Errorf("chunk-size must be between 1 and %d", filler.MaxChunkSize)
	}
	if c.Pace < 0 {
		return fmt.Errorf("pace cannot be negative")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max-conns cannot be negative")
	}
	if c.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be positive")
	}
	return nil
}

// YAML renders c in the format Load reads.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
