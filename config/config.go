// Package config loads, persists and watches the quotawatch configuration
// file. A Store wraps the loaded file and backs the core Settings interface,
// so enablement toggles, credentials and per-provider options written at
// runtime survive restarts.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration model
type Config struct {
	Settings  SettingsConfig            `yaml:"settings" mapstructure:"settings"`
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Secrets   map[string]string         `yaml:"secrets,omitempty" mapstructure:"secrets"`
	History   HistoryConfig             `yaml:"history" mapstructure:"history"`
	Log       LogConfig                 `yaml:"log" mapstructure:"log"`
}

// SettingsConfig holds monitor-wide tunables
type SettingsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	APIAddr         string        `yaml:"api_addr" mapstructure:"api_addr"`
}

// ProviderConfig holds one provider's enablement flag and options
type ProviderConfig struct {
	Enabled bool              `yaml:"enabled" mapstructure:"enabled"`
	Options map[string]string `yaml:"options,omitempty" mapstructure:"options"`
}

// HistoryConfig selects and tunes the snapshot history backend
type HistoryConfig struct {
	// Backend is one of none, memory, sqlite, redis or postgres
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Path is the sqlite database file
	Path string `yaml:"path,omitempty" mapstructure:"path"`

	// Addr is the redis server address
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`

	// DSN is the postgres connection string
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`

	// Keep caps the snapshots kept per provider where the backend supports it
	Keep int `yaml:"keep,omitempty" mapstructure:"keep"`

	// Cache layers an in-memory tier over sqlite, redis and postgres so
	// recency queries skip the backend
	Cache bool `yaml:"cache,omitempty" mapstructure:"cache"`
}

// LogConfig controls log output
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups,omitempty" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" mapstructure:"max_age_days"`
}

// Load reads the configuration from configFile, or from the default search
// paths when configFile is empty. A missing file in the search paths yields
// the defaults; values present in the file override them field by field.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "quotawatch"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := DefaultConfig()

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)

	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to configFile, or to the default location
// when configFile is empty. The file may hold credentials, so it is written
// owner-readable only.
func Save(cfg *Config, configFile string) error {
	path := configFile
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultPath returns the default configuration file location
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "quotawatch", "config.yaml")
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	return &Config{
		Settings: SettingsConfig{
			RefreshInterval: 5 * time.Minute,
			ProbeTimeout:    60 * time.Second,
			APIAddr:         "127.0.0.1:8787",
		},
		Providers: map[string]ProviderConfig{
			"claude":  {Enabled: true},
			"codex":   {Enabled: true},
			"minimax": {Enabled: false},
		},
		History: HistoryConfig{
			Backend: "none",
			Keep:    500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) clone() Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for id, p := range c.Providers {
		cp := p
		if p.Options != nil {
			cp.Options = make(map[string]string, len(p.Options))
			for k, v := range p.Options {
				cp.Options[k] = v
			}
		}
		out.Providers[id] = cp
	}
	if c.Secrets != nil {
		out.Secrets = make(map[string]string, len(c.Secrets))
		for k, v := range c.Secrets {
			out.Secrets[k] = v
		}
	}
	return out
}
