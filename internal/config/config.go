// Package config loads labeltree settings from flags, LABELTREE_* environment
// variables and an optional labeltree.yaml file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the runtime settings
type Config struct {
	Database Database `mapstructure:"database"`
	Log      Log      `mapstructure:"log"`
	Server   Server   `mapstructure:"server"`
}

// Database selects the store backend
type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Log configures the process logger
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server configures the HTTP API
type Server struct {
	Addr string `mapstructure:"addr"`
}

// flag name -> config key
var flagKeys = map[string]string{
	"driver":     "database.driver",
	"db":         "database.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
}

// DefaultDSN returns the default SQLite database location
func DefaultDSN() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".labeltree", "labeltree.db")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", DefaultDSN())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")
}

// Load reads configuration into a Config. Flags present in flags and listed
// in flagKeys override environment and file values.
func Load(v *viper.Viper, flags *pflag.FlagSet) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("labeltree")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	v.SetConfigName("labeltree")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".labeltree"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
