// Package config loads runtime settings for the relhist CLI.
//
// Settings come from an optional YAML config file and RELHIST_* environment
// variables, with environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/relhist/internal/engine"
)

// EnvPrefix prefixes every environment override, e.g. RELHIST_DATABASE_DSN.
const EnvPrefix = "RELHIST"

// DatabaseConfig selects the history store.
type DatabaseConfig struct {
	// Driver is sqlite3 (mattn, cgo), sqlite (modernc, pure Go) or pgx.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full runtime configuration.
type Config struct {
	Database  DatabaseConfig `mapstructure:"database"`
	Mapping   string         `mapstructure:"mapping"`
	Log       LogConfig      `mapstructure:"log"`
	CacheSize int            `mapstructure:"cache_size"`
}

var keys = []string{
	"database.driver",
	"database.dsn",
	"mapping",
	"log.level",
	"log.format",
	"cache_size",
}

// Load reads configuration. When configFile is empty, relhist.yaml is
// searched in the working directory and its absence is not an error; an
// explicit configFile must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "relhist.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cache_size", engine.DefaultCacheSize)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("relhist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "pgx":
	default:
		return fmt.Errorf("config: database.driver %q (want sqlite3, sqlite or pgx)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is empty")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("config: cache_size %d is negative", c.CacheSize)
	}
	return nil
}
