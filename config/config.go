// Package config loads the service configuration.
package config

import (
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

// Config is the service configuration, loaded from a JSON file in the
// plugin manifest layout.
type Config struct {
	Name       string     `mapstructure:"name" json:"name"`
	ID         string     `mapstructure:"id" json:"id"`
	Connection Connection `mapstructure:"connection" json:"connection"`
	Log        Log        `mapstructure:"log" json:"log"`
	Reader     Reader     `mapstructure:"reader" json:"reader"`
}

// Reader tunes the PLTX readers the service opens.
type Reader struct {
	// IOLimitBytesPerSec throttles physical reads per opened file.
	// 0 means unlimited.
	IOLimitBytesPerSec int `mapstructure:"io_limit_bytes_per_sec" json:"io_limit_bytes_per_sec"`
}

// Connection is the listen address. Port 0 binds an ephemeral port; the
// server patches the actual port back after binding.
type Connection struct {
	IP   string `mapstructure:"ip" json:"ip"`
	Port int    `mapstructure:"port" json:"port"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Name:       "pltxd",
		Connection: Connection{IP: "127.0.0.1", Port: 0},
		Log:        Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path. Missing fields fall back
// to defaults; a missing or unparsable file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("name", "pltxd")
	v.SetDefault("connection.ip", "127.0.0.1")
	v.SetDefault("connection.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Addr returns the configured listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Connection.IP, c.Connection.Port)
}

// SlogLevel maps the configured level onto slog. Unknown levels fall
// back to info.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
