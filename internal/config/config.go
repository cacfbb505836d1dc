package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// HistoryLimit caps the message history returned in a user's join
	// bootstrap. Zero means unlimited.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`

	// EventBuffer sizes the per-connection command/event channels.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DatabasePath:      "deskchat.db",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		HistoryLimit:      200,
		EventBuffer:       16,
	}
}
