package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum enabled level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format selects the encoder: "json" or "console".
	Format string `koanf:"format"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{"service": "ragstore"},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.level())); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch c.format() {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q (want json or console)", c.Format)
	}
	return nil
}

func (c Config) level() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

func (c Config) format() string {
	if c.Format == "" {
		return "json"
	}
	return c.Format
}
