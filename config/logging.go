package config

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("unknown level %s", c.Level)
	}
	switch lvl {
	case zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel:
		return nil
	}
	return fmt.Errorf("unsupported level %s", c.Level)
}
