// Package config provides configuration infrastructure and Fx modules.
package config

import (
	"go.uber.org/fx"
)

// Flags carries the command line overrides.
type Flags struct {
	ConfigPath string
	Rooms      []string
	LogLevel   string
}

// Module provides configuration dependencies. It expects Flags to be supplied.
var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// NewConfig loads the file named by flags, applies the flag overrides and
// validates the result.
func NewConfig(flags Flags) (*Config, error) {
	cfg, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	if len(flags.Rooms) > 0 {
		cfg.Rooms = flags.Rooms
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
