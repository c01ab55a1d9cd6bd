package server

import (
	"fmt"
	"strings"
)

// LogServerConfig configures the process logger. File output is rotated
// according to Rotation.
type LogServerConfig struct {
	Level      string                  `mapstructure:"level"       yaml:"level"`
	TimeFormat string                  `mapstructure:"time_format" yaml:"time_format"`
	File       string                  `mapstructure:"file"        yaml:"file"`
	NoColor    bool                    `mapstructure:"no_color"    yaml:"no_color"`
	JSON       bool                    `mapstructure:"json"        yaml:"json"`
	NoTerminal bool                    `mapstructure:"no_terminal" yaml:"no_terminal"`
	Rotation   LogServerRotationConfig `mapstructure:"rotation"    yaml:"rotation"`
}

// LogServerRotationConfig uses megabytes for MaxSize and days for MaxAge.
type LogServerRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"     yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"      yaml:"max_age"`
	Compress   bool `mapstructure:"compress"     yaml:"compress"`
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal"}

func (cfg LogServerConfig) Validate() error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	valid := level == ""
	for _, l := range logLevels {
		if level == l {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("log.level: unknown level '%s'", cfg.Level)
	}

	if cfg.NoTerminal && cfg.File == "" {
		return fmt.Errorf("log.no_terminal requires log.file")
	}
	if cfg.Rotation.MaxSize < 0 || cfg.Rotation.MaxBackups < 0 || cfg.Rotation.MaxAge < 0 {
		return fmt.Errorf("log.rotation values must not be negative")
	}
	return nil
}
