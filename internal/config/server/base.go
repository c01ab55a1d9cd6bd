package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig      `mapstructure:"log"      yaml:"log"`
	Metadata MetadataServerConfig `mapstructure:"metadata" yaml:"metadata"`
	Archive  ArchiveServerConfig  `mapstructure:"archive"  yaml:"archive"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every configuration problem at once.
func (cfg *BaseServerConfig) Validate() error {
	var errs []error

	if cfg.ShutdownTimeout != "" {
		if _, err := ParseDuration(cfg.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
		}
	}

	if err := cfg.Log.Validate(); err != nil {
		errs = append(errs, err)
	}

	if !strings.EqualFold(cfg.Metadata.Type, "sqlite") {
		errs = append(errs, fmt.Errorf("metadata.type: unsupported store type '%s'", cfg.Metadata.Type))
	}
	if cfg.Metadata.SQLite.Path == "" {
		errs = append(errs, errors.New("metadata.sqlite.path is required"))
	}

	if err := cfg.Archive.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
