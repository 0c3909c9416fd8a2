package di

import (
	"fmt"

	"github.com/samber/do/v2"

	"github.com/gblikas/keyrot/internal/configfile"
)

// ConfigService wraps the loaded and validated configuration file.
type ConfigService struct {
	File *configfile.File
	Path string
}

// NewConfig loads and validates the config file at the injected path.
func NewConfig(i do.Injector) (*ConfigService, error) {
	path := do.MustInvokeNamed[string](i, ConfigPathKey)

	f, err := configfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("keyrotctl: failed to load config from %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("keyrotctl: invalid config at %s: %w", path, err)
	}

	return &ConfigService{File: f, Path: path}, nil
}
