package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by the factory.
const (
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
	BackendDisk      = "disk"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend   string
	DiskPath  string
	Ristretto RistrettoConfig
}

// New builds a Store for the configured backend, wrapped in a logging
// decorator. An empty Backend defaults to BackendMemory.
func New(_ context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}

	var (
		store Store
		err   error
	)
	switch backend {
	case BackendMemory:
		store = NewMemory(log)
	case BackendRistretto:
		rcfg := cfg.Ristretto
		if rcfg.NumCounters == 0 {
			rcfg = DefaultRistrettoConfig
		}
		store, err = NewRistretto(rcfg, log)
	case BackendDisk:
		if cfg.DiskPath == "" {
			return nil, fmt.Errorf("storage: disk backend requires DiskPath")
		}
		store, err = NewDisk(cfg.DiskPath, log)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	return WithLogging(store, log.With().Str("backend", backend).Logger()), nil
}
