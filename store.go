package keyrot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gblikas/keyrot/internal/storage"
)

// Store persists quota usage across restarts. A Pool's default Store is
// an in-memory backend with no persistence.
type Store = storage.Store

// StorageConfig selects and configures a Store backend for NewStorage.
type StorageConfig = storage.Config

// Storage backend names accepted by StorageConfig.Backend.
const (
	StorageMemory    = storage.BackendMemory
	StorageRistretto = storage.BackendRistretto
	StorageDisk      = storage.BackendDisk
)

// NewStorage builds a Store for the given StorageConfig. An empty Backend
// defaults to StorageMemory.
func NewStorage(ctx context.Context, cfg StorageConfig, log zerolog.Logger) (Store, error) {
	return storage.New(ctx, cfg, log)
}
