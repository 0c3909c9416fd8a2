package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// memoryStore is the default Store backend: a mutex-guarded map with
// manual TTL sweeping on read. Always available, no external dependency.
type memoryStore struct {
	mu     sync.RWMutex
	data   map[string]memoryEntry
	log    zerolog.Logger
	closed atomic.Bool
}

// NewMemory returns a Store backed by an in-process map.
func NewMemory(log zerolog.Logger) Store {
	return &memoryStore{
		data: make(map[string]memoryEntry),
		log:  log.With().Str("backend", "memory").Logger(),
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, ErrClosed
	}

	s.mu.RLock()
	entry, found := s.data[key]
	s.mu.RUnlock()

	if !found {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = entry
	s.mu.Unlock()

	s.log.Debug().Str("key", key).Dur("ttl", ttl).Msg("stored quota record")
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
