package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"
)

// RistrettoConfig configures the ristretto-backed Store.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultRistrettoConfig is a reasonable default for a quota-record cache
// of a few thousand keys.
var DefaultRistrettoConfig = RistrettoConfig{
	NumCounters: 1e5,
	MaxCost:     1 << 20,
	BufferItems: 64,
}

type ristrettoStore struct {
	cache  *ristretto.Cache[string, string]
	log    zerolog.Logger
	closed atomic.Bool
}

// NewRistretto returns a Store backed by dgraph-io/ristretto, recommended
// for pools with many keys where quota-record churn benefits from
// ristretto's cost-based admission policy.
func NewRistretto(cfg RistrettoConfig, log zerolog.Logger) (Store, error) {
	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = DefaultRistrettoConfig.BufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &ristrettoStore{
		cache: cache,
		log:   log.With().Str("backend", "ristretto").Logger(),
	}, nil
}

func (r *ristrettoStore) Get(_ context.Context, key string) (string, bool, error) {
	if r.closed.Load() {
		return "", false, ErrClosed
	}
	value, found := r.cache.Get(key)
	return value, found, nil
}

func (r *ristrettoStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}
	cost := int64(len(value))
	if ttl > 0 {
		r.cache.SetWithTTL(key, value, cost, ttl)
	} else {
		r.cache.Set(key, value, cost)
	}
	return nil
}

func (r *ristrettoStore) Delete(_ context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	r.cache.Del(key)
	return nil
}

func (r *ristrettoStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.cache.Wait()
	r.cache.Close()
	return nil
}
