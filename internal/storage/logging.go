package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// loggingStore decorates a Store with debug/warn logging of operations,
// never logging values.
type loggingStore struct {
	inner Store
	log   zerolog.Logger
}

// WithLogging wraps a Store so every operation is logged at Debug, and
// failures at Warn.
func WithLogging(inner Store, log zerolog.Logger) Store {
	return &loggingStore{inner: inner, log: log}
}

func (s *loggingStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.inner.Get(ctx, key)
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("storage get failed")
	} else {
		s.log.Debug().Str("key", key).Bool("hit", ok).Msg("storage get")
	}
	return value, ok, err
}

func (s *loggingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.inner.Set(ctx, key, value, ttl)
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("storage set failed, dropping write")
	} else {
		s.log.Debug().Str("key", key).Dur("ttl", ttl).Msg("storage set")
	}
	return err
}

func (s *loggingStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("storage delete failed")
	} else {
		s.log.Debug().Str("key", key).Msg("storage delete")
	}
	return err
}

func (s *loggingStore) Close() error { return s.inner.Close() }
