package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testBackends(t *testing.T) map[string]Store {
	t.Helper()
	mem := NewMemory(testLogger())

	disk, err := NewDisk(filepath.Join(t.TempDir(), "quota.json"), testLogger())
	require.NoError(t, err)

	return map[string]Store{
		"memory": mem,
		"disk":   disk,
	}
}

func TestGetMissingKeyIsNotFoundNotError(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := store.Get(context.Background(), "quota:missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "quota:key-1", `{"quotaUsed":5}`, 0))

			value, ok, err := store.Get(ctx, "quota:key-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `{"quotaUsed":5}`, value)
		})
	}
}

func TestSetOverwritesExistingKey(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "quota:key-1", "v1", 0))
			require.NoError(t, store.Set(ctx, "quota:key-1", "v2", 0))

			value, ok, err := store.Get(ctx, "quota:key-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "v2", value)
		})
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "quota:key-1", "v1", 0))
			require.NoError(t, store.Delete(ctx, "quota:key-1"))

			_, ok, err := store.Get(ctx, "quota:key-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDeleteAbsentKeyIsNotAnError(t *testing.T) {
	for name, store := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, store.Delete(context.Background(), "quota:never-existed"))
		})
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(testLogger())

	require.NoError(t, store.Set(ctx, "quota:key-1", "v1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := store.Get(ctx, "quota:key-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	store, err := New(context.Background(), Config{}, testLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(context.Background(), "quota:key-1", "v1", 0))
	_, ok, err := store.Get(context.Background(), "quota:key-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactoryUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "nope"}, testLogger())
	assert.Error(t, err)
}
