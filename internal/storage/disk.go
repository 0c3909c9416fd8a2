package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// diskStore persists records as a single JSON document on disk, rewritten
// atomically (temp file + rename) on every write. Point reads use gjson to
// avoid a full unmarshal; writes are built incrementally with sjson.
//
// Suited to small pools where quota records change infrequently; not
// intended for high-churn workloads.
type diskStore struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

// NewDisk returns a Store that persists records to a single JSON file at
// path, creating it (and its parent directory) if necessary.
func NewDisk(path string, log zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir for %s: %w", path, err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(`{"records":[]}`), 0o600); err != nil {
			return nil, fmt.Errorf("storage: init %s: %w", path, err)
		}
	}
	return &diskStore{path: path, log: log.With().Str("backend", "disk").Str("path", path).Logger()}, nil
}

func (d *diskStore) readDoc() (string, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return `{"records":[]}`, nil
		}
		return "", err
	}
	if !gjson.Valid(string(raw)) {
		return `{"records":[]}`, nil
	}
	return string(raw), nil
}

func (d *diskStore) writeDoc(doc string) error {
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *diskStore) Get(_ context.Context, key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.readDoc()
	if err != nil {
		return "", false, err
	}

	for _, rec := range gjson.Get(doc, "records").Array() {
		if rec.Get("key").String() != key {
			continue
		}
		if exp := rec.Get("expiresAt").String(); exp != "" {
			if t, perr := time.Parse(time.RFC3339, exp); perr == nil && time.Now().After(t) {
				return "", false, nil
			}
		}
		return rec.Get("value").String(), true, nil
	}
	return "", false, nil
}

func (d *diskStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.readDoc()
	if err != nil {
		return err
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	newDoc, err := rebuildWithout(doc, key)
	if err != nil {
		return err
	}
	idx := len(gjson.Get(newDoc, "records").Array())
	newDoc, _ = sjson.Set(newDoc, fmt.Sprintf("records.%d.key", idx), key)
	newDoc, _ = sjson.Set(newDoc, fmt.Sprintf("records.%d.value", idx), value)
	if !expiresAt.IsZero() {
		newDoc, _ = sjson.Set(newDoc, fmt.Sprintf("records.%d.expiresAt", idx), expiresAt.UTC().Format(time.RFC3339))
	}

	if err := d.writeDoc(newDoc); err != nil {
		return err
	}
	d.log.Debug().Str("key", key).Dur("ttl", ttl).Msg("persisted quota record")
	return nil
}

func (d *diskStore) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.readDoc()
	if err != nil {
		return err
	}
	newDoc, err := rebuildWithout(doc, key)
	if err != nil {
		return err
	}
	return d.writeDoc(newDoc)
}

func (d *diskStore) Close() error { return nil }

// rebuildWithout returns a fresh "{"records":[...]}" document containing
// every record from doc except the one with the given key.
func rebuildWithout(doc, key string) (string, error) {
	out := `{"records":[]}`
	idx := 0
	for _, rec := range gjson.Get(doc, "records").Array() {
		k := rec.Get("key").String()
		if k == key {
			continue
		}
		var err error
		out, err = sjson.Set(out, fmt.Sprintf("records.%d.key", idx), k)
		if err != nil {
			return "", err
		}
		out, _ = sjson.Set(out, fmt.Sprintf("records.%d.value", idx), rec.Get("value").String())
		if exp := rec.Get("expiresAt").String(); exp != "" {
			out, _ = sjson.Set(out, fmt.Sprintf("records.%d.expiresAt", idx), exp)
		}
		idx++
	}
	return out, nil
}
