// Package configfile loads a Pool's configuration from a YAML or TOML
// file on disk, validates it, and can watch the file for changes so a
// running Pool can be reconfigured without a restart.
package configfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
	"gopkg.in/yaml.v3"

	"github.com/gblikas/keyrot"
)

// KeyFile is the on-disk representation of a keyrot.KeyConfig.
//
//nolint:govet // field order chosen for readability, not alignment
type KeyFile struct {
	ID         string  `yaml:"id" toml:"id"`
	Value      string  `yaml:"value" toml:"value"`           // supports ${ENV_VAR} expansion
	QuotaKind  string  `yaml:"quota_kind" toml:"quota_kind"` // unlimited (default), monthly, yearly, total
	QuotaLimit int     `yaml:"quota_limit" toml:"quota_limit"`
	RPS        float64 `yaml:"rps" toml:"rps"`
	Weight     int     `yaml:"weight" toml:"weight"`
}

// GetWeightOption returns the configured weight as an Option, None when
// unset so the caller can fall back to keyrot's default of 1.
func (k *KeyFile) GetWeightOption() mo.Option[int] {
	if k.Weight <= 0 {
		return mo.None[int]()
	}
	return mo.Some(k.Weight)
}

// GetRPSOption returns the configured per-key rate limit as an Option,
// None when the key is meant to run unbounded.
func (k *KeyFile) GetRPSOption() mo.Option[float64] {
	if k.RPS <= 0 {
		return mo.None[float64]()
	}
	return mo.Some(k.RPS)
}

// StorageFile configures the Pool's persistence backend.
type StorageFile struct {
	Backend string `yaml:"backend" toml:"backend"` // memory (default), ristretto, disk
	Path    string `yaml:"path" toml:"path"`       // disk backend only
}

// File is the on-disk representation of a Pool's configuration.
//
//nolint:govet // field order chosen for readability, not alignment
type File struct {
	Keys             []KeyFile   `yaml:"keys" toml:"keys"`
	MaxQueueSize     int         `yaml:"max_queue_size" toml:"max_queue_size"`
	DefaultMaxWaitMS int         `yaml:"default_max_wait_ms" toml:"default_max_wait_ms"`
	MaxRetries       int         `yaml:"max_retries" toml:"max_retries"`
	FailureThreshold int         `yaml:"failure_threshold" toml:"failure_threshold"`
	ResetTimeoutMS   int         `yaml:"reset_timeout_ms" toml:"reset_timeout_ms"`
	WarningThreshold float64     `yaml:"warning_threshold" toml:"warning_threshold"`
	Storage          StorageFile `yaml:"storage" toml:"storage"`
}

// GetDefaultMaxWaitOption returns the configured queue wait deadline as
// an Option, None when unset so the Pool falls back to its own default.
func (f *File) GetDefaultMaxWaitOption() mo.Option[time.Duration] {
	if f.DefaultMaxWaitMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(f.DefaultMaxWaitMS) * time.Millisecond)
}

// GetResetTimeoutOption returns the configured circuit reset timeout as
// an Option, None when unset.
func (f *File) GetResetTimeoutOption() mo.Option[time.Duration] {
	if f.ResetTimeoutMS <= 0 {
		return mo.None[time.Duration]()
	}
	return mo.Some(time.Duration(f.ResetTimeoutMS) * time.Millisecond)
}

// quotaKinds maps the file's quota_kind strings to keyrot.QuotaKind.
var quotaKinds = map[string]keyrot.QuotaKind{
	"":          keyrot.QuotaUnlimited,
	"unlimited": keyrot.QuotaUnlimited,
	"monthly":   keyrot.QuotaMonthly,
	"yearly":    keyrot.QuotaYearly,
	"total":     keyrot.QuotaTotal,
}

// Load reads and parses a configuration file, dispatching on its
// extension (.yaml/.yml or .toml). Environment variables (${VAR_NAME} or
// $VAR_NAME) are expanded anywhere in the file before parsing.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configfile: failed to read %s: %w", path, err)
	}
	return parse(raw, path)
}

// LoadFromReader reads and parses a configuration file from r, using ext
// (".yaml", ".yml", or ".toml") to pick the decoder.
func LoadFromReader(r io.Reader, ext string) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("configfile: failed to read config: %w", err)
	}
	return parse(raw, "config"+ext)
}

func parse(raw []byte, path string) (*File, error) {
	expanded := os.ExpandEnv(string(raw))

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), &f); err != nil {
			return nil, fmt.Errorf("configfile: failed to parse TOML: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
			return nil, fmt.Errorf("configfile: failed to parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("configfile: unsupported config extension %q", filepath.Ext(path))
	}
	return &f, nil
}

// ToPoolConfig converts a parsed File into a keyrot.Config, ready to
// pass to keyrot.NewPool. It does not set Hooks, Logger, or Storage —
// callers wire those in themselves since they carry live objects a file
// can't express.
func (f *File) ToPoolConfig() keyrot.Config {
	keys := make([]keyrot.KeyConfig, len(f.Keys))
	for i, k := range f.Keys {
		keys[i] = keyrot.KeyConfig{
			ID:         k.ID,
			Value:      k.Value,
			QuotaKind:  quotaKinds[strings.ToLower(k.QuotaKind)],
			QuotaLimit: k.QuotaLimit,
			RPS:        k.RPS,
			Weight:     k.Weight,
		}
	}

	cfg := keyrot.Config{
		Keys:             keys,
		MaxQueueSize:     f.MaxQueueSize,
		MaxRetries:       f.MaxRetries,
		FailureThreshold: f.FailureThreshold,
		WarningThreshold: f.WarningThreshold,
	}
	if opt := f.GetDefaultMaxWaitOption(); opt.IsPresent() {
		cfg.DefaultMaxWait = opt.MustGet()
	}
	if opt := f.GetResetTimeoutOption(); opt.IsPresent() {
		cfg.ResetTimeout = opt.MustGet()
	}
	return cfg
}

// NewStorage builds the Store described by f.Storage.
func (f *File) NewStorage(ctx context.Context, log zerolog.Logger) (keyrot.Store, error) {
	return keyrot.NewStorage(ctx, keyrot.StorageConfig{
		Backend:  f.Storage.Backend,
		DiskPath: f.Storage.Path,
	}, log)
}
