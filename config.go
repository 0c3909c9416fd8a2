package keyrot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gblikas/keyrot/internal/circuit"
	"github.com/gblikas/keyrot/internal/quota"
)

// QuotaKind identifies the accounting period for a key's quota.
type QuotaKind = quota.Kind

// Quota kinds accepted in a KeyConfig.
const (
	QuotaUnlimited = quota.KindUnlimited
	QuotaMonthly   = quota.KindMonthly
	QuotaYearly    = quota.KindYearly
	QuotaTotal     = quota.KindTotal
)

// KeyConfig describes one credential registered with a Pool. Once
// registered, a KeyConfig's fields are immutable; the mutable side of a
// key lives in its KeyState.
type KeyConfig struct {
	// ID is the key's unique public identifier.
	ID string
	// Value is the secret passed to the caller's request function. It is
	// never logged.
	Value string
	// QuotaKind selects the accounting period. QuotaUnlimited ignores
	// QuotaLimit.
	QuotaKind QuotaKind
	// QuotaLimit is the positive integer limit for bounded quota kinds.
	QuotaLimit int
	// RPS is the token bucket capacity and refill rate. Zero means the key
	// has no configured rate limit and is always at capacity.
	RPS float64
	// Weight controls this key's share of round-robin selections relative
	// to other keys. Zero defaults to 1.
	Weight int
}

func (c KeyConfig) validate() error {
	if c.ID == "" {
		return &InvalidKeyConfigError{KeyID: c.ID, Reason: "id must not be empty"}
	}
	if c.Value == "" {
		return &InvalidKeyConfigError{KeyID: c.ID, Reason: "value must not be empty"}
	}
	if c.QuotaKind.Bounded() && c.QuotaLimit <= 0 {
		return &InvalidKeyConfigError{KeyID: c.ID, Reason: "quota limit must be positive for a bounded quota kind"}
	}
	if c.RPS < 0 {
		return &InvalidKeyConfigError{KeyID: c.ID, Reason: "rps must be positive when set"}
	}
	if c.Weight < 0 {
		return &InvalidKeyConfigError{KeyID: c.ID, Reason: "weight must be positive when set"}
	}
	return nil
}

func (c KeyConfig) effectiveWeight() int {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// Config configures a Pool's behavior and collaborators.
type Config struct {
	// Keys is the initial key set. At least one key is required.
	Keys []KeyConfig

	// MaxQueueSize bounds pending requests. Defaults to 1000.
	MaxQueueSize int
	// DefaultMaxWait is the queue wait deadline used when Execute does not
	// override it. Defaults to 30s.
	DefaultMaxWait time.Duration
	// MaxRetries bounds attempts per request. Zero defaults to the number
	// of registered keys at dispatch time.
	MaxRetries int

	// FailureThreshold is consecutive failures before a circuit opens.
	// Defaults to 5.
	FailureThreshold int
	// ResetTimeout is how long a circuit stays open before probing.
	// Defaults to 30s.
	ResetTimeout time.Duration

	// WarningThreshold is the quota usage fraction that triggers
	// OnWarning. Defaults to 0.8.
	WarningThreshold float64

	// Hooks are optional observer callbacks.
	Hooks Hooks

	// Logger receives structured trace/lifecycle events. A nil Logger
	// disables logging.
	Logger *zerolog.Logger

	// Storage persists quota usage across process restarts. A nil Storage
	// defaults to an in-memory backend with no persistence.
	Storage Store
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 30 * time.Second
	defaultWarningThreshold = 0.8
)

func (c *Config) circuitConfig() circuit.Config {
	ft := c.FailureThreshold
	if ft <= 0 {
		ft = defaultFailureThreshold
	}
	rt := c.ResetTimeout
	if rt <= 0 {
		rt = defaultResetTimeout
	}
	return circuit.Config{FailureThreshold: ft, ResetTimeout: rt}
}

func (c *Config) warningThreshold() float64 {
	if c.WarningThreshold <= 0 {
		return defaultWarningThreshold
	}
	return c.WarningThreshold
}

func validateConfig(cfg Config) error {
	if len(cfg.Keys) == 0 {
		return ErrNoKeysConfigured
	}
	seen := make(map[string]bool, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if err := k.validate(); err != nil {
			return err
		}
		if seen[k.ID] {
			return &InvalidKeyConfigError{KeyID: k.ID, Reason: "duplicate key id"}
		}
		seen[k.ID] = true
	}
	return nil
}

func duplicateIDError(id string) error {
	return fmt.Errorf("keyrot: %w: id %q already registered", ErrInvalidKeyConfig, id)
}
