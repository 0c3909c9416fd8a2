package keyrot

import (
	"sync"
	"time"

	"github.com/gblikas/keyrot/internal/circuit"
	"github.com/gblikas/keyrot/internal/health"
	"github.com/gblikas/keyrot/internal/quota"
	"github.com/gblikas/keyrot/internal/ratelimit"
	"github.com/gblikas/keyrot/internal/selector"
)

// defaultRateLimitBackoff is used when a provider response indicates a
// rate limit but supplies no retry-after hint.
const defaultRateLimitBackoff = 60 * time.Second

// KeyState is the mutable side of a registered key: its token bucket,
// quota accounting, and circuit breaker. Every mutation is made under a
// single per-key mutex, so these otherwise-independent sub-components
// stay consistent with each other without nested locking.
type KeyState struct {
	mu sync.Mutex

	cfg KeyConfig

	quotaCfg quota.Config
	quotaSt  quota.State

	bucketCfg ratelimit.Config
	bucket    ratelimit.Bucket

	circuitSt circuit.CircuitState

	pendingDone func(error)

	rateLimitedUntil time.Time
	lastUsed         time.Time
}

func newKeyState(cfg KeyConfig, circuitCfg circuit.Config, warningThreshold float64, now time.Time) *KeyState {
	quotaCfg := quota.Config{Kind: cfg.QuotaKind, Limit: cfg.QuotaLimit, WarningThreshold: warningThreshold}
	bucketCfg := ratelimit.Config{RPS: cfg.RPS, Configured: cfg.RPS > 0}
	return &KeyState{
		cfg:       cfg,
		quotaCfg:  quotaCfg,
		quotaSt:   quota.NewState(now),
		bucketCfg: bucketCfg,
		bucket:    ratelimit.NewBucket(bucketCfg, now),
		circuitSt: circuit.NewCircuitState(circuitCfg),
	}
}

// categoryLocked assumes mu is held and quota rollover has already been
// applied for now.
func (k *KeyState) categoryLocked(now time.Time) selector.Category {
	if circuit.IsOpen(&k.circuitSt, now) {
		return selector.CategoryCircuitOpen
	}
	if !quota.HasQuota(k.quotaCfg, &k.quotaSt) {
		return selector.CategoryQuotaExhausted
	}
	if now.Before(k.rateLimitedUntil) {
		return selector.CategoryRateLimited
	}
	if !ratelimit.HasCapacity(k.bucketCfg, &k.bucket, now) {
		return selector.CategoryRateLimited
	}
	return selector.CategoryAvailable
}

// waitLocked assumes mu is held and estimates how long until this key
// next has a chance of being available.
func (k *KeyState) waitLocked(now time.Time) time.Duration {
	if circuit.IsOpen(&k.circuitSt, now) {
		return circuit.TimeUntilReset(&k.circuitSt, now)
	}
	if now.Before(k.rateLimitedUntil) {
		return k.rateLimitedUntil.Sub(now)
	}
	return ratelimit.TimeUntilNextToken(k.bucketCfg, &k.bucket, now)
}

// view builds the snapshot the selector picks from.
func (k *KeyState) view(now time.Time) selector.KeyView {
	k.mu.Lock()
	defer k.mu.Unlock()

	quota.Rollover(k.quotaCfg, &k.quotaSt, now)
	return selector.KeyView{
		ID:       k.cfg.ID,
		Weight:   k.cfg.effectiveWeight(),
		Category: k.categoryLocked(now),
		Wait:     k.waitLocked(now),
	}
}

// healthSnapshot builds the snapshot health.Compute aggregates over.
func (k *KeyState) healthSnapshot(now time.Time) health.KeySnapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	quota.Rollover(k.quotaCfg, &k.quotaSt, now)
	return health.KeySnapshot{
		ID:               k.cfg.ID,
		Available:        k.categoryLocked(now) == selector.CategoryAvailable,
		RPS:              k.bucketCfg.RPS,
		RPSConfigured:    k.bucketCfg.Configured,
		QuotaBounded:     k.quotaCfg.Kind.Bounded(),
		QuotaLimit:       k.quotaCfg.Limit,
		QuotaUsed:        k.quotaSt.Used,
		WarningThreshold: k.quotaCfg.WarningThreshold,
		RateLimitedUntil: k.rateLimitedUntil,
		CircuitOpen:      circuit.IsOpen(&k.circuitSt, now),
		CircuitOpenUntil: circuit.OpenUntil(&k.circuitSt),
	}
}

// tryReserve attempts to claim one unit of capacity for a dispatch
// attempt: a closed (or half-open-probing) circuit, remaining quota, and
// a token in the bucket. It mutates the bucket on success and stashes
// the circuit breaker's completion callback for whichever of
// recordSuccess, recordError, or recordRateLimited concludes this
// attempt.
func (k *KeyState) tryReserve(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	done, ok := circuit.TryReserve(&k.circuitSt, now)
	if !ok {
		return false
	}
	quota.Rollover(k.quotaCfg, &k.quotaSt, now)
	if !quota.HasQuota(k.quotaCfg, &k.quotaSt) {
		done(nil)
		return false
	}
	if now.Before(k.rateLimitedUntil) {
		done(nil)
		return false
	}
	if !ratelimit.TryConsume(k.bucketCfg, &k.bucket, now) {
		done(nil)
		return false
	}
	k.pendingDone = done
	return true
}

// recordSuccess accounts a completed request: closes up the circuit's
// failure count, increments quota usage, clears any rate-limit window,
// and advances lastUsed.
func (k *KeyState) recordSuccess(now time.Time, quotaRemaining int, hasQuotaRemaining bool) quota.IncrementResult {
	k.mu.Lock()
	defer k.mu.Unlock()

	circuit.RecordSuccess(k.pendingDone)
	k.pendingDone = nil
	k.rateLimitedUntil = time.Time{}
	k.lastUsed = now
	result := quota.Increment(k.quotaCfg, &k.quotaSt, 1, now)
	if hasQuotaRemaining {
		quota.SyncFromResponse(k.quotaCfg, &k.quotaSt, quotaRemaining)
	}
	return result
}

// recordError accounts a failed (non-rate-limit) request against the
// circuit breaker. Returns true the moment this failure opens it.
func (k *KeyState) recordError(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	before := circuit.Observe(&k.circuitSt, now)
	circuit.RecordFailure(k.pendingDone)
	k.pendingDone = nil
	after := circuit.Observe(&k.circuitSt, now)
	return before != circuit.StateOpen && after == circuit.StateOpen
}

// recordRateLimited marks the key unavailable until now+backoff, using
// the provider's retry-after hint when present. A rate limit is neither
// a circuit success nor a circuit failure, so the pending reservation is
// abandoned rather than resolved either way: calling done(nil) would
// reset gobreaker's consecutive-failure count, silently erasing progress
// toward the breaker's FailureThreshold on every interleaved rate limit.
// The abandoned reservation can leave a half-open probe slot unresolved
// if the rate limit lands on the one attempt gobreaker let through while
// half-open; that risk is narrower than corrupting the much more common
// closed-state failure count.
func (k *KeyState) recordRateLimited(now time.Time, retryAfterSeconds int, hasRetryAfter bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.pendingDone = nil

	wait := defaultRateLimitBackoff
	if hasRetryAfter {
		wait = time.Duration(retryAfterSeconds) * time.Second
	}
	k.rateLimitedUntil = now.Add(wait)
}

func (k *KeyState) forceOpenCircuit(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	circuit.ForceOpen(&k.circuitSt, now)
}

func (k *KeyState) forceCloseCircuit() {
	k.mu.Lock()
	defer k.mu.Unlock()
	circuit.ForceClose(&k.circuitSt)
}

func (k *KeyState) resetQuota(now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	quota.Reset(&k.quotaSt, now)
}

func (k *KeyState) storageKey() string {
	return quota.StorageKey(k.cfg.ID)
}

func (k *KeyState) encodeQuota() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return quota.Encode(k.quotaSt)
}

func (k *KeyState) loadQuota(raw string) {
	st, ok := quota.Decode(raw)
	if !ok {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.quotaSt = st
}

func (k *KeyState) quotaTTL() time.Duration {
	return quota.TTL(k.quotaCfg)
}

// stats builds the public KeyStats snapshot for GetKeyStats.
func (k *KeyState) stats(now time.Time) KeyStats {
	k.mu.Lock()
	defer k.mu.Unlock()

	quota.Rollover(k.quotaCfg, &k.quotaSt, now)
	remaining, bounded := quota.Remaining(k.quotaCfg, &k.quotaSt)
	if !bounded {
		remaining = -1
	}
	return KeyStats{
		ID:                  k.cfg.ID,
		Available:           k.categoryLocked(now) == selector.CategoryAvailable,
		Weight:              k.cfg.effectiveWeight(),
		RPS:                 ratelimit.CurrentRPS(k.bucketCfg, &k.bucket, now),
		RPSConfigured:       k.bucketCfg.Configured,
		TokensAvailable:     ratelimit.TokensAvailable(k.bucketCfg, &k.bucket, now),
		QuotaKind:           k.quotaCfg.Kind,
		QuotaLimit:          k.quotaCfg.Limit,
		QuotaUsed:           k.quotaSt.Used,
		QuotaRemaining:      remaining,
		QuotaPeriodStart:    k.quotaSt.PeriodStart,
		RateLimitedUntil:    k.rateLimitedUntil,
		CircuitState:        circuit.CurrentState(&k.circuitSt, now).String(),
		CircuitOpenUntil:    circuit.OpenUntil(&k.circuitSt),
		ConsecutiveFailures: circuit.ConsecutiveFailures(&k.circuitSt),
		LastUsed:            k.lastUsed,
	}
}
