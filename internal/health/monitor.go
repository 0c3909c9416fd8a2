// Package health aggregates per-key state into a pool-wide availability
// snapshot and per-key warnings, on demand.
package health

import (
	"time"

	"github.com/samber/lo"
)

// Status is the coarse pool-wide health classification.
type Status string

// Status values, in ascending order of availability.
const (
	StatusExhausted Status = "exhausted"
	StatusCritical  Status = "critical"
	StatusDegraded  Status = "degraded"
	StatusHealthy   Status = "healthy"
)

// WarningCategory identifies the kind of per-key condition a Warning
// reports.
type WarningCategory string

// Warning categories.
const (
	WarningQuotaWarning   WarningCategory = "quota_warning"
	WarningQuotaExhausted WarningCategory = "quota_exhausted"
	WarningRateLimited    WarningCategory = "rate_limited"
	WarningCircuitOpen    WarningCategory = "circuit_open"
)

// Warning is one per-key condition surfaced in a Snapshot.
type Warning struct {
	KeyID    string
	Category WarningCategory
	Message  string
}

// KeySnapshot is the caller-built view of one key's state that the
// monitor aggregates over. It carries only what's needed for §4.7's
// computations, decoupling this package from the concrete KeyState type.
type KeySnapshot struct {
	ID               string
	Available        bool
	RPS              float64
	RPSConfigured    bool
	QuotaBounded     bool
	QuotaLimit       int
	QuotaUsed        int
	WarningThreshold float64
	RateLimitedUntil time.Time
	CircuitOpen      bool
	CircuitOpenUntil time.Time
}

// Snapshot is the pool-wide aggregate computed by Compute.
type Snapshot struct {
	Status                  Status
	AvailableKeys           int
	TotalKeys               int
	EffectiveRPS            float64
	EffectiveQuotaTotal     int
	EffectiveQuotaRemaining int
	Warnings                []Warning
}

// Compute builds a Snapshot from the current per-key snapshots.
func Compute(keys []KeySnapshot, now time.Time) Snapshot {
	total := len(keys)
	available := lo.CountBy(keys, func(k KeySnapshot) bool { return k.Available })

	snap := Snapshot{
		AvailableKeys: available,
		TotalKeys:     total,
		Status:        statusFor(available, total),
	}

	snap.EffectiveRPS = lo.SumBy(lo.Filter(keys, func(k KeySnapshot, _ int) bool {
		return k.Available && k.RPSConfigured
	}), func(k KeySnapshot) float64 { return k.RPS })

	snap.EffectiveQuotaTotal = lo.SumBy(lo.Filter(keys, func(k KeySnapshot, _ int) bool {
		return k.QuotaBounded
	}), func(k KeySnapshot) int { return k.QuotaLimit })

	snap.EffectiveQuotaRemaining = lo.SumBy(lo.Filter(keys, func(k KeySnapshot, _ int) bool {
		return k.Available && k.QuotaBounded
	}), func(k KeySnapshot) int {
		r := k.QuotaLimit - k.QuotaUsed
		if r < 0 {
			return 0
		}
		return r
	})

	for _, k := range keys {
		snap.Warnings = append(snap.Warnings, warningsFor(k, now)...)
	}

	return snap
}

func statusFor(available, total int) Status {
	if total == 0 || available == 0 {
		return StatusExhausted
	}
	ratio := float64(available) / float64(total)
	switch {
	case ratio < 0.2:
		return StatusCritical
	case ratio < 0.5:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

func warningsFor(k KeySnapshot, now time.Time) []Warning {
	var out []Warning

	if k.QuotaBounded && k.QuotaLimit > 0 {
		usage := float64(k.QuotaUsed) / float64(k.QuotaLimit)
		switch {
		case usage >= 1:
			out = append(out, Warning{KeyID: k.ID, Category: WarningQuotaExhausted,
				Message: "quota exhausted"})
		case k.WarningThreshold > 0 && usage >= k.WarningThreshold:
			out = append(out, Warning{KeyID: k.ID, Category: WarningQuotaWarning,
				Message: "quota usage above warning threshold"})
		}
	}

	if k.RateLimitedUntil.After(now) {
		remaining := k.RateLimitedUntil.Sub(now).Round(time.Second)
		out = append(out, Warning{KeyID: k.ID, Category: WarningRateLimited,
			Message: "rate limited for " + remaining.String()})
	}

	if k.CircuitOpen {
		remaining := k.CircuitOpenUntil.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Warning{KeyID: k.ID, Category: WarningCircuitOpen,
			Message: "circuit open, resets in " + remaining.Round(time.Second).String()})
	}

	return out
}
