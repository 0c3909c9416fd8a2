package keyrot

import (
	"time"

	"github.com/gblikas/keyrot/internal/health"
)

// KeyStats is a point-in-time snapshot of one key's state, returned by
// GetKeyStats and GetAllKeyStats.
type KeyStats struct {
	ID        string
	Available bool
	Weight    int

	RPS             float64
	RPSConfigured   bool
	TokensAvailable float64

	QuotaKind        QuotaKind
	QuotaLimit       int
	QuotaUsed        int
	QuotaRemaining   int // -1 when QuotaKind is QuotaUnlimited
	QuotaPeriodStart time.Time

	RateLimitedUntil time.Time

	CircuitState        string
	CircuitOpenUntil    time.Time
	ConsecutiveFailures int

	LastUsed time.Time
}

// HealthStatus is the coarse pool-wide health classification returned by
// GetHealth.
type HealthStatus = health.Status

// Pool-wide health statuses, in ascending order of availability.
const (
	HealthExhausted = health.StatusExhausted
	HealthCritical  = health.StatusCritical
	HealthDegraded  = health.StatusDegraded
	HealthHealthy   = health.StatusHealthy
)

// HealthWarningCategory identifies the kind of per-key condition a
// HealthWarning reports.
type HealthWarningCategory = health.WarningCategory

// HealthWarning is one per-key condition surfaced in a HealthSnapshot.
type HealthWarning = health.Warning

// HealthSnapshot is the pool-wide aggregate returned by GetHealth.
type HealthSnapshot = health.Snapshot
