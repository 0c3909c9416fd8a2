package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusThresholds(t *testing.T) {
	cases := []struct {
		available, total int
		want              Status
	}{
		{0, 0, StatusExhausted},
		{0, 5, StatusExhausted},
		{1, 10, StatusCritical},  // 0.1 < 0.2
		{1, 5, StatusDegraded},   // 0.2 <= 0.2 < 0.5... actually 0.2 is boundary
		{2, 5, StatusDegraded},   // 0.4 < 0.5
		{3, 5, StatusHealthy},    // 0.6 >= 0.5
		{5, 5, StatusHealthy},
	}
	for _, c := range cases {
		got := statusFor(c.available, c.total)
		assert.Equal(t, c.want, got, "available=%d total=%d", c.available, c.total)
	}
}

func TestComputeEffectiveTotals(t *testing.T) {
	now := time.Now()
	keys := []KeySnapshot{
		{ID: "a", Available: true, RPS: 10, RPSConfigured: true, QuotaBounded: true, QuotaLimit: 100, QuotaUsed: 20},
		{ID: "b", Available: false, RPS: 5, RPSConfigured: true, QuotaBounded: true, QuotaLimit: 50, QuotaUsed: 50},
	}
	snap := Compute(keys, now)

	assert.Equal(t, 1, snap.AvailableKeys)
	assert.Equal(t, 2, snap.TotalKeys)
	assert.Equal(t, 10.0, snap.EffectiveRPS)
	assert.Equal(t, 150, snap.EffectiveQuotaTotal)
	assert.Equal(t, 80, snap.EffectiveQuotaRemaining)
}

func TestWarningsFired(t *testing.T) {
	now := time.Now()
	keys := []KeySnapshot{
		{ID: "a", QuotaBounded: true, QuotaLimit: 10, QuotaUsed: 9, WarningThreshold: 0.8},
		{ID: "b", QuotaBounded: true, QuotaLimit: 10, QuotaUsed: 10},
		{ID: "c", RateLimitedUntil: now.Add(5 * time.Second)},
		{ID: "d", CircuitOpen: true, CircuitOpenUntil: now.Add(30 * time.Second)},
	}
	snap := Compute(keys, now)

	byKey := map[string]WarningCategory{}
	for _, w := range snap.Warnings {
		byKey[w.KeyID] = w.Category
	}
	assert.Equal(t, WarningQuotaWarning, byKey["a"])
	assert.Equal(t, WarningQuotaExhausted, byKey["b"])
	assert.Equal(t, WarningRateLimited, byKey["c"])
	assert.Equal(t, WarningCircuitOpen, byKey["d"])
}
