package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reserveAndFail(t *testing.T, st *CircuitState, now time.Time) {
	t.Helper()
	done, ok := TryReserve(st, now)
	require.True(t, ok, "expected reservation to be allowed")
	RecordFailure(done)
}

func reserveAndSucceed(t *testing.T, st *CircuitState, now time.Time) {
	t.Helper()
	done, ok := TryReserve(st, now)
	require.True(t, ok, "expected reservation to be allowed")
	RecordSuccess(done)
}

func TestRecordFailureOpensAtThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, ResetTimeout: 30 * time.Second}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	assert.Equal(t, StateClosed, Observe(&st, now))
	reserveAndFail(t, &st, now)
	assert.Equal(t, StateClosed, Observe(&st, now))
	reserveAndFail(t, &st, now)

	assert.Equal(t, StateOpen, Observe(&st, now))
	assert.Equal(t, 3, ConsecutiveFailures(&st))
}

func TestOpenRejectsFurtherReservations(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 50 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	require.Equal(t, StateOpen, Observe(&st, now))

	_, ok := TryReserve(&st, now)
	assert.False(t, ok, "open circuit must reject a reservation")
}

func TestHalfOpenTransitionAfterResetTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	require.Equal(t, StateOpen, Observe(&st, now))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, Observe(&st, time.Now()))
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, Observe(&st, time.Now()))

	reserveAndSucceed(t, &st, time.Now())
	assert.Equal(t, StateClosed, Observe(&st, time.Now()))
	assert.Equal(t, 0, ConsecutiveFailures(&st))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, Observe(&st, time.Now()))

	reserveAndFail(t, &st, time.Now())
	assert.Equal(t, StateOpen, Observe(&st, time.Now()))
}

func TestForceOpenBlocksUntilDeadline(t *testing.T) {
	cfg := Config{FailureThreshold: 5, ResetTimeout: 10 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	ForceOpen(&st, now)
	assert.True(t, IsOpen(&st, now))

	_, ok := TryReserve(&st, now)
	assert.False(t, ok, "forced-open circuit must reject a reservation")

	later := now.Add(20 * time.Millisecond)
	assert.False(t, IsOpen(&st, later), "forced-open override must lazily expire")
}

func TestForceCloseAllowsOneReservationThenResumesBreaker(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: time.Minute}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	require.Equal(t, StateOpen, Observe(&st, now))

	ForceClose(&st)
	assert.Equal(t, StateClosed, Observe(&st, now))

	reserveAndFail(t, &st, now)
	assert.Equal(t, StateOpen, Observe(&st, now), "breaker resumes automatic tracking after the forced reservation")
}

func TestTimeUntilResetReflectsOpenDuration(t *testing.T) {
	cfg := Config{FailureThreshold: 1, ResetTimeout: 100 * time.Millisecond}
	st := NewCircuitState(cfg)
	now := time.Now()

	reserveAndFail(t, &st, now)
	require.Equal(t, StateOpen, Observe(&st, now))

	wait := TimeUntilReset(&st, time.Now())
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, cfg.ResetTimeout)
}
