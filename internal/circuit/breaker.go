// Package circuit implements a per-key circuit breaker, delegating the
// closed/open/half-open state machine to sony/gobreaker's two-step
// breaker instead of hand-rolling failure counting and timeout tracking.
package circuit

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State is the circuit breaker's closed/open/half-open state.
type State = gobreaker.State

// Circuit breaker state constants, re-exported from gobreaker so callers
// never need to import it directly.
const (
	StateClosed   = gobreaker.StateClosed
	StateOpen     = gobreaker.StateOpen
	StateHalfOpen = gobreaker.StateHalfOpen
)

// Config defines circuit breaker behavior for a single key.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// ResetTimeout is the duration the circuit stays open before becoming half-open.
	ResetTimeout time.Duration
}

// errRecordedFailure is the non-nil error fed to gobreaker's two-step
// completion callback to mark an attempt failed; its text is never
// surfaced to a caller.
var errRecordedFailure = errors.New("circuit: recorded failure")

type override int

const (
	overrideNone override = iota
	overrideOpen
	overrideClosed
)

// circuitInternal is the state shared by every copy of a CircuitState
// value. gobreaker.Settings binds ReadyToTrip and OnStateChange to
// specific closure variables at construction time, so CircuitState holds
// a pointer to this rather than the fields directly, keeping every copy
// of a CircuitState value pointed at the same breaker.
type circuitInternal struct {
	cfg       Config
	cb        *gobreaker.TwoStepCircuitBreaker[struct{}]
	openUntil time.Time
	failures  int
	override  override
}

// CircuitState holds a key's circuit breaker. It carries no lock of its
// own; callers serialize access per key, the same as the rate limiter
// and quota tracker it sits alongside in KeyState. gobreaker's own
// internal locking is therefore redundant but harmless.
type CircuitState struct {
	in *circuitInternal
}

// NewCircuitState builds a CircuitState backed by a gobreaker
// TwoStepCircuitBreaker whose trip threshold and open duration come
// from cfg.
func NewCircuitState(cfg Config) CircuitState {
	in := &circuitInternal{cfg: cfg}
	in.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			in.failures = int(counts.ConsecutiveFailures)
			return in.failures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			switch to {
			case gobreaker.StateOpen:
				in.openUntil = time.Now().Add(cfg.ResetTimeout)
			case gobreaker.StateClosed:
				in.failures = 0
				in.openUntil = time.Time{}
			default:
				in.openUntil = time.Time{}
			}
		},
	})
	return CircuitState{in: in}
}

func (c *CircuitState) state() State {
	switch c.in.override {
	case overrideOpen:
		return StateOpen
	case overrideClosed:
		return StateClosed
	default:
		return c.in.cb.State()
	}
}

// Observe applies the lazy expiry of an operator-forced open and returns
// the resulting state. It must be called before any read of st.
func Observe(st *CircuitState, now time.Time) State {
	if st.in.override == overrideOpen && !now.Before(st.in.openUntil) {
		st.in.override = overrideNone
	}
	return st.state()
}

// IsOpen reports whether the circuit currently blocks calls.
func IsOpen(st *CircuitState, now time.Time) bool {
	return Observe(st, now) == StateOpen
}

// TimeUntilReset returns how long until the circuit may move to
// half-open, or zero if it is not open.
func TimeUntilReset(st *CircuitState, now time.Time) time.Duration {
	if Observe(st, now) != StateOpen {
		return 0
	}
	if d := st.in.openUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// CurrentState returns the circuit's state for display, applying the
// same lazy expiry as Observe.
func CurrentState(st *CircuitState, now time.Time) State {
	return Observe(st, now)
}

// ConsecutiveFailures returns the failure count gobreaker is currently
// tracking toward FailureThreshold.
func ConsecutiveFailures(st *CircuitState) int {
	return st.in.failures
}

// OpenUntil returns the time the circuit is expected to move to
// half-open, or the zero time if it is not open.
func OpenUntil(st *CircuitState) time.Time {
	return st.in.openUntil
}

// TryReserve attempts to begin a call against the breaker. ok is false
// when the circuit is open and the call must not proceed. When ok is
// true, done records the call's outcome when passed to RecordSuccess or
// RecordFailure. A reservation may also be abandoned without calling
// done; no outcome is then recorded, and in the half-open state the
// abandoned call still counts against the breaker's probe allowance.
func TryReserve(st *CircuitState, now time.Time) (done func(err error), ok bool) {
	if st.in.override == overrideClosed {
		st.in.override = overrideNone
		return func(error) {}, true
	}
	if Observe(st, now) == StateOpen {
		return nil, false
	}
	d, err := st.in.cb.Allow()
	if err != nil {
		return nil, false
	}
	in := st.in
	return func(callErr error) {
		d(callErr)
		if callErr == nil && in.cb.State() == StateClosed {
			in.failures = 0
		}
	}, true
}

// RecordSuccess completes a reservation as successful.
func RecordSuccess(done func(error)) {
	if done != nil {
		done(nil)
	}
}

// RecordFailure completes a reservation as failed.
func RecordFailure(done func(error)) {
	if done != nil {
		done(errRecordedFailure)
	}
}

// ForceOpen sets the circuit open unconditionally until now+ResetTimeout,
// overriding the breaker's own state until that deadline passes.
// gobreaker exposes no public API to drive its state machine directly,
// so an operator-forced open is tracked alongside it rather than through
// it.
func ForceOpen(st *CircuitState, now time.Time) {
	st.in.override = overrideOpen
	st.in.openUntil = now.Add(st.in.cfg.ResetTimeout)
}

// ForceClose reports the circuit closed for the next reservation
// attempt, then hands control back to the breaker. Unlike ForceOpen,
// which holds until its deadline, this is a one-shot override: gobreaker
// has no public reset, so forcing an
// already-open breaker closed can only let the very next attempt through
// and allow the breaker's own accounting to resume from there.
func ForceClose(st *CircuitState) {
	st.in.override = overrideClosed
	st.in.openUntil = time.Time{}
}
