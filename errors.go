package keyrot

import (
	"errors"
	"fmt"
)

// Sentinel errors identify the broad category of an Execute failure.
// Use errors.Is to test against them; use errors.As to recover the typed
// payload with the surrounding details.
var (
	// ErrQueueFull is returned when the pending-request queue is at
	// MaxQueueSize and cannot accept another job.
	ErrQueueFull = errors.New("keyrot: queue full")
	// ErrQueueTimeout is returned when a job waited in the queue longer
	// than its MaxWait without being dispatched.
	ErrQueueTimeout = errors.New("keyrot: queue wait timeout")
	// ErrAllKeysExhausted is returned when every registered key is
	// unavailable (circuit open, quota exhausted, or rate limited) at
	// dispatch time.
	ErrAllKeysExhausted = errors.New("keyrot: all keys exhausted")
	// ErrInvalidKeyConfig is returned when a KeyConfig fails validation.
	ErrInvalidKeyConfig = errors.New("keyrot: invalid key config")
	// ErrNoKeysConfigured is returned when a Pool is constructed, or left,
	// with zero registered keys.
	ErrNoKeysConfigured = errors.New("keyrot: no keys configured")
	// ErrShutdown is returned by Execute, ExecuteWithWait, and AddKey once
	// Shutdown has been invoked, and to every request still waiting in the
	// queue at that moment.
	ErrShutdown = errors.New("keyrot: pool is shut down")
)

// QueueFullError carries the queue depth at the moment an Execute call
// was rejected.
type QueueFullError struct {
	QueueSize    int
	MaxQueueSize int
	RetryAfterMs int64
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("keyrot: queue full (%d/%d), retry after %dms", e.QueueSize, e.MaxQueueSize, e.RetryAfterMs)
}

func (e *QueueFullError) Unwrap() error { return ErrQueueFull }

// QueueTimeoutError carries how long a job waited before its deadline
// expired.
type QueueTimeoutError struct {
	WaitedMs     int64
	QueueSize    int
	RetryAfterMs int64
}

func (e *QueueTimeoutError) Error() string {
	return fmt.Sprintf("keyrot: queue wait timed out after %dms, queue size %d", e.WaitedMs, e.QueueSize)
}

func (e *QueueTimeoutError) Unwrap() error { return ErrQueueTimeout }

// AllKeysExhaustedError breaks down why every key was unavailable.
type AllKeysExhaustedError struct {
	TotalKeys       int
	CircuitOpenKeys int
	QuotaExhausted  int
	RateLimited     int
	RetryAfterMs    int64
}

func (e *AllKeysExhaustedError) Error() string {
	return fmt.Sprintf(
		"keyrot: all %d keys exhausted (circuit open %d, quota exhausted %d, rate limited %d), retry after %dms",
		e.TotalKeys, e.CircuitOpenKeys, e.QuotaExhausted, e.RateLimited, e.RetryAfterMs,
	)
}

func (e *AllKeysExhaustedError) Unwrap() error { return ErrAllKeysExhausted }

// InvalidKeyConfigError names the key and reason a KeyConfig was
// rejected.
type InvalidKeyConfigError struct {
	KeyID  string
	Reason string
}

func (e *InvalidKeyConfigError) Error() string {
	return fmt.Sprintf("keyrot: invalid key config %q: %s", e.KeyID, e.Reason)
}

func (e *InvalidKeyConfigError) Unwrap() error { return ErrInvalidKeyConfig }
