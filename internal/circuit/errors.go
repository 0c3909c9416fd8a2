package circuit

import "errors"

// Sentinel errors for circuit breaker operations.
var (
	// ErrOpen is returned when the circuit breaker is open and rejecting calls.
	ErrOpen = errors.New("circuit: breaker is open")
)
