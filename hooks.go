package keyrot

import "github.com/rs/zerolog"

// Hooks are optional observer callbacks invoked synchronously from the
// dispatch path. A nil field is simply not called. Hook implementations
// must not call back into the Pool that invoked them; do any further
// dispatch from a separate goroutine.
type Hooks struct {
	// OnWarning fires at most once per quota period when a key's usage
	// crosses the configured warning threshold.
	OnWarning func(keyID string, usagePercent float64)
	// OnKeyExhausted fires the moment a key's quota transitions from
	// having quota to being exhausted.
	OnKeyExhausted func(keyID string)
	// OnKeyCircuitOpen fires the moment a key's circuit breaker opens.
	OnKeyCircuitOpen func(keyID string)
	// OnAllKeysExhausted fires whenever a dispatch attempt finds every
	// registered key unavailable.
	OnAllKeysExhausted func()
}

// safeHooks wraps Hooks so a panicking callback cannot take down the
// dispatch goroutine; the panic is logged and swallowed.
type safeHooks struct {
	h   Hooks
	log *zerolog.Logger
}

func (s safeHooks) warning(keyID string, usagePercent float64) {
	if s.h.OnWarning == nil {
		return
	}
	defer s.recover("OnWarning")
	s.h.OnWarning(keyID, usagePercent)
}

func (s safeHooks) keyExhausted(keyID string) {
	if s.h.OnKeyExhausted == nil {
		return
	}
	defer s.recover("OnKeyExhausted")
	s.h.OnKeyExhausted(keyID)
}

func (s safeHooks) keyCircuitOpen(keyID string) {
	if s.h.OnKeyCircuitOpen == nil {
		return
	}
	defer s.recover("OnKeyCircuitOpen")
	s.h.OnKeyCircuitOpen(keyID)
}

func (s safeHooks) allKeysExhausted() {
	if s.h.OnAllKeysExhausted == nil {
		return
	}
	defer s.recover("OnAllKeysExhausted")
	s.h.OnAllKeysExhausted()
}

func (s safeHooks) recover(hook string) {
	if r := recover(); r != nil && s.log != nil {
		s.log.Error().Interface("panic", r).Str("hook", hook).Msg("hook panicked, ignoring")
	}
}
