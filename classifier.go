package keyrot

import "github.com/rs/zerolog"

// Classifier tells a Pool how to read outcomes out of the caller's
// response type R, so the dispatch loop can drive rate limit, quota, and
// circuit state off real provider signals instead of guessing from the
// error return alone.
//
// IsRateLimited and IsError are required; the rest are optional and
// degrade gracefully when nil. IsSuccess is accepted for API symmetry
// but has no effect on dispatch: a response is treated as successful
// whenever it is neither rate limited nor an error.
type Classifier[R any] struct {
	// IsRateLimited reports whether the response indicates the key hit a
	// provider-side rate limit (as opposed to an application error).
	IsRateLimited func(resp R) bool
	// IsError reports whether the response represents a failed request,
	// for circuit breaker accounting.
	IsError func(resp R) bool
	// IsSuccess is accepted but unused; success is inferred as "not rate
	// limited and not an error."
	IsSuccess func(resp R) bool
	// GetRetryAfter extracts a provider-supplied retry-after duration in
	// seconds, when the response is rate limited.
	GetRetryAfter func(resp R) (seconds int, ok bool)
	// GetQuotaRemaining extracts a provider-reported remaining-quota
	// count, used to reconcile local accounting without ever rewinding it
	// below what local accounting already observed.
	GetQuotaRemaining func(resp R) (remaining int, ok bool)
}

// safeClassifier wraps a Classifier so a panicking predicate cannot take
// down the dispatch goroutine: the panic is logged, and the predicate is
// treated as having returned its zero value (false, or absent for the
// extractors) for this call only.
type safeClassifier[R any] struct {
	c   Classifier[R]
	log *zerolog.Logger
}

func (s safeClassifier[R]) recover(predicate string) {
	if r := recover(); r != nil && s.log != nil {
		s.log.Error().Interface("panic", r).Str("classifier", predicate).Msg("classifier predicate panicked, treating as false")
	}
}

func (s safeClassifier[R]) rateLimited(resp R) (limited bool) {
	if s.c.IsRateLimited == nil {
		return false
	}
	defer s.recover("IsRateLimited")
	return s.c.IsRateLimited(resp)
}

func (s safeClassifier[R]) isError(resp R) (isErr bool) {
	if s.c.IsError == nil {
		return false
	}
	defer s.recover("IsError")
	return s.c.IsError(resp)
}

func (s safeClassifier[R]) retryAfter(resp R) (seconds int, ok bool) {
	if s.c.GetRetryAfter == nil {
		return 0, false
	}
	defer s.recover("GetRetryAfter")
	return s.c.GetRetryAfter(resp)
}

func (s safeClassifier[R]) quotaRemaining(resp R) (remaining int, ok bool) {
	if s.c.GetQuotaRemaining == nil {
		return 0, false
	}
	defer s.recover("GetQuotaRemaining")
	return s.c.GetQuotaRemaining(resp)
}
