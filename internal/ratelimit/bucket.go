// Package ratelimit implements the per-key rate limiter on top of
// golang.org/x/time/rate.
//
// A key configured with rps r has a bucket of capacity ceil(r) that
// refills continuously at rate r per second. Keys configured without an
// rps are always considered at capacity.
package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the refill rate for a single key's bucket.
// Configured is false for keys that declared no rps; such keys are always
// at capacity and never consume tokens.
type Config struct {
	RPS        float64
	Configured bool
}

// Bucket holds the mutable token bucket embedded in a key's state. It
// carries no lock of its own; callers serialize access per key. The
// limiter field is nil for unconfigured keys.
type Bucket struct {
	limiter *rate.Limiter
}

func newLimiter(cfg Config) *rate.Limiter {
	if !cfg.Configured {
		return nil
	}
	burst := int(math.Ceil(cfg.RPS))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}

// NewBucket returns a Bucket starting at full capacity. A freshly built
// rate.Limiter already reports full burst capacity on its first query,
// so there is nothing further to do with now at construction time.
func NewBucket(cfg Config, _ time.Time) Bucket {
	return Bucket{limiter: newLimiter(cfg)}
}

// peek reserves and immediately cancels one token, returning how long
// the caller would have had to wait had it actually consumed. A
// non-positive result means a token is available now.
func peek(b *Bucket, now time.Time) time.Duration {
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait
}

// HasCapacity reports whether the bucket holds at least one token at now,
// without consuming it.
func HasCapacity(cfg Config, b *Bucket, now time.Time) bool {
	if !cfg.Configured {
		return true
	}
	return peek(b, now) <= 0
}

// TryConsume reports whether the bucket holds at least one token at now
// and, if so, consumes it.
func TryConsume(cfg Config, b *Bucket, now time.Time) bool {
	if !cfg.Configured {
		return true
	}
	return b.limiter.AllowN(now, 1)
}

// TimeUntilNextToken returns how long until the bucket holds one token,
// as of now. Zero when already at capacity or unconfigured.
func TimeUntilNextToken(cfg Config, b *Bucket, now time.Time) time.Duration {
	if !cfg.Configured {
		return 0
	}
	if wait := peek(b, now); wait > 0 {
		return wait
	}
	return 0
}

// TokensAvailable reports the number of tokens the bucket holds at now,
// without consuming any.
func TokensAvailable(cfg Config, b *Bucket, now time.Time) float64 {
	if !cfg.Configured {
		return 0
	}
	return b.limiter.TokensAt(now)
}

// CurrentRPS reports the observability-only "in-flight" rate: RPS minus
// the tokens presently available, clamped to zero.
func CurrentRPS(cfg Config, b *Bucket, now time.Time) float64 {
	if !cfg.Configured {
		return 0
	}
	v := cfg.RPS - TokensAvailable(cfg, b, now)
	if v < 0 {
		return 0
	}
	return v
}

// Reset refills the bucket to full capacity by rebuilding its limiter,
// since rate.Limiter exposes no public way to set its token count
// directly.
func Reset(cfg Config, b *Bucket, now time.Time) {
	*b = NewBucket(cfg, now)
}
