// Package selector implements deterministic weighted round-robin key
// selection with per-attempt exclusion, availability breakdowns, and
// next-available-time estimation.
package selector

import (
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// Category classifies why a key is or is not currently eligible for
// selection. Precedence when more than one condition holds is
// circuit-open > quota-exhausted > rate-limited, so every key is counted
// exactly once in a Breakdown.
type Category int

// Categories, in precedence order.
const (
	CategoryCircuitOpen Category = iota
	CategoryQuotaExhausted
	CategoryRateLimited
	CategoryAvailable
)

// KeyView is a point-in-time snapshot of one key's eligibility, built by
// the caller from the authoritative KeyState before each selection.
type KeyView struct {
	ID       string
	Weight   int
	Category Category
	// Wait is the estimated duration until this key becomes available
	// again; ignored when Category is CategoryAvailable.
	Wait time.Duration
}

func (v KeyView) available() bool {
	return v.Category == CategoryAvailable
}

// Selector holds the round-robin cursor shared across calls for a pool.
// The zero value is ready to use.
type Selector struct {
	cursor uint64
}

// New returns a ready-to-use Selector with its cursor at the start.
func New() *Selector {
	return &Selector{}
}

// Select returns the next eligible key view not present in excluded,
// advancing the internal cursor just past the winner. Returns ok=false if
// no key is eligible.
func (s *Selector) Select(views []KeyView, excluded map[string]bool) (KeyView, bool) {
	sequence := expand(views)
	if len(sequence) == 0 {
		return KeyView{}, false
	}

	n := len(sequence)
	raw := atomic.AddUint64(&s.cursor, 1) - 1
	start := int(raw % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		v := sequence[idx]
		if excluded[v.ID] {
			continue
		}
		if !v.available() {
			continue
		}
		atomic.StoreUint64(&s.cursor, uint64(idx+1))
		return v, true
	}
	return KeyView{}, false
}

// expand builds the weighted sequence: each view appears Weight times
// (minimum 1), in original order.
func expand(views []KeyView) []KeyView {
	sequence := make([]KeyView, 0, len(views))
	for _, v := range views {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		for i := 0; i < w; i++ {
			sequence = append(sequence, v)
		}
	}
	return sequence
}

// Breakdown counts keys by category. Every key is counted exactly once.
type Breakdown struct {
	Available      int
	RateLimited    int
	QuotaExhausted int
	CircuitOpen    int
	Total          int
}

// ComputeBreakdown tallies a Breakdown from the current key views.
func ComputeBreakdown(views []KeyView) Breakdown {
	b := Breakdown{Total: len(views)}
	b.Available = len(lo.Filter(views, func(v KeyView, _ int) bool { return v.Category == CategoryAvailable }))
	b.RateLimited = len(lo.Filter(views, func(v KeyView, _ int) bool { return v.Category == CategoryRateLimited }))
	b.QuotaExhausted = len(lo.Filter(views, func(v KeyView, _ int) bool { return v.Category == CategoryQuotaExhausted }))
	b.CircuitOpen = len(lo.Filter(views, func(v KeyView, _ int) bool { return v.Category == CategoryCircuitOpen }))
	return b
}

// DefaultNextAvailableTime is the fallback returned when no key carries a
// usable wait signal.
const DefaultNextAvailableTime = 60 * time.Second

// NextAvailableTime returns the minimum wait across all unavailable keys,
// or DefaultNextAvailableTime if no key offers a signal.
func NextAvailableTime(views []KeyView) time.Duration {
	unavailable := lo.Filter(views, func(v KeyView, _ int) bool { return !v.available() && v.Wait > 0 })
	if len(unavailable) == 0 {
		return DefaultNextAvailableTime
	}
	min := lo.MinBy(unavailable, func(a, b KeyView) bool { return a.Wait < b.Wait })
	if min.Wait <= 0 {
		return DefaultNextAvailableTime
	}
	return min.Wait
}
