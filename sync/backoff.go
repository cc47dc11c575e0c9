// ABOUTME: Exponential retry backoff for failed ledger items
// ABOUTME: delay = min(cap, base * 2^attempts), computed without overflow

package sync

import "time"

// Default backoff parameters.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = time.Hour
)

// Backoff computes the delay before the next delivery attempt.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait after a failure, given the number of attempts that
// had already failed before it.
func (b Backoff) Delay(attempts int) time.Duration {
	base, limit := b.Base, b.Cap
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if limit <= 0 {
		limit = DefaultBackoffCap
	}
	if attempts < 0 {
		attempts = 0
	}

	d := base
	for i := 0; i < attempts; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// NextRetryAt is the earliest time the item may be attempted again.
func (b Backoff) NextRetryAt(now time.Time, attempts int) time.Time {
	return now.Add(b.Delay(attempts))
}
