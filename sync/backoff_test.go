// ABOUTME: Tests for retry backoff computation
// ABOUTME: Checks doubling, monotonicity, the cap, and overflow safety

package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubles(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Hour}

	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 16*time.Second, b.Delay(4))
}

func TestBackoffMonotonicUntilCap(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Hour}

	prev := b.Delay(0)
	for attempts := 1; attempts < 100; attempts++ {
		d := b.Delay(attempts)
		if prev < b.Cap {
			assert.Greater(t, d, prev, "attempts=%d", attempts)
		} else {
			assert.Equal(t, b.Cap, d, "attempts=%d", attempts)
		}
		prev = d
	}
}

func TestBackoffNeverOverflows(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Hour}
	assert.Equal(t, time.Hour, b.Delay(64))
	assert.Equal(t, time.Hour, b.Delay(1<<20))
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, DefaultBackoffBase, b.Delay(0))
	assert.Equal(t, DefaultBackoffCap, b.Delay(1000))
	assert.Equal(t, DefaultBackoffBase, b.Delay(-3))
}

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Backoff{Base: time.Second, Cap: time.Minute}
	assert.Equal(t, now.Add(8*time.Second), b.NextRetryAt(now, 3))
}
