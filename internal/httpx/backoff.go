package httpx

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// backoff tracks the current retry delay. The delay grows multiplicatively
// after each failure, is capped at a ceiling, and resets to the initial
// value after a success. Safe for concurrent callers.
type backoff struct {
	mu      sync.Mutex
	initial time.Duration
	factor  float64
	max     time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration, factor float64, max time.Duration) *backoff {
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	if factor < 1 {
		factor = 2
	}
	if max < initial {
		max = 10 * initial
	}
	return &backoff{
		initial: initial,
		factor:  factor,
		max:     max,
		current: initial,
	}
}

// Next returns the jittered delay to wait before the next attempt and
// advances the internal delay.
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	delay := b.current
	next := time.Duration(float64(b.current) * b.factor)
	if next > b.max {
		next = b.max
	}
	b.current = next
	b.mu.Unlock()
	return jitter(delay)
}

// Reset returns the delay to its initial value after a successful call.
func (b *backoff) Reset() {
	b.mu.Lock()
	b.current = b.initial
	b.mu.Unlock()
}

// jitter perturbs a delay by ±25% so concurrent callers do not retry in
// lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// Uniform in [0.75d, 1.25d).
	span := d / 2
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return d
	}
	return d - span/2 + time.Duration(n.Int64())
}

// JitterLowerBound is the smallest delay jitter can produce for d. Exposed
// for tests asserting backoff growth.
func JitterLowerBound(d time.Duration) time.Duration {
	return d - d/4
}
