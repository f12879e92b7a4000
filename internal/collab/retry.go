package collab

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before reconnecting and whether to try
// at all. attempt counts from 0.
type Retryer interface {
	NextDelay(attempt int, lastErr error) (time.Duration, bool)
	// Reset is called once a connection is open again.
	Reset()
}

// Backoff is an exponential Retryer with optional jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts caps the retries; 0 retries forever.
	MaxAttempts int
	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64
}

// DefaultBackoff is used when a session is configured without a Retryer.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Initial:     500 * time.Millisecond,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 10,
		Jitter:      0.3,
	}
}

// NextDelay implements Retryer.
func (b *Backoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		//nolint:gosec // jitter only
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(b.Initial)
		}
	}
	return time.Duration(delay), true
}

// Reset implements Retryer.
func (b *Backoff) Reset() {}

// FixedDelay retries at a constant interval.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NextDelay implements Retryer.
func (f *FixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if f.MaxAttempts > 0 && attempt >= f.MaxAttempts {
		return 0, false
	}
	return f.Delay, true
}

// Reset implements Retryer.
func (f *FixedDelay) Reset() {}
