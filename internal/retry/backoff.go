package retry

import (
	"math"
	"math/rand"
	"time"
)

const (
	// Jitter keeps simultaneous clients from hammering the backend in
	// lockstep after an outage.
	jitterMin = 0.85
	jitterMax = 1.15
)

// Backoff computes exponential delays between retry attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff matches the engine-wide retry defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 500 * time.Millisecond,
		Max:     30 * time.Second,
		Factor:  2.0,
	}
}

// Delay returns the wait before attempt n (0-based), with jitter applied.
// The jittered value is clamped to Max, so the delay never exceeds it.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	jitter := jitterMin + rand.Float64()*(jitterMax-jitterMin)
	delay := float64(b.Initial) * math.Pow(b.Factor, float64(attempt)) * jitter
	if capped := float64(b.Max); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}
