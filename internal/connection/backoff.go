package connection

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffDelay returns min(base^attempt seconds, limit).
// base=2, limit=60s yields 1, 2, 4, 8, 16, 32, 60, 60, ...
func BackoffDelay(base float64, limit time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	secs := math.Pow(base, float64(attempt))
	if math.IsInf(secs, 0) || math.IsNaN(secs) || secs >= limit.Seconds() {
		return limit
	}
	return time.Duration(secs * float64(time.Second))
}

// Backoff counts reconnect attempts and yields the delay for each.
// It is not safe for concurrent use.
type Backoff struct {
	exp     *backoff.ExponentialBackOff
	attempt int
}

// NewBackoff creates a deterministic exponential backoff.
func NewBackoff(initial time.Duration, base float64, limit time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.Multiplier = base
	exp.MaxInterval = limit
	exp.RandomizationFactor = 0
	exp.Reset()

	return &Backoff{exp: exp}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	return b.exp.NextBackOff()
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns to attempt 0.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.exp.Reset()
}
