package service

import (
	"math"
	"time"
)

// Backoff is capped exponential backoff with additive jitter
// delay = min(Cap, Base * 2^attempts) + U[JitterMin, JitterMax]
type Backoff struct {
	Base      time.Duration
	Cap       time.Duration
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultBackoff is 5s doubling up to an hour, plus 1 to 5 seconds of jitter
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Cap: time.Hour, JitterMin: time.Second, JitterMax: 5 * time.Second}
}

// Delay returns the retry delay after attempts failures; u is a uniform sample in [0,1)
func (b Backoff) Delay(attempts int, u float64) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := b.Cap
	if exp := float64(b.Base) * math.Pow(2, float64(attempts)); exp < float64(b.Cap) {
		d = time.Duration(exp)
	}
	if b.JitterMax > b.JitterMin {
		d += b.JitterMin + time.Duration(u*float64(b.JitterMax-b.JitterMin))
	} else {
		d += b.JitterMin
	}
	return d
}
