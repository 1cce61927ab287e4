// Package retry computes jittered exponential backoff delays for callers that
// schedule a deadline instead of sleeping.
package retry

import (
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Defaults used when a Policy field is zero.
const (
	DefaultBase   = 2 * time.Second
	DefaultMax    = 5 * time.Minute
	DefaultJitter = 0.2

	multiplier = 2
	maxSteps   = 64
)

// Policy describes an exponential backoff with symmetric jitter.
type Policy struct {
	Base   time.Duration // delay after the first failure
	Max    time.Duration // cap before jitter
	Jitter float64       // fraction, 0.2 means ±20%

	// Rand, when set, replaces the library's random source with a value in
	// [0, 1). Tests use it to pin the jitter.
	Rand func() float64
}

// DefaultPolicy returns base 2s, cap 5m, ±20% jitter.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Jitter: DefaultJitter}
}

// newBackOff builds an exponential backoff that never gives up on elapsed
// time. Attempt counts are persisted by the caller, so a fresh one is built
// per call and stepped forward.
func (p Policy) newBackOff(randomization float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultBase
	}
	b.MaxInterval = p.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMax
	}
	b.Multiplier = multiplier
	b.RandomizationFactor = randomization
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the wait before retrying after the given number of failed
// attempts (1 for the first failure).
func (p Policy) Delay(attempt int) time.Duration {
	jitter := max(p.Jitter, 0)
	if attempt < 1 {
		attempt = 1
	}

	b := p.newBackOff(0)
	for i := 1; i < min(attempt, maxSteps); i++ {
		b.NextBackOff()
	}
	if p.Rand == nil {
		b.RandomizationFactor = jitter
		return b.NextBackOff()
	}
	interval := float64(b.NextBackOff())
	return time.Duration(interval + (p.Rand()-0.5)*2*jitter*interval)
}

// Bounds returns the smallest and largest delay Delay can produce for attempt.
func (p Policy) Bounds(attempt int) (time.Duration, time.Duration) {
	lo := p
	lo.Rand = func() float64 { return 0 }
	hi := p
	hi.Rand = func() float64 { return 1 }
	return lo.Delay(attempt), hi.Delay(attempt)
}
