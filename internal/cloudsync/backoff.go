package cloudsync

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff is the retry cadence of the sync loop. Healthy, it waits the base
// interval. Each consecutive failure doubles the wait up to the cap, plus a
// random jitter so branches that lost the same uplink do not retry in
// lockstep. Between resets the wait never shrinks and never exceeds the cap.
// One success resets it to base.
type Backoff struct {
	mu       sync.Mutex
	exp      *backoff.ExponentialBackOff
	base     time.Duration
	maxWait  time.Duration
	jitter   time.Duration
	randN    func(n int64) int64
	wait     time.Duration
	failures int
}

func NewBackoff(base, maxInterval, jitter time.Duration) *Backoff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.MaxInterval = maxInterval
	exp.Multiplier = 2
	// jitter is added separately so the exponential part stays monotonic
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &Backoff{
		exp:     exp,
		base:    base,
		maxWait: maxInterval,
		jitter:  jitter,
		randN:   rand.Int64N,
		wait:    base,
	}
}

// Failure records a failed attempt and returns the wait before the next one.
func (b *Backoff) Failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	next := b.exp.NextBackOff()
	if b.jitter > 0 {
		next += time.Duration(b.randN(int64(b.jitter)))
	}
	next = max(min(next, b.maxWait), b.wait)
	b.wait = next
	return next
}

// Success resets the wait to base.
func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.exp.Reset()
	b.wait = b.base
}

// Interval the wait chosen by the last Failure or Success.
func (b *Backoff) Interval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.wait
}

func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
