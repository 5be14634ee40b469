package tasky

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes how long a failed task waits before it is redelivered.
// Redelivery n waits Base*Factor^(n-1), capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64 // 2 when unset
	// Jitter takes a random share of up to this fraction off each delay.
	// Clamped to [0, 1].
	Jitter float64
}

// Delay is the wait before redelivery number attempts, without jitter.
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts <= 0 || b.Base <= 0 {
		return 0
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	ceiling := time.Duration(math.MaxInt64)
	if b.Max > 0 {
		ceiling = b.Max
	}
	delay := float64(b.Base) * math.Pow(factor, float64(attempts-1))
	if delay >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

// RetryDelay adapts b to the RetryDelay option of the queue backends.
func (b Backoff) RetryDelay() func(attempts int) time.Duration {
	jitter := min(max(b.Jitter, 0), 1)
	return func(attempts int) time.Duration {
		delay := b.Delay(attempts)
		if jitter == 0 || delay <= 0 {
			return delay
		}
		return delay - time.Duration(rand.Float64()*jitter*float64(delay))
	}
}
