package engine

import "time"

// backoff computes the exponential reconnection delay of §4.C.6: for the
// k-th retry (0-indexed) in the current run, delayInitial·2^k, saturated at
// delayMax (P8: with delayInitial=1000, delayMax=5000, the sequence is
// 1000, 2000, 4000, 5000, 5000, ...).
//
// Grounded on the teacher's Manager.backoff (a *utils.Backoff from the
// zishang520 ecosystem, not reproduced here since it's the one piece of
// that ecosystem's own domain logic this rewrite owns directly): same
// min/max/attempt-counter shape, without the teacher's randomization
// factor, which spec.md's P8 test asserts away explicitly (exact powers of
// two, no jitter).
type backoff struct {
	initial  time.Duration
	max      time.Duration
	attempts int
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max}
}

// Duration returns the delay for the next attempt and advances the
// attempt counter.
func (b *backoff) Duration() time.Duration {
	d := b.initial << b.attempts // initial * 2^attempts
	if d <= 0 || d > b.max {     // d<=0 guards against shift overflow
		d = b.max
	}
	b.attempts++
	return d
}

// Attempts reports how many delays have been produced since the last Reset.
func (b *backoff) Attempts() int { return b.attempts }

// Reset zeroes the attempt counter, as happens on a successful handshake
// (P5) or once the reconnect attempt budget is exhausted.
func (b *backoff) Reset() { b.attempts = 0 }
