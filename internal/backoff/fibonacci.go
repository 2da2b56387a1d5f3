// Package backoff implements the Fibonacci-modulo-60 connection retry
// sequence spec §5 requires preserved exactly: 1, 1, 2, 3, 5, 8, 13, 21,
// 34, 55, 29, 24, 53, 17, 10, 27, ... — bounded, coprime-to-typical-
// timeouts, and reinitialized to 1 at every new connect attempt.
package backoff

import "time"

// Fibonacci tracks the rolling pair driving the next delay. The zero value
// is not ready to use; call New.
type Fibonacci struct {
	a, b int
}

// New returns a sequence reinitialized to its starting state (1, 1).
func New() *Fibonacci {
	return &Fibonacci{a: 1, b: 1}
}

// Reset reinitializes the sequence, as required at each new connect site
// (spec §5 — back-off state is per connection attempt, not global).
func (f *Fibonacci) Reset() {
	f.a, f.b = 1, 1
}

// Next returns the next delay in seconds and advances the sequence. The
// recurrence is next = ((prev_older + prev_newer - 1) mod 60) + 1, which
// keeps every value in [1, 60] and reproduces the exact sequence spec §9
// pins down.
func (f *Fibonacci) Next() time.Duration {
	delay := f.a
	next := ((f.a + f.b - 1) % 60) + 1
	f.a, f.b = f.b, next
	return time.Duration(delay) * time.Second
}
