package stream

import "time"

// Reconnect timing defaults. All of them can be overridden per client
// through Options.
const (
	DefaultInitialBackoff   = time.Second
	DefaultMaxBackoff       = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultPollInterval     = 10 * time.Second
	DefaultResumeInterval   = 60 * time.Second
	DefaultKeepaliveIdle    = 15 * time.Second
)

// Backoff produces the delay sequence between reconnect attempts: the
// initial delay doubling on every call to Next, capped at the maximum.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff creates a backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay for the upcoming retry and doubles the one after.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Current returns the delay Next would hand out, without advancing.
func (b *Backoff) Current() time.Duration {
	return b.next
}

// Reset rewinds the sequence to the initial delay.
func (b *Backoff) Reset() {
	b.next = b.initial
}
