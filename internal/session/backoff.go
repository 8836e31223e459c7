// ABOUTME: Exponential backoff schedule for reconnect attempts.
// ABOUTME: Waits the current delay, then doubles it capped at the maximum; success resets to base.

package session

import "time"

const (
	// DefaultReconnectBase is the initial reconnect delay.
	DefaultReconnectBase = 1 * time.Second
	// DefaultReconnectMax caps the reconnect delay.
	DefaultReconnectMax = 30 * time.Second
)

// backoff produces the reconnect delay sequence min(base*2^i, max) for the
// i-th consecutive failure. There is no retry-count ceiling.
type backoff struct {
	base time.Duration
	max  time.Duration
	next time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	if max <= 0 {
		max = DefaultReconnectMax
	}
	return &backoff{base: base, max: max, next: base}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset restores the schedule to the base delay after a successful connect.
func (b *backoff) Reset() {
	b.next = b.base
}
