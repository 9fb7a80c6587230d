package plugin

import "time"

// Backoff is a capped exponential reconnect delay. The zero value uses
// one second doubling up to one minute.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

// Next returns the delay before the next attempt and doubles the one after it.
func (b *Backoff) Next() time.Duration {
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max < b.Min {
		b.Max = max(b.Min, time.Minute)
	}
	if b.cur < b.Min {
		b.cur = b.Min
	}
	d := b.cur
	b.cur = min(b.cur*2, b.Max)
	return d
}

// Reset starts the sequence over, once a connection has come up.
func (b *Backoff) Reset() {
	b.cur = 0
}
