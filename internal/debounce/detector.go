// Package debounce turns a noisy boolean input into stable transitions.
// This package has NO I/O; time is always injected via time.Time parameters.
package debounce

import "time"

// Transition is a debounced change of the stable state.
type Transition struct {
	Timestamp time.Time
	Active    bool
}

// Counts are transition totals since the baseline.
type Counts struct {
	Rising  int
	Falling int
}

// Detector holds the debounce state for one input.
type Detector struct {
	window       time.Duration
	stable       bool
	baselined    bool
	hasPending   bool
	pending      bool
	pendingSince time.Time
	counts       Counts
}

// New creates a detector that accepts a new state once it has been observed
// continuously for window. A zero window accepts every change immediately.
func New(window time.Duration) *Detector {
	if window < 0 {
		window = 0
	}
	return &Detector{window: window}
}

// Process feeds one sample. The first stable state becomes the baseline and
// is not reported; later stable changes are returned with ok=true.
func (d *Detector) Process(active bool, now time.Time) (t Transition, ok bool) {
	if d.baselined && active == d.stable {
		// Back to stable, drop any pending change
		d.hasPending = false
		return Transition{}, false
	}
	if !d.hasPending || d.pending != active {
		d.hasPending = true
		d.pending = active
		d.pendingSince = now
	}
	if now.Sub(d.pendingSince) < d.window {
		return Transition{}, false
	}

	d.hasPending = false
	d.stable = active
	if !d.baselined {
		d.baselined = true
		return Transition{}, false
	}
	if active {
		d.counts.Rising++
	} else {
		d.counts.Falling++
	}
	return Transition{Timestamp: now, Active: active}, true
}

// Baselined reports whether a stable state has been established.
func (d *Detector) Baselined() bool {
	return d.baselined
}

// Stable returns the current stable state. It is false before the baseline.
func (d *Detector) Stable() bool {
	return d.stable
}

// Counts returns the transition totals.
func (d *Detector) Counts() Counts {
	return d.counts
}
