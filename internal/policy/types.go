// Package policy contains the pure screen/view decision logic for the kiosk.
// This package has NO I/O: facts are passed in read-only and time is always
// injected via time.Time parameters.
package policy

import "time"

// Reason is the diagnostic code explaining a Decision.
type Reason string

const (
	ReasonNightscoutAlert Reason = "nightscout_alert"
	ReasonManualOverride  Reason = "manual_override"
	ReasonEnergyGood      Reason = "energy_good"
	ReasonRecentActivity  Reason = "recent_activity"
	ReasonPluginInhibit   Reason = "plugin_inhibit"
	ReasonIdleOff         Reason = "idle_off"
	ReasonForcedSleep     Reason = "forced_sleep"
)

// AlertView is the view shown while a glucose alert is active, if configured.
const AlertView = "nightscout"

// Config holds the policy thresholds. It is immutable after load.
type Config struct {
	IdleOff           time.Duration
	ManualTimeout     time.Duration
	HypoThresholdMmol float64
	TrendingGuardMmol float64
	// FallingDirections is the set of Nightscout trend labels treated as falling.
	FallingDirections map[string]bool
}

// PlaylistEntry is one step of the automatic view rotation.
type PlaylistEntry struct {
	View     string
	Duration time.Duration
}

// RuntimeState is the controller-owned rotation and override state.
type RuntimeState struct {
	// Index into the playlist, always in [0, len(playlist))
	PlaylistIndex int
	// Time of the last automatic playlist advance
	LastSwitch time.Time
	// Manually pinned view; empty when none
	ManualView string
	// Override is active while now is before ManualUntil
	ManualUntil time.Time
}

// ManualActive reports whether a manual override is in effect at now.
func (s RuntimeState) ManualActive(now time.Time) bool {
	return s.ManualView != "" && now.Before(s.ManualUntil)
}

// Decision is the engine's per-tick output.
type Decision struct {
	ScreenOn bool
	View     string
	Why      Reason
}

// EventType identifies a controller transition reported to observers.
type EventType string

const (
	EventScreenOn  EventType = "SCREEN_ON"
	EventScreenOff EventType = "SCREEN_OFF"
	EventView      EventType = "VIEW"
)

// Event represents an applied transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	ScreenOn  bool
	View      string
	Why       Reason
}
