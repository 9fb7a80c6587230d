package policy

import (
	"math"
	"time"

	"github.com/sweeney/kiosk-control/internal/facts"
)

// DeriveAlert reports whether the latest glucose reading is hypoglycemic or
// falling toward it within the trending guard. No reading means no alert.
func DeriveAlert(f facts.Reader, cfg Config) bool {
	sgv, ok := f.Float(facts.NightscoutSGVMmol)
	if !ok {
		return false
	}
	if sgv < cfg.HypoThresholdMmol {
		return true
	}
	direction := f.String(facts.NightscoutDirection)
	return cfg.FallingDirections[direction] && sgv < cfg.HypoThresholdMmol+cfg.TrendingGuardMmol
}

// idleFor returns the time since the last recorded activity. Without an
// activity timestamp the kiosk is treated as idle forever.
func idleFor(f facts.Reader, now time.Time) time.Duration {
	last, ok := f.Time(facts.ActivityLastTS)
	if !ok {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(last)
}

// Evaluate computes the screen power and view for this tick.
// Branches are checked in precedence order; the first match decides screen
// power and reason. It does not mutate state or facts.
func Evaluate(cfg Config, state RuntimeState, f facts.Reader, views map[string]string, playlist []PlaylistEntry, inhibit bool, now time.Time) Decision {
	alert := DeriveAlert(f, cfg)
	manual := state.ManualActive(now)

	var d Decision
	switch {
	case alert:
		d = Decision{ScreenOn: true, Why: ReasonNightscoutAlert}
	case manual:
		d = Decision{ScreenOn: true, Why: ReasonManualOverride}
	case f.Bool(facts.HAEnergyGood):
		d = Decision{ScreenOn: true, Why: ReasonEnergyGood}
	case idleFor(f, now) < cfg.IdleOff:
		d = Decision{ScreenOn: true, Why: ReasonRecentActivity}
	case inhibit:
		d = Decision{ScreenOn: true, Why: ReasonPluginInhibit}
	default:
		d = Decision{ScreenOn: false, Why: ReasonIdleOff}
	}

	d.View = selectView(alert, manual, state, views, playlist)
	return d
}

func selectView(alert, manual bool, state RuntimeState, views map[string]string, playlist []PlaylistEntry) string {
	if _, ok := views[AlertView]; alert && ok {
		return AlertView
	}
	if _, ok := views[state.ManualView]; manual && ok {
		return state.ManualView
	}
	return playlist[state.PlaylistIndex].View
}

// Wrap returns i modulo n, always in [0, n).
func Wrap(i, n int) int {
	return ((i % n) + n) % n
}
