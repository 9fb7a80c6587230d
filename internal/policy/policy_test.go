package policy

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/kiosk-control/internal/facts"
)

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		IdleOff:           120 * time.Second,
		ManualTimeout:     10 * time.Second,
		HypoThresholdMmol: 5.0,
		TrendingGuardMmol: 0.5,
		FallingDirections: map[string]bool{"SingleDown": true},
	}
}

var (
	testViews = map[string]string{
		"a":          "https://a.example",
		"b":          "https://b.example",
		"nightscout": "https://ns.example",
	}
	testPlaylist = []PlaylistEntry{
		{View: "a", Duration: 10 * time.Second},
		{View: "b", Duration: 20 * time.Second},
	}
)

func TestDeriveAlert(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name  string
		facts facts.Map
		want  bool
	}{
		{"below threshold flat", facts.Map{facts.NightscoutSGVMmol: 4.9, facts.NightscoutDirection: "Flat"}, true},
		{"within guard falling", facts.Map{facts.NightscoutSGVMmol: 5.3, facts.NightscoutDirection: "SingleDown"}, true},
		{"within guard flat", facts.Map{facts.NightscoutSGVMmol: 5.3, facts.NightscoutDirection: "Flat"}, false},
		{"at guard edge falling", facts.Map{facts.NightscoutSGVMmol: 5.5, facts.NightscoutDirection: "SingleDown"}, false},
		{"at threshold", facts.Map{facts.NightscoutSGVMmol: 5.0}, false},
		{"no reading", facts.Map{facts.NightscoutDirection: "SingleDown"}, false},
		{"no facts", facts.Map{}, false},
		{"numeric string reading", facts.Map{facts.NightscoutSGVMmol: "4.0"}, true},
		{"garbage reading", facts.Map{facts.NightscoutSGVMmol: "low"}, false},
		{"falling without direction set", facts.Map{facts.NightscoutSGVMmol: 5.2, facts.NightscoutDirection: "DoubleDown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveAlert(tt.facts, cfg); got != tt.want {
				t.Errorf("DeriveAlert = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveAlertMatchesDefinition(t *testing.T) {
	cfg := testConfig()
	for _, dir := range []string{"Flat", "SingleDown", ""} {
		for r := 3.0; r < 7.0; r += 0.05 {
			f := facts.Map{facts.NightscoutSGVMmol: r, facts.NightscoutDirection: dir}
			want := r < cfg.HypoThresholdMmol || (cfg.FallingDirections[dir] && r < cfg.HypoThresholdMmol+cfg.TrendingGuardMmol)
			if got := DeriveAlert(f, cfg); got != want {
				t.Fatalf("r=%.2f dir=%q: got %v, want %v", r, dir, got, want)
			}
		}
	}
}

func TestEvaluateIdleOff(t *testing.T) {
	f := facts.Map{
		facts.ActivityLastTS: testNow.Add(-9999 * time.Second),
		facts.HAEnergyGood:   false,
	}
	got := Evaluate(testConfig(), RuntimeState{}, f, testViews, testPlaylist, false, testNow)
	want := Decision{ScreenOn: false, View: "a", Why: ReasonIdleOff}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	manual := RuntimeState{PlaylistIndex: 1, ManualView: "a", ManualUntil: testNow.Add(5 * time.Second)}
	auto := RuntimeState{PlaylistIndex: 1}
	alert := facts.Map{facts.NightscoutSGVMmol: 3.0}
	recent := testNow.Add(-10 * time.Second)
	stale := testNow.Add(-time.Hour)

	tests := []struct {
		name    string
		state   RuntimeState
		facts   facts.Map
		inhibit bool
		want    Decision
	}{
		{
			name:  "alert beats manual override",
			state: manual,
			facts: facts.Map{facts.NightscoutSGVMmol: 3.0, facts.HAEnergyGood: true, facts.ActivityLastTS: recent},
			want:  Decision{ScreenOn: true, View: "nightscout", Why: ReasonNightscoutAlert},
		},
		{
			name:  "manual beats energy",
			state: manual,
			facts: facts.Map{facts.HAEnergyGood: true, facts.ActivityLastTS: recent},
			want:  Decision{ScreenOn: true, View: "a", Why: ReasonManualOverride},
		},
		{
			name:  "energy beats activity",
			state: auto,
			facts: facts.Map{facts.HAEnergyGood: true, facts.ActivityLastTS: recent},
			want:  Decision{ScreenOn: true, View: "b", Why: ReasonEnergyGood},
		},
		{
			name:    "activity beats inhibit",
			state:   auto,
			facts:   facts.Map{facts.ActivityLastTS: recent},
			inhibit: true,
			want:    Decision{ScreenOn: true, View: "b", Why: ReasonRecentActivity},
		},
		{
			name:    "inhibit keeps screen on",
			state:   auto,
			facts:   facts.Map{facts.ActivityLastTS: stale},
			inhibit: true,
			want:    Decision{ScreenOn: true, View: "b", Why: ReasonPluginInhibit},
		},
		{
			name:  "no activity recorded is idle",
			state: auto,
			facts: facts.Map{},
			want:  Decision{ScreenOn: false, View: "b", Why: ReasonIdleOff},
		},
		{
			name:  "alert alone",
			state: auto,
			facts: alert,
			want:  Decision{ScreenOn: true, View: "nightscout", Why: ReasonNightscoutAlert},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(testConfig(), tt.state, tt.facts, testViews, testPlaylist, tt.inhibit, testNow)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluateAlertWithoutAlertViewKeepsRotation(t *testing.T) {
	views := map[string]string{"a": "https://a.example", "b": "https://b.example"}
	f := facts.Map{facts.NightscoutSGVMmol: 3.0}
	got := Evaluate(testConfig(), RuntimeState{PlaylistIndex: 1}, f, views, testPlaylist, false, testNow)
	want := Decision{ScreenOn: true, View: "b", Why: ReasonNightscoutAlert}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateManualOverrideExpires(t *testing.T) {
	state := RuntimeState{PlaylistIndex: 0, ManualView: "b", ManualUntil: testNow.Add(10 * time.Second)}
	f := facts.Map{facts.ActivityLastTS: testNow}

	before := Evaluate(testConfig(), state, f, testViews, testPlaylist, false, testNow.Add(9*time.Second))
	if before.View != "b" || before.Why != ReasonManualOverride {
		t.Errorf("before expiry: got %+v", before)
	}

	after := Evaluate(testConfig(), state, f, testViews, testPlaylist, false, testNow.Add(10*time.Second))
	if after.View != "a" {
		t.Errorf("after expiry: view = %q, want playlist view a", after.View)
	}
	if after.Why != ReasonRecentActivity {
		t.Errorf("after expiry: why = %q, want %q", after.Why, ReasonRecentActivity)
	}
}

func TestEvaluateIsPureAndIdempotent(t *testing.T) {
	state := RuntimeState{PlaylistIndex: 1, ManualView: "a", ManualUntil: testNow.Add(time.Second)}
	f := facts.Map{facts.NightscoutSGVMmol: 4.0, facts.ActivityLastTS: testNow}
	before := len(f)

	d1 := Evaluate(testConfig(), state, f, testViews, testPlaylist, true, testNow)
	d2 := Evaluate(testConfig(), state, f, testViews, testPlaylist, true, testNow)

	if diff := cmp.Diff(d1, d2); diff != "" {
		t.Errorf("repeated Evaluate differs (-first +second):\n%s", diff)
	}
	if len(f) != before {
		t.Errorf("Evaluate added facts: %v", f)
	}
	if _, ok := f[facts.NightscoutAlert]; ok {
		t.Error("Evaluate must not write the alert fact")
	}
}

func TestManualActive(t *testing.T) {
	tests := []struct {
		name  string
		state RuntimeState
		want  bool
	}{
		{"none", RuntimeState{}, false},
		{"pending", RuntimeState{ManualView: "a", ManualUntil: testNow.Add(time.Millisecond)}, true},
		{"expired exactly", RuntimeState{ManualView: "a", ManualUntil: testNow}, false},
		{"until without view", RuntimeState{ManualUntil: testNow.Add(time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.ManualActive(testNow); got != tt.want {
				t.Errorf("ManualActive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 3, 0},
		{3, 3, 0},
		{-1, 3, 2},
		{-4, 3, 2},
		{5, 1, 0},
	}
	for _, tt := range tests {
		if got := Wrap(tt.i, tt.n); got != tt.want {
			t.Errorf("Wrap(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}
