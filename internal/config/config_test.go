package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/kiosk-control/internal/policy"
)

const minimal = `
chromium:
  bin: chromium
  user_data_dir: "  /tmp/profile  "
  extra_flags: [--kiosk]
views:
  a: "https://example.test  "
  nightscout: https://ns.example.test
playlist:
  - {view: a, seconds: 10}
  - {view: nightscout, seconds: 20}
policy:
  idle_off_seconds: 120
  manual_timeout_seconds: 10
  hypo_threshold_mmol: 5
  trending_guard_mmol: 0.5
  falling_directions: [SingleDown, DoubleDown]
screen:
  backlight_sysfs: /sys/class/backlight/rpi_backlight
`

func parse(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	return Parse([]byte(doc))
}

func TestParseMinimalAppliesDefaults(t *testing.T) {
	cfg, err := parse(t, minimal)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Chromium.UserDataDir != "/tmp/profile" {
		t.Errorf("user_data_dir not trimmed: %q", cfg.Chromium.UserDataDir)
	}
	if cfg.Views["a"] != "https://example.test" {
		t.Errorf("view url not trimmed: %q", cfg.Views["a"])
	}
	if cfg.Screen.BrightnessOn != 255 || cfg.Screen.BrightnessDim != 0 {
		t.Errorf("brightness defaults: %+v", cfg.Screen)
	}
	if cfg.Controller.Tick() != 250*time.Millisecond {
		t.Errorf("tick = %v", cfg.Controller.Tick())
	}
	if cfg.Controller.ShutdownGrace() != 3*time.Second {
		t.Errorf("grace = %v", cfg.Controller.ShutdownGrace())
	}
	if cfg.Controller.Heartbeat() != 15*time.Minute {
		t.Errorf("heartbeat = %v", cfg.Controller.Heartbeat())
	}
	if cfg.IPC.Bus != "session" || cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("ipc/log defaults: %+v %+v", cfg.IPC, cfg.Log)
	}
	if !*cfg.Plugins.HomeAssistant.RequireSunAboveHorizon {
		t.Error("require_sun_above_horizon must default to true")
	}
	if diff := cmp.Diff([]string{"entries"}, cfg.Plugins.Nightscout.Collections); diff != "" {
		t.Errorf("collections default (-want +got):\n%s", diff)
	}
}

func TestParseDefaultUserDataDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")
	doc := strings.Replace(minimal, `user_data_dir: "  /tmp/profile  "`, `bin: chromium-browser`, 1)
	doc = strings.Replace(doc, "  bin: chromium\n", "", 1)
	cfg, err := parse(t, doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Chromium.UserDataDir != "/state/kiosk-control/chrome-profile" {
		t.Errorf("user_data_dir = %q", cfg.Chromium.UserDataDir)
	}
}

func TestPolicyConversion(t *testing.T) {
	cfg, err := parse(t, minimal)
	if err != nil {
		t.Fatal(err)
	}
	want := policy.Config{
		IdleOff:           120 * time.Second,
		ManualTimeout:     10 * time.Second,
		HypoThresholdMmol: 5,
		TrendingGuardMmol: 0.5,
		FallingDirections: map[string]bool{"SingleDown": true, "DoubleDown": true},
	}
	if diff := cmp.Diff(want, cfg.PolicyConfig()); diff != "" {
		t.Errorf("PolicyConfig mismatch (-want +got):\n%s", diff)
	}
	wantPlaylist := []policy.PlaylistEntry{{View: "a", Duration: 10 * time.Second}, {View: "nightscout", Duration: 20 * time.Second}}
	if diff := cmp.Diff(wantPlaylist, cfg.PlaylistEntries()); diff != "" {
		t.Errorf("PlaylistEntries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "nightscout"}, cfg.ViewNames()); diff != "" {
		t.Errorf("ViewNames mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		wantMsg string
	}{
		{"http view", "https://example.test", "http://example.test", "views.a must be https://"},
		{"unknown playlist view", "{view: a, seconds: 10}", "{view: b, seconds: 10}", "unknown view"},
		{"zero seconds", "{view: a, seconds: 10}", "{view: a, seconds: 0}", "seconds must be > 0"},
		{"zero idle", "idle_off_seconds: 120", "idle_off_seconds: 0", "idle_off_seconds"},
		{"zero manual timeout", "manual_timeout_seconds: 10", "manual_timeout_seconds: 0", "manual_timeout_seconds"},
		{"zero hypo", "hypo_threshold_mmol: 5", "hypo_threshold_mmol: 0", "hypo_threshold_mmol"},
		{"negative guard", "trending_guard_mmol: 0.5", "trending_guard_mmol: -1", "trending_guard_mmol"},
		{"missing backlight", "backlight_sysfs: /sys/class/backlight/rpi_backlight", "brightness_dim: 0", "backlight_sysfs"},
		{"empty poweroff", "screen:", "system: {poweroff_command: []}\nscreen:", "poweroff_command"},
		{"bad bus", "screen:", "ipc: {bus: carrier}\nscreen:", "ipc.bus"},
		{"bad log format", "screen:", "log: {format: xml}\nscreen:", "log.format"},
		{"ha over ws", "screen:", "plugins:\n  homeassistant: {enabled: true, ws_url: 'ws://ha', token: t, entity_sun: s, entity_production_w: p, entity_consumption_w: c}\nscreen:", "wss://"},
		{"ha missing token", "screen:", "plugins:\n  homeassistant: {enabled: true, ws_url: 'wss://ha', entity_sun: s, entity_production_w: p, entity_consumption_w: c}\nscreen:", "token"},
		{"nightscout over http", "screen:", "plugins:\n  nightscout: {enabled: true, base_url: 'http://ns', access_token: t}\nscreen:", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(minimal, tt.old, tt.new, 1)
			_, err := parse(t, doc)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestAllowInsecure(t *testing.T) {
	doc := strings.Replace(minimal, "https://example.test", "http://example.test", 1) + `
security:
  allow_insecure: true
plugins:
  homeassistant: {enabled: true, ws_url: "ws://ha:8123/api/websocket", token: t, entity_sun: sun.sun, entity_production_w: p, entity_consumption_w: c}
  nightscout: {enabled: true, base_url: "http://ns:1337", access_token: t}
`
	if _, err := parse(t, doc); err != nil {
		t.Errorf("allow_insecure must permit plain http/ws: %v", err)
	}
}

func TestDisabledPluginsNotChecked(t *testing.T) {
	doc := minimal + `
plugins:
  nightscout: {enabled: false, base_url: "http://ns"}
`
	if _, err := parse(t, doc); err != nil {
		t.Errorf("disabled plugin must not be validated: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := parse(t, minimal+"\nbogus: 1\n")
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected unknown-field error, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := parse(t, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty document: got %v", err)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	cfg, err := parse(t, minimal+"\ncontroller: {heartbeat_seconds: -1}\n")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Controller.Heartbeat() != 0 {
		t.Errorf("heartbeat = %v, want disabled", cfg.Controller.Heartbeat())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load: %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if got := cfg.ViewNames(); !cmp.Equal(got, []string{"clock", "energy", "nightscout"}) {
		t.Errorf("views = %v", got)
	}
	if cfg.Plugins.Motion.DebounceMs != 200 {
		t.Errorf("motion debounce = %d", cfg.Plugins.Motion.DebounceMs)
	}
	if cfg.Chromium.UserDataDir == "" {
		t.Error("empty user_data_dir should get the default")
	}
}
