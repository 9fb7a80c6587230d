// Package config loads and validates the kiosk-control YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/kiosk-control/internal/browser"
	"github.com/sweeney/kiosk-control/internal/policy"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the top-level configuration document.
type Config struct {
	Chromium   Chromium          `yaml:"chromium"`
	Views      map[string]string `yaml:"views"`
	Playlist   []PlaylistItem    `yaml:"playlist"`
	Policy     Policy            `yaml:"policy"`
	Screen     Screen            `yaml:"screen"`
	System     System            `yaml:"system"`
	Security   Security          `yaml:"security"`
	Controller Controller        `yaml:"controller"`
	IPC        IPC               `yaml:"ipc"`
	Plugins    Plugins           `yaml:"plugins"`
	MQTT       MQTT              `yaml:"mqtt"`
	HTTP       HTTP              `yaml:"http"`
	Log        Log               `yaml:"log"`
}

type Chromium struct {
	Bin         string   `yaml:"bin"`
	UserDataDir string   `yaml:"user_data_dir"`
	ExtraFlags  []string `yaml:"extra_flags"`
}

type PlaylistItem struct {
	View    string `yaml:"view"`
	Seconds int    `yaml:"seconds"`
}

type Policy struct {
	IdleOffSeconds       int      `yaml:"idle_off_seconds"`
	ManualTimeoutSeconds int      `yaml:"manual_timeout_seconds"`
	HypoThresholdMmol    float64  `yaml:"hypo_threshold_mmol"`
	TrendingGuardMmol    float64  `yaml:"trending_guard_mmol"`
	FallingDirections    []string `yaml:"falling_directions"`
}

type Screen struct {
	BacklightSysfs string `yaml:"backlight_sysfs"`
	// BrightnessOn defaults to 255 when zero.
	BrightnessOn  int `yaml:"brightness_on"`
	BrightnessDim int `yaml:"brightness_dim"`
}

type System struct {
	PoweroffCommand []string `yaml:"poweroff_command"`
}

type Security struct {
	AllowInsecure bool `yaml:"allow_insecure"`
}

type Controller struct {
	TickMs          int `yaml:"tick_ms"`
	ShutdownGraceMs int `yaml:"shutdown_grace_ms"`
	// HeartbeatSeconds < 0 disables the MQTT heartbeat.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

type IPC struct {
	// Bus is "session" (default) or "system".
	Bus string `yaml:"bus"`
}

type Plugins struct {
	InputActivity InputActivity `yaml:"input_activity"`
	HomeAssistant HomeAssistant `yaml:"homeassistant"`
	Nightscout    Nightscout    `yaml:"nightscout"`
	Motion        Motion        `yaml:"motion"`
}

type InputActivity struct {
	Enabled    bool   `yaml:"enabled"`
	DeviceHint string `yaml:"device_hint"`
}

type HomeAssistant struct {
	Enabled                bool    `yaml:"enabled"`
	WSURL                  string  `yaml:"ws_url"`
	Token                  string  `yaml:"token"`
	EntitySun              string  `yaml:"entity_sun"`
	EntityProductionW      string  `yaml:"entity_production_w"`
	EntityConsumptionW     string  `yaml:"entity_consumption_w"`
	MinSurplusW            float64 `yaml:"min_surplus_w"`
	RequireSunAboveHorizon *bool   `yaml:"require_sun_above_horizon"`
}

type Nightscout struct {
	Enabled      bool     `yaml:"enabled"`
	BaseURL      string   `yaml:"base_url"`
	AccessToken  string   `yaml:"access_token"`
	Collections  []string `yaml:"collections"`
	StaleSeconds int      `yaml:"stale_seconds"`
}

type Motion struct {
	Enabled     bool   `yaml:"enabled"`
	Chip        string `yaml:"chip"`
	Pin         int    `yaml:"pin"`
	ActiveLow   bool   `yaml:"active_low"`
	PollMs      int    `yaml:"poll_ms"`
	HoldSeconds int    `yaml:"hold_seconds"`
	// DebounceMs of zero accepts every reading.
	DebounceMs int `yaml:"debounce_ms"`
}

type MQTT struct {
	// Broker is a paho URL such as tcp://host:1883. Empty disables publishing.
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type HTTP struct {
	// Addr is the status server listen address. Empty disables it.
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, normalizes and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: document is empty", ErrInvalid)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize trims whitespace and fills defaults.
func (c *Config) Normalize() {
	c.Chromium.UserDataDir = strings.TrimSpace(c.Chromium.UserDataDir)
	if c.Chromium.UserDataDir == "" {
		c.Chromium.UserDataDir = browser.DefaultUserDataDir()
	}
	if c.Chromium.Bin == "" {
		c.Chromium.Bin = "chromium"
	}
	for name, u := range c.Views {
		c.Views[name] = strings.TrimSpace(u)
	}
	if c.Screen.BrightnessOn == 0 {
		c.Screen.BrightnessOn = 255
	}
	if c.Controller.TickMs == 0 {
		c.Controller.TickMs = 250
	}
	if c.Controller.ShutdownGraceMs == 0 {
		c.Controller.ShutdownGraceMs = 3000
	}
	if c.Controller.HeartbeatSeconds == 0 {
		c.Controller.HeartbeatSeconds = 900
	}
	if c.IPC.Bus == "" {
		c.IPC.Bus = "session"
	}
	if c.Plugins.HomeAssistant.RequireSunAboveHorizon == nil {
		t := true
		c.Plugins.HomeAssistant.RequireSunAboveHorizon = &t
	}
	if len(c.Plugins.Nightscout.Collections) == 0 {
		c.Plugins.Nightscout.Collections = []string{"entries"}
	}
	if c.Plugins.Nightscout.StaleSeconds == 0 {
		c.Plugins.Nightscout.StaleSeconds = 900
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the invariants the controller relies on.
func (c *Config) Validate() error {
	if len(c.Views) == 0 {
		return invalid("views must be a non-empty mapping")
	}
	if len(c.Playlist) == 0 {
		return invalid("playlist must be a non-empty list")
	}
	for i, item := range c.Playlist {
		if _, ok := c.Views[item.View]; !ok {
			return invalid("playlist[%d] references unknown view %q", i, item.View)
		}
		if item.Seconds <= 0 {
			return invalid("playlist[%d].seconds must be > 0", i)
		}
	}

	p := c.Policy
	switch {
	case p.IdleOffSeconds <= 0:
		return invalid("policy.idle_off_seconds must be > 0")
	case p.ManualTimeoutSeconds <= 0:
		return invalid("policy.manual_timeout_seconds must be > 0")
	case p.HypoThresholdMmol <= 0:
		return invalid("policy.hypo_threshold_mmol must be > 0")
	case p.TrendingGuardMmol < 0:
		return invalid("policy.trending_guard_mmol cannot be negative")
	}

	if c.Screen.BacklightSysfs == "" {
		return invalid("screen.backlight_sysfs is required")
	}
	if c.Screen.BrightnessOn < 0 || c.Screen.BrightnessDim < 0 {
		return invalid("screen brightness cannot be negative")
	}
	if c.System.PoweroffCommand != nil && len(c.System.PoweroffCommand) == 0 {
		return invalid("system.poweroff_command must be a non-empty list")
	}
	if c.Controller.TickMs < 0 || c.Controller.ShutdownGraceMs < 0 {
		return invalid("controller intervals cannot be negative")
	}
	if c.IPC.Bus != "session" && c.IPC.Bus != "system" {
		return invalid("ipc.bus must be session or system, got %q", c.IPC.Bus)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return invalid("log.format must be console or json, got %q", c.Log.Format)
	}

	if err := c.validatePlugins(); err != nil {
		return err
	}
	if !c.Security.AllowInsecure {
		return c.validateSecure()
	}
	return nil
}

func (c *Config) validatePlugins() error {
	ha := c.Plugins.HomeAssistant
	if ha.Enabled {
		for key, v := range map[string]string{
			"ws_url":               ha.WSURL,
			"token":                ha.Token,
			"entity_sun":           ha.EntitySun,
			"entity_production_w":  ha.EntityProductionW,
			"entity_consumption_w": ha.EntityConsumptionW,
		} {
			if v == "" {
				return invalid("plugins.homeassistant.%s is required", key)
			}
		}
	}
	ns := c.Plugins.Nightscout
	if ns.Enabled {
		if ns.BaseURL == "" || ns.AccessToken == "" {
			return invalid("plugins.nightscout requires base_url and access_token")
		}
		if ns.StaleSeconds < 0 {
			return invalid("plugins.nightscout.stale_seconds cannot be negative")
		}
	}
	m := c.Plugins.Motion
	if m.Enabled && (m.Pin < 0 || m.PollMs < 0 || m.HoldSeconds < 0 || m.DebounceMs < 0) {
		return invalid("plugins.motion values cannot be negative")
	}
	return nil
}

// validateSecure enforces TLS on every remote endpoint.
func (c *Config) validateSecure() error {
	for _, name := range c.ViewNames() {
		if !strings.HasPrefix(c.Views[name], "https://") {
			return invalid("views.%s must be https:// (set security.allow_insecure to bypass)", name)
		}
	}
	if c.Plugins.HomeAssistant.Enabled && !strings.HasPrefix(c.Plugins.HomeAssistant.WSURL, "wss://") {
		return invalid("Home Assistant ws_url must be wss:// when allow_insecure is false")
	}
	if c.Plugins.Nightscout.Enabled && !strings.HasPrefix(c.Plugins.Nightscout.BaseURL, "https://") {
		return invalid("Nightscout base_url must be https:// when allow_insecure is false")
	}
	return nil
}

// ViewNames returns the view names sorted.
func (c *Config) ViewNames() []string {
	names := make([]string, 0, len(c.Views))
	for n := range c.Views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PolicyConfig converts the policy section.
func (c *Config) PolicyConfig() policy.Config {
	falling := make(map[string]bool, len(c.Policy.FallingDirections))
	for _, d := range c.Policy.FallingDirections {
		falling[d] = true
	}
	return policy.Config{
		IdleOff:           seconds(c.Policy.IdleOffSeconds),
		ManualTimeout:     seconds(c.Policy.ManualTimeoutSeconds),
		HypoThresholdMmol: c.Policy.HypoThresholdMmol,
		TrendingGuardMmol: c.Policy.TrendingGuardMmol,
		FallingDirections: falling,
	}
}

// PlaylistEntries converts the playlist.
func (c *Config) PlaylistEntries() []policy.PlaylistEntry {
	out := make([]policy.PlaylistEntry, len(c.Playlist))
	for i, item := range c.Playlist {
		out[i] = policy.PlaylistEntry{View: item.View, Duration: seconds(item.Seconds)}
	}
	return out
}

func (c Controller) Tick() time.Duration          { return time.Duration(c.TickMs) * time.Millisecond }
func (c Controller) ShutdownGrace() time.Duration { return time.Duration(c.ShutdownGraceMs) * time.Millisecond }

// Heartbeat is zero (disabled) when heartbeat_seconds is negative.
func (c Controller) Heartbeat() time.Duration {
	if c.HeartbeatSeconds < 0 {
		return 0
	}
	return seconds(c.HeartbeatSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
