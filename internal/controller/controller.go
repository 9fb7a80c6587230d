// Package controller owns the kiosk runtime state and re-evaluates the
// screen/view decision on a fixed tick.
package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/backlight"
	"github.com/sweeney/kiosk-control/internal/browser"
	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/logging"
	"github.com/sweeney/kiosk-control/internal/mqtt"
	"github.com/sweeney/kiosk-control/internal/plugin"
	"github.com/sweeney/kiosk-control/internal/policy"
	"github.com/sweeney/kiosk-control/internal/power"
	"github.com/sweeney/kiosk-control/internal/status"
)

// ErrAlertActive is returned by Sleep when a glucose alert overrides it.
var ErrAlertActive = errors.New("controller: sleep ignored while alert is active")

const (
	// navRetryDelay spaces out retries after a failed navigation.
	navRetryDelay = 2 * time.Second
	navTimeout    = 30 * time.Second
	outboxSize    = 64
)

// Config is the pre-validated controller configuration.
type Config struct {
	Policy        policy.Config
	Views         map[string]string
	Playlist      []policy.PlaylistEntry
	BrightnessOn  int
	BrightnessDim int
	Tick          time.Duration
	ShutdownGrace time.Duration
	// Heartbeat is the MQTT heartbeat period; zero disables it.
	Heartbeat time.Duration
}

// Deps are the controller's collaborators. Publisher, MQTTStatus and
// Tracker are optional.
type Deps struct {
	Store      *facts.Store
	Plugins    *plugin.Manager
	Browser    browser.Driver
	Backlight  backlight.Backlight
	Power      power.Requester
	Publisher  mqtt.Publisher
	MQTTStatus mqtt.ConnectionStatus
	Tracker    *status.Tracker
	Log        zerolog.Logger
	Now        func() time.Time
}

// Controller applies policy decisions. Mutators are safe for concurrent use
// and serialize with the tick.
type Controller struct {
	cfg       Config
	store     *facts.Store
	plugins   *plugin.Manager
	browser   browser.Driver
	backlight backlight.Backlight
	power     power.Requester
	pub       mqtt.Publisher
	mqttState mqtt.ConnectionStatus
	tracker   *status.Tracker
	log       zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	state       policy.RuntimeState
	screenOn    bool
	forcedSleep bool
	currentView string
	navRetryAt  time.Time
	last        policy.Decision
	counts      status.Counts
	lastBeat    time.Time

	navCh  chan navRequest
	outbox chan outMsg
}

type navRequest struct {
	view string
	url  string
}

// New creates a Controller. The screen is assumed on at start.
func New(cfg Config, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Store == nil {
		deps.Store = facts.New()
	}
	if deps.Plugins == nil {
		deps.Plugins = plugin.NewManager(nil, cfg.ShutdownGrace, deps.Log)
	}
	return &Controller{
		cfg:       cfg,
		store:     deps.Store,
		plugins:   deps.Plugins,
		browser:   deps.Browser,
		backlight: deps.Backlight,
		power:     deps.Power,
		pub:       deps.Publisher,
		mqttState: deps.MQTTStatus,
		tracker:   deps.Tracker,
		log:       logging.Component(deps.Log, "controller"),
		now:       deps.Now,
		screenOn:  true,
		navCh:     make(chan navRequest, 1),
		outbox:    make(chan outMsg, outboxSize),
	}
}

// SetView pins a view for the manual timeout. Unknown views are ignored
// and reported as false.
func (c *Controller) SetView(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setViewLocked(name, c.now())
}

func (c *Controller) setViewLocked(name string, now time.Time) bool {
	if _, ok := c.cfg.Views[name]; !ok {
		return false
	}
	c.forcedSleep = false
	c.state.ManualView = name
	c.state.ManualUntil = now.Add(c.cfg.Policy.ManualTimeout)
	c.log.Info().Str("view", name).Time("until", c.state.ManualUntil).Msg("manual view")
	return true
}

// SetAuto clears the manual override.
func (c *Controller) SetAuto() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ManualView = ""
	c.state.ManualUntil = time.Time{}
	c.log.Info().Msg("auto mode")
}

// Next advances the playlist and pins the resulting view.
func (c *Controller) Next() { c.step(1) }

// Prev retreats the playlist and pins the resulting view.
func (c *Controller) Prev() { c.step(-1) }

func (c *Controller) step(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.Playlist) == 0 {
		return
	}
	c.forcedSleep = false
	c.state.PlaylistIndex = policy.Wrap(c.state.PlaylistIndex+delta, len(c.cfg.Playlist))
	c.setViewLocked(c.cfg.Playlist[c.state.PlaylistIndex].View, c.now())
}

// Wake clears forced sleep and records activity.
func (c *Controller) Wake(reason string) {
	now := c.now()
	c.mu.Lock()
	c.forcedSleep = false
	c.mu.Unlock()
	c.store.Set(facts.ActivityLastTS, now)
	c.log.Info().Str("reason", reason).Msg("wake")
}

// Sleep forces the screen off until the next wake, view or navigation
// request. It is refused with ErrAlertActive while an alert is active.
func (c *Controller) Sleep(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store.Bool(facts.NightscoutAlert) {
		c.log.Info().Str("reason", reason).Msg("sleep refused: alert active")
		return ErrAlertActive
	}
	c.forcedSleep = true
	c.log.Info().Str("reason", reason).Msg("forced sleep")
	return nil
}

// PowerOff reports whether the power-off command was dispatched.
func (c *Controller) PowerOff(reason string) bool {
	ok := c.power.Request(reason)
	c.log.Warn().Str("reason", reason).Bool("dispatched", ok).Msg("power off")
	return ok
}

// State returns a copy of the runtime state.
func (c *Controller) State() policy.RuntimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ForcedSleep reports whether a manual sleep is in effect.
func (c *Controller) ForcedSleep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forcedSleep
}

// LastDecision returns the decision applied by the most recent tick.
func (c *Controller) LastDecision() policy.Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
