package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/metrics"
	"github.com/sweeney/kiosk-control/internal/mqtt"
	"github.com/sweeney/kiosk-control/internal/policy"
	"github.com/sweeney/kiosk-control/internal/status"
)

// outMsg is one queued MQTT publication; exactly one field is set.
type outMsg struct {
	event  *policy.Event
	system *mqtt.SystemEvent
}

// Run starts the browser and plugins, then ticks until ctx is done.
// A browser start failure is fatal. Plugin start failures are logged.
// On return plugins are stopped and the browser is terminated.
//
// The shutdown reason published over MQTT is taken from context.Cause.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.browser.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	if err := c.plugins.StartAll(ctx, c.store); err != nil {
		c.log.Warn().Err(err).Msg("continuing with failed plugins")
	}

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	c.runLoop(ctx, ticker.C)

	stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace+time.Second)
	defer cancel()
	if err := c.plugins.StopAll(stopCtx); err != nil {
		c.log.Warn().Err(err).Msg("plugin shutdown incomplete")
	}
	c.browser.Terminate()
	c.log.Info().Msg("stopped")
	return nil
}

// runLoop drives ticks from tick until ctx is done. The navigator and
// publisher goroutines it starts have exited when it returns.
func (c *Controller) runLoop(ctx context.Context, tick <-chan time.Time) {
	start := c.now()
	c.store.SetDefault(facts.ActivityLastTS, start)
	c.mu.Lock()
	c.state.LastSwitch = start
	c.lastBeat = start
	c.mu.Unlock()

	workCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.navigator(workCtx)
	}()
	go func() {
		defer wg.Done()
		c.publisher(workCtx)
	}()

	c.publishSystemNow("STARTUP", "", true)
	c.log.Info().Dur("tick", c.cfg.Tick).Msg("controller running")

	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			c.publishSystemNow("SHUTDOWN", shutdownReason(ctx), true)
			return
		case <-tick:
			c.tick(c.now())
		}
	}
}

func shutdownReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return "CONTEXT_DONE"
	}
	return cause.Error()
}

// decideLocked evaluates snap and applies a forced sleep unless snap
// itself carries a glucose alert.
func (c *Controller) decideLocked(snap facts.Map, inhibit bool, now time.Time) policy.Decision {
	d := policy.Evaluate(c.cfg.Policy, c.state, snap, c.cfg.Views, c.cfg.Playlist, inhibit, now)
	if c.forcedSleep && !policy.DeriveAlert(snap, c.cfg.Policy) {
		d.ScreenOn = false
		d.Why = policy.ReasonForcedSleep
	}
	return d
}

// tick evaluates policy against the current facts and applies the result.
func (c *Controller) tick(now time.Time) {
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	snap := c.store.Snapshot()
	alert := policy.DeriveAlert(snap, c.cfg.Policy)
	snap[facts.NightscoutAlert] = alert
	c.store.Set(facts.NightscoutAlert, alert)
	inhibit, reasons := c.plugins.ScreensaverInhibit(snap)

	c.mu.Lock()
	d := c.decideLocked(snap, inhibit, now)
	events := c.applyLocked(d, alert, now)
	c.last = d
	kiosk := status.Kiosk{
		ScreenOn:      c.screenOn,
		View:          d.View,
		Why:           d.Why,
		ForcedSleep:   c.forcedSleep,
		ManualView:    c.state.ManualView,
		ManualUntil:   c.state.ManualUntil,
		PlaylistIndex: c.state.PlaylistIndex,
		Inhibit:       reasons,
		Facts:         snap,
	}
	counts := c.counts
	beat := c.cfg.Heartbeat > 0 && now.Sub(c.lastBeat) >= c.cfg.Heartbeat
	if beat {
		c.lastBeat = now
	}
	c.mu.Unlock()

	metrics.Decisions.WithLabelValues(string(d.Why)).Inc()
	metrics.ScreenOn.Set(metrics.Bool(kiosk.ScreenOn))
	metrics.AlertActive.Set(metrics.Bool(alert))

	if c.tracker != nil {
		c.tracker.Update(kiosk, counts)
		if c.mqttState != nil {
			c.tracker.SetMQTTConnected(c.mqttState.IsConnected())
		}
	}
	for i := range events {
		c.enqueue(outMsg{event: &events[i]})
	}
	if beat {
		c.enqueue(outMsg{system: c.systemEvent("HEARTBEAT", "", false)})
	}
}

// applyLocked drives the backlight, playlist and browser toward d and
// returns the resulting transitions. c.mu must be held.
func (c *Controller) applyLocked(d policy.Decision, alert bool, now time.Time) []policy.Event {
	var events []policy.Event

	if d.ScreenOn != c.screenOn {
		c.screenOn = d.ScreenOn
		level, kind, state := c.cfg.BrightnessDim, policy.EventScreenOff, "off"
		if d.ScreenOn {
			level, kind, state = c.cfg.BrightnessOn, policy.EventScreenOn, "on"
		}
		if err := c.backlight.SetBrightness(level); err != nil {
			metrics.BacklightErrors.Inc()
			c.log.Error().Err(err).Int("level", level).Msg("set brightness")
		}
		if err := c.backlight.SetPower(d.ScreenOn); err != nil {
			metrics.BacklightErrors.Inc()
			c.log.Error().Err(err).Bool("on", d.ScreenOn).Msg("set backlight power")
		}
		if d.ScreenOn {
			c.counts.ScreenOn++
		} else {
			c.counts.ScreenOff++
		}
		metrics.ScreenTransitions.WithLabelValues(state).Inc()
		c.log.Info().Str("screen", state).Str("why", string(d.Why)).Msg("screen transition")
		events = append(events, policy.Event{Timestamp: now, Type: kind, ScreenOn: d.ScreenOn, View: d.View, Why: d.Why})
	}

	if c.screenOn && !alert && !c.state.ManualActive(now) && len(c.cfg.Playlist) > 0 {
		entry := c.cfg.Playlist[c.state.PlaylistIndex]
		if now.Sub(c.state.LastSwitch) >= entry.Duration {
			c.state.PlaylistIndex = policy.Wrap(c.state.PlaylistIndex+1, len(c.cfg.Playlist))
			c.state.LastSwitch = now
			c.log.Debug().Int("index", c.state.PlaylistIndex).Msg("playlist advance")
		}
	}

	if c.screenOn && d.View != c.currentView && !now.Before(c.navRetryAt) {
		c.currentView = d.View
		c.requestNavigate(navRequest{view: d.View, url: c.cfg.Views[d.View]})
		events = append(events, policy.Event{Timestamp: now, Type: policy.EventView, ScreenOn: true, View: d.View, Why: d.Why})
	}
	return events
}

// requestNavigate hands req to the navigator, replacing any request it
// has not picked up yet. Only the tick sends, so this never blocks.
func (c *Controller) requestNavigate(req navRequest) {
	select {
	case c.navCh <- req:
		return
	default:
	}
	select {
	case <-c.navCh:
	default:
	}
	select {
	case c.navCh <- req:
	default:
	}
}

// navigator performs browser navigations off the tick. A failure forgets
// the current view so a later tick requests it again.
func (c *Controller) navigator(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.navCh:
			navCtx, cancel := context.WithTimeout(ctx, navTimeout)
			err := c.browser.Navigate(navCtx, req.url)
			cancel()

			c.mu.Lock()
			if err != nil {
				c.counts.NavigationErrors++
				if c.currentView == req.view {
					c.currentView = ""
				}
				c.navRetryAt = c.now().Add(navRetryDelay)
			} else {
				c.counts.Navigations++
			}
			c.mu.Unlock()

			if err != nil {
				metrics.Navigations.WithLabelValues(req.view, "error").Inc()
				c.log.Error().Err(err).Str("view", req.view).Msg("navigate")
				continue
			}
			metrics.Navigations.WithLabelValues(req.view, "ok").Inc()
			c.log.Info().Str("view", req.view).Str("url", req.url).Msg("navigated")
		}
	}
}

func (c *Controller) enqueue(m outMsg) {
	if c.pub == nil {
		return
	}
	select {
	case c.outbox <- m:
	default:
		c.log.Warn().Msg("mqtt outbox full, dropping event")
	}
}

// publisher drains the outbox so a slow broker never stalls the tick.
// Queued messages are flushed before it returns.
func (c *Controller) publisher(ctx context.Context) {
	for {
		select {
		case m := <-c.outbox:
			c.send(m)
		case <-ctx.Done():
			for {
				select {
				case m := <-c.outbox:
					c.send(m)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) send(m outMsg) {
	var err error
	switch {
	case m.event != nil:
		err = c.pub.Publish(*m.event)
	case m.system != nil:
		err = c.pub.PublishSystem(*m.system)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("mqtt publish")
	}
}

func (c *Controller) systemEvent(event, reason string, retained bool) *mqtt.SystemEvent {
	e := &mqtt.SystemEvent{
		Timestamp: c.now(),
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if c.tracker != nil {
		e.RawPayload = status.FormatStatusEvent(c.tracker.Snapshot(), event, reason)
	}
	return e
}

// publishSystemNow publishes synchronously; used for lifecycle events
// outside the tick.
func (c *Controller) publishSystemNow(event, reason string, retained bool) {
	if c.pub == nil {
		return
	}
	c.send(outMsg{system: c.systemEvent(event, reason, retained)})
}
