// Package homeassistant derives an "energy good" fact from Home Assistant
// solar production and consumption sensors over its websocket API.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/plugin"
)

// Name is the plugin name.
const Name = "homeassistant"

// ErrAuth is returned when Home Assistant rejects the access token.
var ErrAuth = errors.New("homeassistant: auth failed")

const (
	pingInterval = 20 * time.Second
	pingTimeout  = 20 * time.Second
	writeWait    = 10 * time.Second
)

// Config configures the Home Assistant plugin.
type Config struct {
	WSURL                  string
	Token                  string
	EntitySun              string
	EntityProductionW      string
	EntityConsumptionW     string
	MinSurplusW            float64
	RequireSunAboveHorizon bool
}

// Plugin keeps ha.* facts in sync with Home Assistant state.
type Plugin struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger
	task   plugin.Task
	retry  plugin.Backoff

	// The server must answer a ping within pingTimeout.
	pingInterval time.Duration
	pingTimeout  time.Duration

	mu    sync.Mutex
	msgID int
}

// New creates a Home Assistant plugin.
func New(cfg Config, log zerolog.Logger) *Plugin {
	return &Plugin{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log.With().Str("plugin", Name).Logger(),
		retry:  plugin.Backoff{Min: time.Second, Max: time.Minute},

		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
}

func (p *Plugin) Name() string { return Name }

// Start connects in the background, reconnecting with backoff.
func (p *Plugin) Start(ctx context.Context, store *facts.Store) error {
	return p.task.Go(ctx, p.log, func(ctx context.Context) error {
		return p.run(ctx, store)
	})
}

// Stop closes the connection and waits for the reader to exit.
func (p *Plugin) Stop(ctx context.Context) error {
	return p.task.Halt(ctx)
}

// ScreensaverInhibit votes while surplus energy is available.
func (p *Plugin) ScreensaverInhibit(f facts.Reader) (bool, string) {
	if f.Bool(facts.HAEnergyGood) {
		return true, facts.HAEnergyGood
	}
	return false, ""
}

// EnergyGood reports whether the sun condition holds and production exceeds
// consumption by at least minSurplus. Missing readings are never good.
func EnergyGood(f facts.Reader, minSurplus float64, requireSun bool) bool {
	prod, ok := f.Float(facts.HAProductionW)
	if !ok {
		return false
	}
	cons, ok := f.Float(facts.HAConsumptionW)
	if !ok {
		return false
	}
	if requireSun && f.String(facts.HASunState) != "above_horizon" {
		return false
	}
	return prod-cons >= minSurplus
}

func (p *Plugin) run(ctx context.Context, store *facts.Store) error {
	for {
		store.Set(facts.HAConnected, false)
		err := p.session(ctx, store)
		if store.Bool(facts.HAConnected) {
			p.retry.Reset()
		}
		// Readings from a lost connection cannot keep the screen on.
		store.Set(facts.HAConnected, false)
		store.Set(facts.HAEnergyGood, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuth) {
			// Retrying a bad token only spams the server log.
			return err
		}
		backoff := p.retry.Next()
		p.log.Warn().Err(err).Dur("retry_in", backoff).Msg("disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

type message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *event          `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
}

type event struct {
	EventType string    `json:"event_type"`
	Data      eventData `json:"data"`
}

type eventData struct {
	EntityID string       `json:"entity_id"`
	NewState *entityState `json:"new_state"`
}

type entityState struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

func (p *Plugin) nextID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgID++
	return p.msgID
}

// session runs one connection until it fails or ctx is cancelled.
func (p *Plugin) session(ctx context.Context, store *facts.Store) error {
	conn, _, err := p.dialer.DialContext(ctx, p.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	alive := func() error {
		return conn.SetReadDeadline(time.Now().Add(p.pingInterval + p.pingTimeout))
	}
	if err := alive(); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error { return alive() })

	// Closing the conn unblocks ReadJSON on shutdown or a failed ping.
	stop := make(chan struct{})
	defer close(stop)
	go p.keepalive(ctx, conn, stop)

	if err := p.authenticate(conn); err != nil {
		return err
	}
	store.Set(facts.HAConnected, true)
	p.log.Info().Str("url", p.cfg.WSURL).Msg("connected")

	statesID := p.nextID()
	if err := conn.WriteJSON(map[string]any{"id": statesID, "type": "get_states"}); err != nil {
		return fmt.Errorf("request states: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"id": p.nextID(), "type": "subscribe_events", "event_type": "state_changed"}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := alive(); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		switch {
		case msg.Type == "result" && msg.ID == statesID:
			var states []entityState
			if err := json.Unmarshal(msg.Result, &states); err != nil {
				p.log.Warn().Err(err).Msg("decode states")
				continue
			}
			for _, s := range states {
				p.apply(store, s.EntityID, s.State)
			}
		case msg.Type == "event" && msg.Event != nil && msg.Event.EventType == "state_changed":
			if msg.Event.Data.NewState == nil {
				continue
			}
			p.apply(store, msg.Event.Data.EntityID, msg.Event.Data.NewState.State)
		}
	}
}

// keepalive pings the server until stop is closed. A server that goes
// silent misses the read deadline and ends the session.
func (p *Plugin) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.log.Debug().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (p *Plugin) authenticate(conn *websocket.Conn) error {
	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", msg.Type)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": p.cfg.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	if msg.Type != "auth_ok" {
		return fmt.Errorf("%w: %s", ErrAuth, msg.Message)
	}
	return nil
}

// apply records a tracked entity's state and recomputes ha.energy_good.
// Untracked entities are ignored.
func (p *Plugin) apply(store *facts.Store, entity, state string) {
	switch entity {
	case p.cfg.EntitySun:
		store.Set(facts.HASunState, state)
	case p.cfg.EntityProductionW:
		v, err := strconv.ParseFloat(state, 64)
		if err != nil {
			return
		}
		store.Set(facts.HAProductionW, v)
	case p.cfg.EntityConsumptionW:
		v, err := strconv.ParseFloat(state, 64)
		if err != nil {
			return
		}
		store.Set(facts.HAConsumptionW, v)
	default:
		return
	}

	good := EnergyGood(store, p.cfg.MinSurplusW, p.cfg.RequireSunAboveHorizon)
	if good != store.Bool(facts.HAEnergyGood) {
		p.log.Info().Bool("energy_good", good).Msg("energy state changed")
	}
	store.Set(facts.HAEnergyGood, good)
}
