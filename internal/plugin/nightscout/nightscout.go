// Package nightscout follows glucose readings from a Nightscout server via
// the APIv3 socket.io storage channel.
package nightscout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/plugin"
)

// Name is the plugin name.
const Name = "nightscout"

// Namespace is the socket.io namespace for APIv3 storage events.
const Namespace = "/storage"

// MgdlPerMmol converts mg/dL readings to mmol/L.
const MgdlPerMmol = 18.0

const (
	defaultStaleAfter = 900 * time.Second
	defaultStaleCheck = 5 * time.Second
)

// Config configures the Nightscout plugin.
type Config struct {
	BaseURL     string
	AccessToken string
	// Collections to subscribe to. Defaults to entries.
	Collections []string
	// StaleAfter marks the reading stale when no update arrives for this long.
	StaleAfter time.Duration
	// StaleCheck is how often staleness is recomputed.
	StaleCheck time.Duration
}

// Plugin keeps nightscout.* facts in sync with the server.
type Plugin struct {
	cfg    Config
	dialer *websocket.Dialer
	now    func() time.Time
	log    zerolog.Logger
	task   plugin.Task
	retry  plugin.Backoff
}

// New creates a Nightscout plugin.
func New(cfg Config, log zerolog.Logger) *Plugin {
	if len(cfg.Collections) == 0 {
		cfg.Collections = []string{"entries"}
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.StaleCheck <= 0 {
		cfg.StaleCheck = defaultStaleCheck
	}
	return &Plugin{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		now:    time.Now,
		log:    log.With().Str("plugin", Name).Logger(),
		retry:  plugin.Backoff{Min: time.Second, Max: time.Minute},
	}
}

func (p *Plugin) Name() string { return Name }

// Start connects in the background and runs the staleness watcher.
func (p *Plugin) Start(ctx context.Context, store *facts.Store) error {
	endpoint, err := socketURL(p.cfg.BaseURL)
	if err != nil {
		return err
	}
	return p.task.Go(ctx, p.log, func(ctx context.Context) error {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.watchStale(ctx, store)
		}()
		err := p.run(ctx, endpoint, store)
		wg.Wait()
		return err
	})
}

// Stop disconnects and waits for both goroutines.
func (p *Plugin) Stop(ctx context.Context) error {
	return p.task.Halt(ctx)
}

// ScreensaverInhibit votes while the controller reports a glucose alert.
func (p *Plugin) ScreensaverInhibit(f facts.Reader) (bool, string) {
	if f.Bool(facts.NightscoutAlert) {
		return true, facts.NightscoutAlert
	}
	return false, ""
}

// Stale reports whether the last update is older than staleAfter.
// A reading that never arrived is stale.
func Stale(f facts.Reader, now time.Time, staleAfter time.Duration) bool {
	last, ok := f.Time(facts.NightscoutLastUpdateTS)
	if !ok {
		return true
	}
	return now.Sub(last) > staleAfter
}

func (p *Plugin) watchStale(ctx context.Context, store *facts.Store) {
	ticker := time.NewTicker(p.cfg.StaleCheck)
	defer ticker.Stop()
	for {
		stale := Stale(store, p.now(), p.cfg.StaleAfter)
		if stale && !store.Bool(facts.NightscoutStale) {
			if _, seen := store.Get(facts.NightscoutLastUpdateTS); seen {
				p.log.Warn().Dur("after", p.cfg.StaleAfter).Msg("glucose reading is stale")
			}
		}
		store.Set(facts.NightscoutStale, stale)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Plugin) run(ctx context.Context, endpoint string, store *facts.Store) error {
	for {
		store.Set(facts.NightscoutConnected, false)
		err := p.session(ctx, endpoint, store)
		if store.Bool(facts.NightscoutConnected) {
			p.retry.Reset()
		}
		store.Set(facts.NightscoutConnected, false)
		if ctx.Err() != nil {
			return ctx.Err()
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

type storageEvent struct {
	ColName string         `json:"colName"`
	Doc     map[string]any `json:"doc"`
}

// subscribeAck is the ack id used for the subscribe request.
const subscribeAck = 1

// session runs one socket.io connection until it fails or ctx is cancelled.
func (p *Plugin) session(ctx context.Context, endpoint string, store *facts.Store) error {
	conn, _, err := p.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	// Writes come from this goroutine only, so no write lock is needed.
	send := func(frame string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}

	// The server pings every pingInterval; a frame must arrive within
	// pingInterval+pingTimeout or the session is dead.
	liveness := handshake{}.liveness()
	for {
		if err := conn.SetReadDeadline(time.Now().Add(liveness)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		pkt, err := parsePacket(string(raw))
		if err != nil {
			p.log.Debug().Err(err).Msg("skip frame")
			continue
		}

		switch pkt.eio {
		case eioOpen:
			var hs handshake
			if err := json.Unmarshal(pkt.data, &hs); err != nil {
				p.log.Debug().Err(err).Msg("decode handshake")
			}
			liveness = hs.liveness()
			if err := send(encodeConnect(Namespace)); err != nil {
				return fmt.Errorf("connect namespace: %w", err)
			}
		case eioPing:
			if err := send(string(eioPong)); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case eioClose:
			return errors.New("server closed session")
		case eioMessage:
			if pkt.nsp != Namespace {
				continue
			}
			if err := p.handleMessage(pkt, store, send); err != nil {
				return err
			}
		}
	}
}

func (p *Plugin) handleMessage(pkt packet, store *facts.Store, send func(string) error) error {
	switch pkt.sio {
	case sioConnect:
		store.Set(facts.NightscoutConnected, true)
		p.log.Info().Msg("connected")
		frame, err := encodeEvent(Namespace, subscribeAck, "subscribe", map[string]any{
			"accessToken": p.cfg.AccessToken,
			"collections": p.cfg.Collections,
		})
		if err != nil {
			return fmt.Errorf("encode subscribe: %w", err)
		}
		if err := send(frame); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	case sioConnectError:
		return fmt.Errorf("namespace refused: %s", pkt.data)
	case sioDisconnect:
		return errors.New("namespace disconnected")
	case sioAck:
		if pkt.id == subscribeAck {
			p.log.Debug().RawJSON("reply", pkt.data).Msg("subscribe acknowledged")
		}
	case sioEvent:
		name, args, err := pkt.event()
		if err != nil {
			p.log.Debug().Err(err).Msg("skip event")
			return nil
		}
		if (name != "create" && name != "update") || len(args) == 0 {
			return nil
		}
		var ev storageEvent
		if err := json.Unmarshal(args[0], &ev); err != nil {
			p.log.Debug().Err(err).Msg("skip storage event")
			return nil
		}
		if ev.ColName == "entries" && ev.Doc != nil {
			p.applyEntry(store, ev.Doc)
		}
	}
	return nil
}

// applyEntry records an entries document. Documents without a numeric sgv
// (calibrations, meter readings) are ignored.
func (p *Plugin) applyEntry(store *facts.Store, doc map[string]any) {
	sgv, ok := facts.Map(doc).Float("sgv")
	if !ok {
		return
	}
	direction, _ := doc["direction"].(string)

	store.Set(facts.NightscoutSGVMgdl, sgv)
	store.Set(facts.NightscoutSGVMmol, sgv/MgdlPerMmol)
	store.Set(facts.NightscoutDirection, direction)
	if date, ok := entryDate(doc); ok {
		store.Set(facts.NightscoutDate, date)
	}
	store.Set(facts.NightscoutLastUpdateTS, p.now())
	store.Set(facts.NightscoutStale, false)
	p.log.Debug().Float64("sgv_mgdl", sgv).Str("direction", direction).Msg("reading")
}

// entryDate reads the epoch-millisecond date, falling back to dateString.
func entryDate(doc map[string]any) (time.Time, bool) {
	if ms, ok := doc["date"].(float64); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	if s, ok := doc["dateString"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
