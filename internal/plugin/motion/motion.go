// Package motion watches a PIR motion sensor on a GPIO line.
package motion

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/debounce"
	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/gpio"
	"github.com/sweeney/kiosk-control/internal/plugin"
)

// Name is the plugin name.
const Name = "motion"

// Config configures the motion plugin.
type Config struct {
	// Poll is the GPIO sampling interval.
	Poll time.Duration
	// Hold keeps the screensaver inhibited this long after the last motion.
	Hold time.Duration
	// Debounce is how long a reading must persist before it is believed.
	Debounce time.Duration
}

// Plugin samples the sensor and publishes motion.* facts.
type Plugin struct {
	cfg    Config
	reader gpio.Reader
	now    func() time.Time
	log    zerolog.Logger
	task   plugin.Task
}

// New creates a motion plugin reading from reader. The plugin owns reader
// and closes it on Stop.
func New(cfg Config, reader gpio.Reader, log zerolog.Logger) *Plugin {
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	return &Plugin{
		cfg:    cfg,
		reader: reader,
		now:    time.Now,
		log:    log.With().Str("plugin", Name).Logger(),
	}
}

func (p *Plugin) Name() string { return Name }

// Start begins polling the sensor.
func (p *Plugin) Start(ctx context.Context, store *facts.Store) error {
	return p.task.Go(ctx, p.log, func(ctx context.Context) error {
		return p.run(ctx, store)
	})
}

// Stop halts polling and releases the GPIO line.
func (p *Plugin) Stop(ctx context.Context) error {
	err := p.task.Halt(ctx)
	if cerr := p.reader.Close(); cerr != nil {
		p.log.Warn().Err(cerr).Msg("close gpio")
	}
	return err
}

// ScreensaverInhibit votes while motion was seen within the hold window.
func (p *Plugin) ScreensaverInhibit(f facts.Reader) (bool, string) {
	last, ok := f.Time(facts.MotionLastTS)
	if !ok {
		return false, ""
	}
	if p.now().Sub(last) < p.cfg.Hold {
		return true, "motion.recent"
	}
	return false, ""
}

func (p *Plugin) run(ctx context.Context, store *facts.Store) error {
	ticker := time.NewTicker(p.cfg.Poll)
	defer ticker.Stop()

	det := debounce.New(p.cfg.Debounce)
	store.Set(facts.MotionActive, false)
	failing := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			raw, err := p.reader.Read()
			if err != nil {
				if !failing {
					p.log.Warn().Err(err).Msg("gpio read error")
					failing = true
				}
				continue
			}
			failing = false

			now := p.now()
			if tr, ok := det.Process(raw, now); ok {
				c := det.Counts()
				p.log.Debug().Bool("active", tr.Active).Int("rising", c.Rising).Msg("motion transition")
			}
			if !det.Baselined() {
				continue
			}
			active := det.Stable()
			store.Set(facts.MotionActive, active)
			if active {
				store.Set(facts.MotionLastTS, now)
			}
		}
	}
}
