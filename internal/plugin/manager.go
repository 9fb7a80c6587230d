package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/logging"
)

// DefaultGrace bounds how long StopAll waits for each plugin.
const DefaultGrace = 3 * time.Second

// Manager fans lifecycle calls out to all registered plugins.
type Manager struct {
	plugins []Plugin
	grace   time.Duration
	log     zerolog.Logger
}

// NewManager creates a manager for the given plugins. A grace <= 0 uses DefaultGrace.
func NewManager(plugins []Plugin, grace time.Duration, log zerolog.Logger) *Manager {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Manager{
		plugins: plugins,
		grace:   grace,
		log:     logging.Component(log, "plugins"),
	}
}

// Plugins returns the registered plugins.
func (m *Manager) Plugins() []Plugin {
	return m.plugins
}

// StartAll starts every plugin concurrently. Failures are logged and
// returned joined; plugins that did start keep running.
func (m *Manager) StartAll(ctx context.Context, store *facts.Store) error {
	errs := make([]error, len(m.plugins))
	var g errgroup.Group
	for i, p := range m.plugins {
		i, p := i, p
		g.Go(func() error {
			if err := p.Start(ctx, store); err != nil {
				m.log.Error().Err(err).Str("plugin", p.Name()).Msg("start failed")
				errs[i] = fmt.Errorf("start %s: %w", p.Name(), err)
				return nil
			}
			m.log.Info().Str("plugin", p.Name()).Msg("started")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// StopAll stops every plugin concurrently, each bounded by the grace period.
// It always waits for every plugin and returns all failures joined.
func (m *Manager) StopAll(ctx context.Context) error {
	errs := make([]error, len(m.plugins))
	var g errgroup.Group
	for i, p := range m.plugins {
		i, p := i, p
		g.Go(func() error {
			stopCtx, cancel := context.WithTimeout(ctx, m.grace)
			defer cancel()
			if err := p.Stop(stopCtx); err != nil {
				m.log.Warn().Err(err).Str("plugin", p.Name()).Msg("stop failed")
				errs[i] = fmt.Errorf("stop %s: %w", p.Name(), err)
				return nil
			}
			m.log.Debug().Str("plugin", p.Name()).Msg("stopped")
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ScreensaverInhibit ORs the plugins' votes. Reasons fall back to the plugin name.
func (m *Manager) ScreensaverInhibit(f facts.Reader) (bool, []string) {
	var reasons []string
	for _, p := range m.plugins {
		inhibit, reason := p.ScreensaverInhibit(f)
		if !inhibit {
			continue
		}
		if reason == "" {
			reason = p.Name()
		}
		reasons = append(reasons, reason)
	}
	return len(reasons) > 0, reasons
}
