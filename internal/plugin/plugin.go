// Package plugin defines the contract for fact-producing data sources and the
// manager that starts, stops and polls them.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/facts"
)

// Plugin is a data source that maintains its own namespace of facts.
type Plugin interface {
	// Name identifies the plugin in logs and inhibit reasons.
	Name() string

	// Start launches the plugin's background work and returns immediately.
	// The store is shared; the plugin writes only its own keys.
	Start(ctx context.Context, store *facts.Store) error

	// Stop signals the background work and waits for it, bounded by ctx.
	Stop(ctx context.Context) error

	// ScreensaverInhibit votes to keep the screen on. The reason is optional.
	ScreensaverInhibit(f facts.Reader) (bool, string)
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("plugin: already started")

// Task runs one long-lived plugin goroutine and lets Stop wait for it.
// The zero value is ready to use.
type Task struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Go runs fn in a new goroutine with a context cancelled by Halt.
// A non-nil, non-cancellation error from fn is logged; it never propagates.
func (t *Task) Go(ctx context.Context, log zerolog.Logger, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("plugin stopped")
		}
	}(t.done)
	return nil
}

// Halt cancels the goroutine and waits for it to return or ctx to expire.
// Halting a task that never started is a no-op.
func (t *Task) Halt(ctx context.Context) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for plugin: %w", ctx.Err())
	}
}
