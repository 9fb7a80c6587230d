package plugin

import (
	"context"
	"sync"

	"github.com/sweeney/kiosk-control/internal/facts"
)

// FakePlugin is a test double with scripted behavior.
type FakePlugin struct {
	// PluginName is returned by Name.
	PluginName string

	// StartError, if set, is returned by Start.
	StartError error

	// StopError, if set, is returned by Stop.
	StopError error

	// Block makes Stop wait for ctx to expire, simulating a hung plugin.
	Block bool

	// Inhibit and Reason are returned by ScreensaverInhibit.
	Inhibit bool
	Reason  string

	// OnStart, if set, runs during Start with the shared store.
	OnStart func(store *facts.Store)

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewFakePlugin creates a FakePlugin with the given name.
func NewFakePlugin(name string) *FakePlugin {
	return &FakePlugin{PluginName: name}
}

func (f *FakePlugin) Name() string { return f.PluginName }

// Start records the call.
func (f *FakePlugin) Start(ctx context.Context, store *facts.Store) error {
	if f.StartError != nil {
		return f.StartError
	}
	if f.OnStart != nil {
		f.OnStart(store)
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

// Stop records the call.
func (f *FakePlugin) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.StopError
}

func (f *FakePlugin) ScreensaverInhibit(facts.Reader) (bool, string) {
	return f.Inhibit, f.Reason
}

// Started reports whether Start succeeded.
func (f *FakePlugin) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Stopped reports whether Stop was called.
func (f *FakePlugin) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
