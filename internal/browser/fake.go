package browser

import (
	"context"
	"sync"
)

// FakeDriver records navigations for tests.
type FakeDriver struct {
	// StartError, if set, is returned by Start.
	StartError error
	// NavigateError, if set, is returned by every Navigate.
	NavigateError error

	mu         sync.Mutex
	started    bool
	terminated bool
	urls       []string
}

func (f *FakeDriver) Start(context.Context) error {
	if f.StartError != nil {
		return f.StartError
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *FakeDriver) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return ErrNotStarted
	}
	if f.NavigateError != nil {
		return f.NavigateError
	}
	f.urls = append(f.urls, url)
	return nil
}

func (f *FakeDriver) Terminate() {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
}

// SetNavigateError changes the error returned by Navigate.
func (f *FakeDriver) SetNavigateError(err error) {
	f.mu.Lock()
	f.NavigateError = err
	f.mu.Unlock()
}

// URLs returns a copy of the successfully navigated URLs in order.
func (f *FakeDriver) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

// Terminated reports whether Terminate was called.
func (f *FakeDriver) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}
