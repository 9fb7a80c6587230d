package mqtt

import (
	"sync"

	"github.com/sweeney/kiosk-control/internal/policy"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// PublishError, if set, is returned by Publish.
	PublishError error
	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error
	// Connected is returned by IsConnected.
	Connected bool

	mu           sync.Mutex
	events       []policy.Event
	systemEvents []SystemEvent
	closed       bool
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) Publish(event policy.Event) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	if _, err := FormatPayload(event); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	f.mu.Lock()
	f.systemEvents = append(f.systemEvents, event)
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) IsConnected() bool { return f.Connected }

// Events returns the transition events published so far.
func (f *FakePublisher) Events() []policy.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]policy.Event(nil), f.events...)
}

// SystemEvents returns the lifecycle events published so far.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
