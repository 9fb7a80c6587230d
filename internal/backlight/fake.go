package backlight

import (
	"fmt"
	"sync"
)

// FakeBacklight records writes in call order.
type FakeBacklight struct {
	// Err, if set, is returned by every call. Calls are still recorded.
	Err error

	mu    sync.Mutex
	calls []string
}

func (f *FakeBacklight) SetPower(on bool) error {
	f.record(fmt.Sprintf("power=%t", on))
	return f.Err
}

func (f *FakeBacklight) SetBrightness(level int) error {
	f.record(fmt.Sprintf("brightness=%d", level))
	return f.Err
}

func (f *FakeBacklight) record(c string) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

// Calls returns a copy of the recorded writes, e.g. "brightness=255", "power=true".
func (f *FakeBacklight) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
