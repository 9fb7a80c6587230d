package power

import "sync"

// FakeRequester records reasons and returns Result.
type FakeRequester struct {
	Result bool

	mu      sync.Mutex
	reasons []string
}

func (f *FakeRequester) Request(reason string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	return f.Result
}

// Reasons returns the recorded reasons.
func (f *FakeRequester) Reasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}
