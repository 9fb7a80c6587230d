// Package status provides a thread-safe status tracker for the kiosk controller.
// It is written by the controller tick and read by HTTP handlers and MQTT events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/policy"
)

// NetworkInfo contains network state provided by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains controller configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Views       []string
	Plugins     []string
}

// Kiosk is the controller state after the most recent tick.
type Kiosk struct {
	ScreenOn      bool
	View          string
	Why           policy.Reason
	ForcedSleep   bool
	ManualView    string
	ManualUntil   time.Time
	PlaylistIndex int
	Inhibit       []string
	Facts         facts.Map
}

// Counts are transition totals since start.
type Counts struct {
	ScreenOn         int
	ScreenOff        int
	Navigations      int
	NavigationErrors int
}

// Snapshot is a point-in-time view of controller state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Kiosk
	Counts        Counts
	Ready         bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the state after a tick and marks the tracker ready.
func (t *Tracker) Update(k Kiosk, c Counts) {
	t.mu.Lock()
	t.snap.Kiosk = k
	t.snap.Counts = c
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a copy of the state with Now set to the current time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
