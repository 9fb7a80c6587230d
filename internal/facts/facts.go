// Package facts holds the flat key/value store that plugins and the controller
// write observed state into. Keys are namespaced by producer ("activity.",
// "ha.", "nightscout.", "motion."). A missing key means "unknown" and every
// typed accessor reads it conservatively as false, zero or not-ok.
package facts

import (
	"strconv"
	"sync"
	"time"
)

// Well-known fact keys.
const (
	ActivityLastTS = "activity.last_ts"
	ActivityDevice = "activity.device"

	HAConnected    = "ha.connected"
	HASunState     = "ha.sun_state"
	HAProductionW  = "ha.production_w"
	HAConsumptionW = "ha.consumption_w"
	HAEnergyGood   = "ha.energy_good"

	NightscoutConnected    = "nightscout.connected"
	NightscoutSGVMgdl      = "nightscout.sgv_mgdl"
	NightscoutSGVMmol      = "nightscout.sgv_mmol"
	NightscoutDirection    = "nightscout.direction"
	NightscoutDate         = "nightscout.date"
	NightscoutLastUpdateTS = "nightscout.last_update_ts"
	NightscoutStale        = "nightscout.stale"
	NightscoutAlert        = "nightscout.alert"

	MotionActive = "motion.active"
	MotionLastTS = "motion.last_ts"
)

// Reader is read-only access to facts.
type Reader interface {
	Get(key string) (any, bool)
	Bool(key string) bool
	Float(key string) (float64, bool)
	String(key string) string
	Time(key string) (time.Time, bool)
}

// Store is safe for concurrent writers (one per namespace) and the controller tick.
type Store struct {
	mu sync.RWMutex
	m  map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{m: make(map[string]any)}
}

// Set stores v under key.
func (s *Store) Set(key string, v any) {
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// SetDefault stores v only if key is absent. It reports whether v was stored.
func (s *Store) SetDefault(key string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = v
	return true
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *Store) Bool(key string) bool {
	v, _ := s.Get(key)
	return toBool(v)
}

func (s *Store) Float(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func (s *Store) String(key string) string {
	v, _ := s.Get(key)
	return toString(v)
}

func (s *Store) Time(key string) (time.Time, bool) {
	v, _ := s.Get(key)
	return toTime(v)
}

// Snapshot returns a point-in-time copy of all facts.
func (s *Store) Snapshot() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Map, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Map is an unsynchronized fact set, used for per-tick snapshots and tests.
type Map map[string]any

func (m Map) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Map) Bool(key string) bool { return toBool(m[key]) }

func (m Map) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func (m Map) String(key string) string { return toString(m[key]) }

func (m Map) Time(key string) (time.Time, bool) { return toTime(m[key]) }

func toBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	if !ok || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}
