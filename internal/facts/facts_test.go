package facts

import (
	"sync"
	"testing"
	"time"
)

func TestStoreTypedAccessors(t *testing.T) {
	s := New()
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Set(HAEnergyGood, true)
	s.Set(NightscoutSGVMmol, 4.2)
	s.Set(NightscoutDirection, "SingleDown")
	s.Set(ActivityLastTS, ts)

	if !s.Bool(HAEnergyGood) {
		t.Error("expected energy_good=true")
	}
	if f, ok := s.Float(NightscoutSGVMmol); !ok || f != 4.2 {
		t.Errorf("Float: got (%v, %v), want (4.2, true)", f, ok)
	}
	if got := s.String(NightscoutDirection); got != "SingleDown" {
		t.Errorf("String: got %q", got)
	}
	if got, ok := s.Time(ActivityLastTS); !ok || !got.Equal(ts) {
		t.Errorf("Time: got (%v, %v)", got, ok)
	}
}

func TestMissingAndMistypedFactsReadConservatively(t *testing.T) {
	m := Map{
		HAEnergyGood:      "yes",
		NightscoutSGVMmol: "not-a-number",
		ActivityLastTS:    12345,
	}

	if m.Bool(HAEnergyGood) {
		t.Error("non-bool value must read as false")
	}
	if m.Bool("missing") {
		t.Error("missing key must read as false")
	}
	if _, ok := m.Float(NightscoutSGVMmol); ok {
		t.Error("unparseable string must not read as a number")
	}
	if _, ok := m.Float("missing"); ok {
		t.Error("missing key must not read as a number")
	}
	if _, ok := m.Time(ActivityLastTS); ok {
		t.Error("non-time value must not read as a timestamp")
	}
	if got := m.String("missing"); got != "" {
		t.Errorf("missing string: got %q", got)
	}
}

func TestFloatAcceptsNumericKinds(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want float64
	}{
		{"float64", 5.5, 5.5},
		{"float32", float32(2.5), 2.5},
		{"int", 7, 7},
		{"int64", int64(9), 9},
		{"string", "4.9", 4.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Map{"k": tt.v}.Float("k")
			if !ok || got != tt.want {
				t.Errorf("got (%v, %v), want (%v, true)", got, ok, tt.want)
			}
		})
	}
}

func TestSetDefault(t *testing.T) {
	s := New()
	if !s.SetDefault("k", 1.0) {
		t.Error("expected first SetDefault to store")
	}
	if s.SetDefault("k", 2.0) {
		t.Error("expected second SetDefault to be ignored")
	}
	if f, _ := s.Float("k"); f != 1.0 {
		t.Errorf("got %v, want 1", f)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := New()
	s.Set("a", true)
	snap := s.Snapshot()
	s.Set("a", false)
	s.Delete("a")

	if !snap.Bool("a") {
		t.Error("snapshot changed after store mutation")
	}
	if _, ok := s.Get("a"); ok {
		t.Error("expected key to be deleted from store")
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for _, key := range []string{ActivityLastTS, HAEnergyGood, NightscoutSGVMmol} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Set(key, float64(i))
				_ = s.Snapshot()
			}
		}(key)
	}
	wg.Wait()

	for _, key := range []string{ActivityLastTS, HAEnergyGood, NightscoutSGVMmol} {
		if f, ok := s.Float(key); !ok || f != 999 {
			t.Errorf("%s: got (%v, %v), want (999, true)", key, f, ok)
		}
	}
}
