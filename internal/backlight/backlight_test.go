package backlight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sysfsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, v := range map[string]string{"bl_power": "4", "brightness": "1000"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(v), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readAttr(t *testing.T, dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSysfsSetPower(t *testing.T) {
	dir := sysfsDir(t)
	s := Sysfs{Dir: dir}

	if err := s.SetPower(false); err != nil {
		t.Fatalf("SetPower(false): %v", err)
	}
	if got := readAttr(t, dir, "bl_power"); got != "1" {
		t.Errorf("off: bl_power = %q, want 1", got)
	}
	if err := s.SetPower(true); err != nil {
		t.Fatalf("SetPower(true): %v", err)
	}
	if got := readAttr(t, dir, "bl_power"); got != "0" {
		t.Errorf("on: bl_power = %q, want 0", got)
	}
}

func TestSysfsSetBrightness(t *testing.T) {
	dir := sysfsDir(t)
	if err := (Sysfs{Dir: dir}).SetBrightness(42); err != nil {
		t.Fatalf("SetBrightness: %v", err)
	}
	if got := readAttr(t, dir, "brightness"); got != "42" {
		t.Errorf("brightness = %q, want 42", got)
	}
}

func TestSysfsMissingDevice(t *testing.T) {
	s := Sysfs{Dir: filepath.Join(t.TempDir(), "absent")}
	if err := s.SetPower(true); err == nil {
		t.Error("SetPower: expected error for missing device")
	}
	if err := s.SetBrightness(1); err == nil {
		t.Error("SetBrightness: expected error for missing device")
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Error("writer must not create attributes")
	}
}

func TestFakeRecordsOrder(t *testing.T) {
	f := &FakeBacklight{}
	_ = f.SetBrightness(255)
	_ = f.SetPower(true)
	want := []string{"brightness=255", "power=true"}
	if diff := cmp.Diff(want, f.Calls()); diff != "" {
		t.Errorf("Calls mismatch (-want +got):\n%s", diff)
	}
}
