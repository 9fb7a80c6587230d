package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func writePortFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ActivePortFile), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseDevToolsActivePort(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"token", "12345\nABCDEF\n", "ws://127.0.0.1:12345/devtools/browser/ABCDEF"},
		{"absolute path", "9222\n/devtools/browser/XYZ\n", "ws://127.0.0.1:9222/devtools/browser/XYZ"},
		{"relative path", "9222\ndevtools/browser/XYZ", "ws://127.0.0.1:9222/devtools/browser/XYZ"},
		{"full url", "9222\nws://10.0.0.1:9333/devtools/browser/Q\n", "ws://10.0.0.1:9333/devtools/browser/Q"},
		{"blank lines and spaces", "\n 9222 \n\n  TOKEN  \n", "ws://127.0.0.1:9222/devtools/browser/TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writePortFile(t, dir, tt.content)
			got, err := ParseDevToolsActivePort(dir)
			if err != nil {
				t.Fatalf("ParseDevToolsActivePort: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDevToolsActivePortErrors(t *testing.T) {
	for name, content := range map[string]string{
		"port only": "9222\n",
		"bad port":  "abc\nTOKEN\n",
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writePortFile(t, dir, content)
			if _, err := ParseDevToolsActivePort(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := ParseDevToolsActivePort(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestDefaultUserDataDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	if got := DefaultUserDataDir(); got != "/xdg/state/kiosk-control/chrome-profile" {
		t.Errorf("with XDG_STATE_HOME: %q", got)
	}

	t.Setenv("XDG_STATE_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := DefaultUserDataDir(); !strings.HasPrefix(got, home) {
		t.Errorf("default %q is not under %q", got, home)
	}
}

func TestArgsAddsDebuggingPort(t *testing.T) {
	c := NewChromium(Config{Bin: "chromium", UserDataDir: " /tmp/p ", ExtraFlags: []string{"--kiosk"}}, zerolog.Nop())
	want := []string{"--user-data-dir=/tmp/p", "--kiosk", "--remote-debugging-port=0"}
	if diff := cmp.Diff(want, c.Args()); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}

	c = NewChromium(Config{Bin: "chromium", UserDataDir: "/tmp/p", ExtraFlags: []string{"--remote-debugging-port=9222"}}, zerolog.Nop())
	want = []string{"--user-data-dir=/tmp/p", "--remote-debugging-port=9222"}
	if diff := cmp.Diff(want, c.Args()); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigateBeforeStart(t *testing.T) {
	c := NewChromium(Config{Bin: "chromium"}, zerolog.Nop())
	if err := c.Navigate(context.Background(), "https://example.com"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
	c.Terminate()
}

func TestStartTimesOutWithoutEndpoint(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-chromium")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewChromium(Config{
		Bin:          bin,
		UserDataDir:  filepath.Join(dir, "profile"),
		PollInterval: 10 * time.Millisecond,
		StartTimeout: 100 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	err := c.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), ActivePortFile) {
		t.Fatalf("expected endpoint error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("start did not respect timeout")
	}
	if _, err := os.Stat(filepath.Join(dir, "profile")); err != nil {
		t.Errorf("profile dir not created: %v", err)
	}

	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("browser process not terminated after failed start")
	}
}

func TestStartFailsWhenProcessExits(t *testing.T) {
	dir := t.TempDir()
	c := NewChromium(Config{
		Bin:          "/bin/false",
		UserDataDir:  dir,
		PollInterval: 10 * time.Millisecond,
		StartTimeout: 5 * time.Second,
	}, zerolog.Nop())
	if _, err := os.Stat(c.cfg.Bin); err != nil {
		t.Skip("/bin/false not available")
	}
	err := c.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "exited") {
		t.Errorf("expected exit error, got %v", err)
	}
}

func TestStartMissingBinary(t *testing.T) {
	c := NewChromium(Config{Bin: filepath.Join(t.TempDir(), "nope"), UserDataDir: t.TempDir()}, zerolog.Nop())
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected launch error")
	}
}

func TestNeedsUserFallback(t *testing.T) {
	if os.Geteuid() == 0 {
		if needsUserFallback("/proc/definitely/not/writable") {
			t.Error("root must never fall back")
		}
		return
	}
	dir := t.TempDir()
	if needsUserFallback(filepath.Join(dir, "a", "b")) {
		t.Error("writable ancestor must not fall back")
	}
	ro := filepath.Join(dir, "ro")
	if err := os.Mkdir(ro, 0o500); err != nil {
		t.Fatal(err)
	}
	if !needsUserFallback(filepath.Join(ro, "profile")) {
		t.Error("read-only ancestor must fall back")
	}
}

func TestFakeDriver(t *testing.T) {
	f := &FakeDriver{}
	if err := f.Navigate(context.Background(), "u0"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("before start: %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = f.Navigate(context.Background(), "u1")
	f.SetNavigateError(errors.New("boom"))
	if err := f.Navigate(context.Background(), "u2"); err == nil {
		t.Error("expected scripted error")
	}
	f.Terminate()
	if diff := cmp.Diff([]string{"u1"}, f.URLs()); diff != "" {
		t.Errorf("URLs mismatch (-want +got):\n%s", diff)
	}
	if !f.Terminated() {
		t.Error("Terminate not recorded")
	}
}
