// Package browser drives the kiosk browser over the Chrome DevTools Protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Driver is the browser contract the controller depends on.
type Driver interface {
	// Start launches the browser and blocks until a page is controllable.
	Start(ctx context.Context) error
	// Navigate loads url in the controlled page.
	Navigate(ctx context.Context, url string) error
	// Terminate signals the browser process to exit. It does not wait.
	Terminate()
}

// ErrNotStarted is returned by Navigate before a successful Start.
var ErrNotStarted = errors.New("browser: not started")

// ActivePortFile is written by Chromium into the profile directory once the
// debugging endpoint is listening.
const ActivePortFile = "DevToolsActivePort"

// ParseDevToolsActivePort returns the browser-level websocket URL recorded in
// dir/DevToolsActivePort.
func ParseDevToolsActivePort(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, ActivePortFile))
	if err != nil {
		return "", err
	}
	var lines []string
	for _, ln := range strings.Split(string(b), "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			lines = append(lines, ln)
		}
	}
	if len(lines) < 2 {
		return "", fmt.Errorf("%s: missing endpoint line", ActivePortFile)
	}
	port, err := strconv.Atoi(lines[0])
	if err != nil {
		return "", fmt.Errorf("%s: bad port: %w", ActivePortFile, err)
	}

	endpoint := lines[1]
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return endpoint, nil
	case strings.HasPrefix(endpoint, "/devtools/"):
		return fmt.Sprintf("ws://127.0.0.1:%d%s", port, endpoint), nil
	case strings.HasPrefix(endpoint, "devtools/"):
		return fmt.Sprintf("ws://127.0.0.1:%d/%s", port, endpoint), nil
	default:
		// A bare token is the browser target id.
		return fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/%s", port, endpoint), nil
	}
}

// DefaultUserDataDir returns a user-writable profile directory under
// $XDG_STATE_HOME, or ~/.local/state when unset.
func DefaultUserDataDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "kiosk-control", "chrome-profile")
}
