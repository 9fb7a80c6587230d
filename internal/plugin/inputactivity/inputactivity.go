// Package inputactivity records user input activity from a Linux evdev device.
package inputactivity

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unsafe"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sweeney/kiosk-control/internal/facts"
	"github.com/sweeney/kiosk-control/internal/plugin"
)

// Name is the plugin name.
const Name = "input_activity"

// Linux input event types that indicate a human touched something.
const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
)

// eventSize is sizeof(struct input_event): a timeval followed by type, code, value.
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

// rescanInterval bounds how long the plugin waits for hot-plug before rescanning.
const rescanInterval = 5 * time.Second

// Config configures the input activity plugin.
type Config struct {
	// DeviceHint is a case-insensitive substring of "name phys path"; empty matches any device.
	DeviceHint string
	// DevDir holds the event nodes. Defaults to /dev/input.
	DevDir string
	// SysDir holds device metadata. Defaults to /sys/class/input.
	SysDir string
}

// Device describes one evdev node.
type Device struct {
	Name string
	Phys string
	Path string
}

func (d Device) ident() string {
	return strings.ToLower(d.Name + " " + d.Phys + " " + d.Path)
}

// MatchDevice returns the first device whose identity contains hint.
func MatchDevice(devs []Device, hint string) (Device, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	for _, d := range devs {
		if hint == "" || strings.Contains(d.ident(), hint) {
			return d, true
		}
	}
	return Device{}, false
}

// Plugin refreshes activity.last_ts on every input event.
type Plugin struct {
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger
	task plugin.Task
}

// New creates an input activity plugin.
func New(cfg Config, log zerolog.Logger) *Plugin {
	if cfg.DevDir == "" {
		cfg.DevDir = "/dev/input"
	}
	if cfg.SysDir == "" {
		cfg.SysDir = "/sys/class/input"
	}
	return &Plugin{
		cfg: cfg,
		now: time.Now,
		log: log.With().Str("plugin", Name).Logger(),
	}
}

func (p *Plugin) Name() string { return Name }

// Start begins watching for input. A missing device is not an error: the
// plugin waits for one to be plugged in.
func (p *Plugin) Start(ctx context.Context, store *facts.Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(p.cfg.DevDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", p.cfg.DevDir, err)
	}
	return p.task.Go(ctx, p.log, func(ctx context.Context) error {
		defer watcher.Close()
		return p.run(ctx, store, watcher)
	})
}

// Stop halts the reader.
func (p *Plugin) Stop(ctx context.Context) error {
	return p.task.Halt(ctx)
}

// ScreensaverInhibit never votes; activity is consumed by the policy directly.
func (p *Plugin) ScreensaverInhibit(facts.Reader) (bool, string) {
	return false, ""
}

func (p *Plugin) run(ctx context.Context, store *facts.Store, watcher *fsnotify.Watcher) error {
	store.Set(facts.ActivityLastTS, p.now())

	for {
		devs, err := p.listDevices()
		if err != nil {
			p.log.Warn().Err(err).Msg("list input devices")
		}
		if dev, ok := MatchDevice(devs, p.cfg.DeviceHint); ok {
			p.log.Info().Str("device", dev.Path).Str("name", dev.Name).Msg("reading input device")
			store.Set(facts.ActivityDevice, dev.Path)
			err := p.readDevice(ctx, dev.Path, store)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Str("device", dev.Path).Msg("input device lost")
			store.Delete(facts.ActivityDevice)
		} else {
			p.log.Warn().Str("hint", p.cfg.DeviceHint).Msg("no input device matched, waiting for hot-plug")
		}

		if err := waitForDevice(ctx, watcher); err != nil {
			return err
		}
	}
}

// waitForDevice blocks until a node is created under the watched directory,
// the rescan interval passes, or ctx is cancelled.
func waitForDevice(ctx context.Context, watcher *fsnotify.Watcher) error {
	timer := time.NewTimer(rescanInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Has(fsnotify.Create) && strings.HasPrefix(filepath.Base(ev.Name), "event") {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return fmt.Errorf("watch input dir: %w", err)
		}
	}
}

func (p *Plugin) listDevices() ([]Device, error) {
	paths, err := filepath.Glob(filepath.Join(p.cfg.DevDir, "event*"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	devs := make([]Device, 0, len(paths))
	for _, path := range paths {
		base := filepath.Base(path)
		devs = append(devs, Device{
			Name: readAttr(filepath.Join(p.cfg.SysDir, base, "device", "name")),
			Phys: readAttr(filepath.Join(p.cfg.SysDir, base, "device", "phys")),
			Path: path,
		})
	}
	return devs, nil
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// readDevice consumes events until the device fails or ctx is cancelled.
func (p *Plugin) readDevice(ctx context.Context, path string, store *facts.Store) error {
	f, err := openNonBlocking(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Closing the file unblocks a pending Read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, eventSize*64)
	for {
		n, err := f.Read(buf)
		if n > 0 && hasActivity(buf[:n]) {
			store.Set(facts.ActivityLastTS, p.now())
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

// openNonBlocking opens path with O_NONBLOCK so the runtime poller owns the
// descriptor and Close interrupts a blocked Read.
func openNonBlocking(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

// hasActivity reports whether buf holds a key, relative or absolute event.
func hasActivity(buf []byte) bool {
	for off := 0; off+eventSize <= len(buf); off += eventSize {
		typ := binary.LittleEndian.Uint16(buf[off+eventSize-8:])
		switch typ {
		case evKey, evRel, evAbs:
			return true
		}
	}
	return false
}
