package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sweeney/kiosk-control/internal/logging"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultStartTimeout = 20 * time.Second
)

// Config describes how to launch Chromium.
type Config struct {
	Bin         string
	UserDataDir string
	ExtraFlags  []string

	// PollInterval and StartTimeout bound the wait for DevToolsActivePort.
	PollInterval time.Duration
	StartTimeout time.Duration
}

// Chromium runs a Chromium process and controls its first page with rod.
type Chromium struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	browser *rod.Browser
	page    *rod.Page
}

// NewChromium creates a Chromium driver. Nothing is launched until Start.
func NewChromium(cfg Config, log zerolog.Logger) *Chromium {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	cfg.UserDataDir = strings.TrimSpace(cfg.UserDataDir)
	if cfg.UserDataDir == "" {
		cfg.UserDataDir = DefaultUserDataDir()
	}
	return &Chromium{cfg: cfg, log: logging.Component(log, "browser")}
}

// UserDataDir returns the profile directory in use, after any fallback.
func (c *Chromium) UserDataDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.UserDataDir
}

// Args returns the command line passed to the browser binary.
func (c *Chromium) Args() []string {
	args := []string{"--user-data-dir=" + c.UserDataDir()}
	args = append(args, c.cfg.ExtraFlags...)
	for _, f := range c.cfg.ExtraFlags {
		if strings.HasPrefix(f, "--remote-debugging-port") || strings.HasPrefix(f, "--remote-debugging-pipe") {
			return args
		}
	}
	return append(args, "--remote-debugging-port=0")
}

// Start launches the process, waits for the debugging endpoint and attaches
// to the first page target. On failure the process is terminated.
func (c *Chromium) Start(ctx context.Context) error {
	if err := c.ensureProfileDir(); err != nil {
		return err
	}
	// A stale file from a previous run would point at a dead port.
	_ = os.Remove(filepath.Join(c.UserDataDir(), ActivePortFile))

	cmd := exec.Command(c.cfg.Bin, c.Args()...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", c.cfg.Bin, err)
	}
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		c.log.Info().Err(err).Msg("browser process exited")
		close(exited)
	}()
	c.mu.Lock()
	c.cmd, c.exited = cmd, exited
	c.mu.Unlock()
	c.log.Info().Str("bin", c.cfg.Bin).Int("pid", cmd.Process.Pid).Msg("browser launched")

	if err := c.attach(ctx, exited); err != nil {
		c.Terminate()
		return err
	}
	return nil
}

func (c *Chromium) attach(ctx context.Context, exited <-chan struct{}) error {
	wsURL, err := c.waitForEndpoint(ctx, exited)
	if err != nil {
		return err
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect devtools %s: %w", wsURL, err)
	}
	pages, err := b.Pages()
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else if page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"}); err != nil {
		return fmt.Errorf("create page: %w", err)
	}

	c.mu.Lock()
	c.browser, c.page = b, page
	c.mu.Unlock()
	c.log.Info().Str("devtools", wsURL).Msg("browser attached")
	return nil
}

// waitForEndpoint polls the profile for DevToolsActivePort.
func (c *Chromium) waitForEndpoint(ctx context.Context, exited <-chan struct{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	dir := c.UserDataDir()
	for {
		if fi, err := os.Stat(filepath.Join(dir, ActivePortFile)); err == nil && fi.Size() > 0 {
			u, err := ParseDevToolsActivePort(dir)
			if err == nil {
				return u, nil
			}
			// The file may be half written; retry until the deadline.
			c.log.Debug().Err(err).Msg("devtools port not ready")
		}
		select {
		case <-exited:
			return "", errors.New("browser exited before devtools endpoint was ready")
		case <-ctx.Done():
			return "", fmt.Errorf("%s was not created: %w", ActivePortFile, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Navigate loads url in the attached page.
func (c *Chromium) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	page := c.page
	c.mu.Unlock()
	if page == nil {
		return ErrNotStarted
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Terminate sends SIGTERM to the browser if it is still running.
func (c *Chromium) Terminate() {
	c.mu.Lock()
	cmd, exited := c.cmd, c.exited
	c.page = nil
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-exited:
		return
	default:
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Warn().Err(err).Msg("terminate browser")
	}
}

// ensureProfileDir creates the profile directory, falling back to
// DefaultUserDataDir when the configured location is not writable.
func (c *Chromium) ensureProfileDir() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dir := c.cfg.UserDataDir
	if needsUserFallback(dir) {
		fallback := DefaultUserDataDir()
		c.log.Warn().Str("configured", dir).Str("fallback", fallback).Msg("user_data_dir not writable")
		dir = fallback
		c.cfg.UserDataDir = dir
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	return nil
}

// needsUserFallback reports whether the nearest existing ancestor of dir is
// not writable. Root never falls back.
func needsUserFallback(dir string) bool {
	if os.Geteuid() == 0 {
		return false
	}
	p := filepath.Clean(dir)
	for {
		if _, err := os.Stat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}
	return unix.Access(p, unix.W_OK) != nil
}
