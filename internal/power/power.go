// Package power requests a system power-off through an external command.
package power

import (
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/sweeney/kiosk-control/internal/logging"
)

// ReasonEnv carries the caller's reason into the command's environment.
const ReasonEnv = "KIOSK_POWEROFF_REASON"

// DefaultArgv is used when no command is configured.
var DefaultArgv = []string{"systemctl", "poweroff", "--no-wall"}

// Requester dispatches a power-off.
type Requester interface {
	// Request reports whether the command was launched, not whether it succeeded.
	Request(reason string) bool
}

// Command runs Argv for each request.
type Command struct {
	Argv []string
	Log  zerolog.Logger
}

// NewCommand returns a Command, substituting DefaultArgv for an empty argv.
func NewCommand(argv []string, log zerolog.Logger) *Command {
	if len(argv) == 0 {
		argv = DefaultArgv
	}
	return &Command{Argv: argv, Log: logging.Component(log, "power")}
}

// Request starts the command and reaps it in the background.
func (c *Command) Request(reason string) bool {
	if len(c.Argv) == 0 {
		return false
	}
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Env = append(os.Environ(), ReasonEnv+"="+reason)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		c.Log.Error().Err(err).Strs("argv", c.Argv).Msg("power-off command failed to start")
		return false
	}
	c.Log.Warn().Str("reason", reason).Strs("argv", c.Argv).Msg("power-off requested")
	go func() {
		if err := cmd.Wait(); err != nil {
			c.Log.Error().Err(err).Msg("power-off command failed")
		}
	}()
	return true
}
