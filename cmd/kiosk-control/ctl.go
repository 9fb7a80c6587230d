package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sweeney/kiosk-control/internal/ipc"
)

// remote is the subset of ipc.Client used by ctl.
type remote interface {
	SetView(view string) (bool, error)
	SetAuto() (bool, error)
	Next() (bool, error)
	Prev() (bool, error)
	Wake(reason string) (bool, error)
	Sleep(reason string) (bool, error)
	PowerOff(reason string) (bool, error)
	Close() error
}

var dialRemote = func(bus ipc.Bus) (remote, error) {
	c, err := ipc.Dial(bus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// errRejected is returned when the controller answers false.
var errRejected = errors.New("rejected by controller")

type ctlOp struct {
	use   string
	short string
	args  cobra.PositionalArgs
	call  func(r remote, args []string, reason string) (bool, error)
}

var ctlOps = []ctlOp{
	{"set-view NAME", "Pin a view for the manual timeout", cobra.ExactArgs(1),
		func(r remote, args []string, _ string) (bool, error) { return r.SetView(args[0]) }},
	{"auto", "Clear the manual override", cobra.NoArgs,
		func(r remote, _ []string, _ string) (bool, error) { return r.SetAuto() }},
	{"next", "Advance the playlist", cobra.NoArgs,
		func(r remote, _ []string, _ string) (bool, error) { return r.Next() }},
	{"prev", "Go back in the playlist", cobra.NoArgs,
		func(r remote, _ []string, _ string) (bool, error) { return r.Prev() }},
	{"wake", "Wake the screen", cobra.NoArgs,
		func(r remote, _ []string, reason string) (bool, error) { return r.Wake(reason) }},
	{"sleep", "Force the screen off until the next wake", cobra.NoArgs,
		func(r remote, _ []string, reason string) (bool, error) { return r.Sleep(reason) }},
	{"poweroff", "Power off the host", cobra.NoArgs,
		func(r remote, _ []string, reason string) (bool, error) { return r.PowerOff(reason) }},
}

func newCtlCmd() *cobra.Command {
	var (
		bus    string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send a command to a running controller over D-Bus",
	}
	cmd.PersistentFlags().StringVar(&bus, "bus", string(ipc.SessionBus), "D-Bus bus: session or system")
	cmd.PersistentFlags().StringVar(&reason, "reason", "cli", "reason recorded by wake, sleep and poweroff")

	for _, op := range ctlOps {
		op := op
		cmd.AddCommand(&cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  op.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				r, err := dialRemote(ipc.Bus(bus))
				if err != nil {
					return err
				}
				defer r.Close()

				ok, err := op.call(r, args, reason)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: %w", cmd.Name(), errRejected)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		})
	}
	return cmd
}
