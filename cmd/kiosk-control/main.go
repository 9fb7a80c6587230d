// Command kiosk-control drives a single-display browser kiosk: it picks the
// view to show and powers the backlight from plugin-provided facts.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/kiosk-control/internal/config"
	"github.com/sweeney/kiosk-control/internal/plugin/homeassistant"
	"github.com/sweeney/kiosk-control/internal/plugin/inputactivity"
	"github.com/sweeney/kiosk-control/internal/plugin/motion"
	"github.com/sweeney/kiosk-control/internal/plugin/nightscout"
)

// set at build time
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "kiosk-control",
		Short:        "Kiosk display controller",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(newRunCmd(), newCheckCmd(), newVersionCmd(), newCtlCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kiosk controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to the YAML config")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "path to the YAML config")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "config ok\n")
	fmt.Fprintf(w, "views:     %d\n", len(cfg.Views))
	for _, name := range cfg.ViewNames() {
		fmt.Fprintf(w, "  %s -> %s\n", name, cfg.Views[name])
	}
	fmt.Fprintf(w, "playlist:")
	for _, item := range cfg.Playlist {
		fmt.Fprintf(w, " %s(%ds)", item.View, item.Seconds)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "plugins:   %v\n", enabledPlugins(cfg))
	fmt.Fprintf(w, "backlight: %s\n", cfg.Screen.BacklightSysfs)
	fmt.Fprintf(w, "ipc bus:   %s\n", cfg.IPC.Bus)
}

func enabledPlugins(cfg *config.Config) []string {
	var names []string
	p := cfg.Plugins
	if p.InputActivity.Enabled {
		names = append(names, inputactivity.Name)
	}
	if p.HomeAssistant.Enabled {
		names = append(names, homeassistant.Name)
	}
	if p.Nightscout.Enabled {
		names = append(names, nightscout.Name)
	}
	if p.Motion.Enabled {
		names = append(names, motion.Name)
	}
	return names
}
