package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
	dbusclient "github.com/cptspacemanspiff/activity-defender/internal/dbus"
	"github.com/cptspacemanspiff/activity-defender/internal/service"
)

// daemon is the D-Bus client surface the commands use.
type daemon interface {
	StartDetection() error
	StopDetection() error
	ResetData() error
	Processes(from, to time.Time) ([]collector.ProcessRecord, error)
	Events(from, to time.Time) ([]collector.EventRecord, error)
	Status() (*service.Status, error)
	Close() error
}

// dial opens the daemon client. Tests replace it.
var dial = func(bus string) (daemon, error) {
	c, err := dbusclient.NewClient(bus)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "defenderctl",
		Short: "Control the activity-defender daemon",
		Long: `defenderctl starts and stops detection in a running activity-defender
daemon, resets its data, and queries recorded processes and events over D-Bus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch out := v.GetString("output"); out {
			case "text", "json":
			default:
				return fmt.Errorf("unknown output format %q (want text or json)", out)
			}
			switch bus := v.GetString("bus"); bus {
			case "session", "system":
			default:
				return fmt.Errorf("unknown bus %q (want session or system)", bus)
			}
			return nil
		},
	}

	root.PersistentFlags().String("bus", "session", "message bus the daemon is on (session, system)")
	root.PersistentFlags().StringP("output", "o", "text", "output format (text, json)")
	_ = v.BindPFlag("bus", root.PersistentFlags().Lookup("bus"))
	_ = v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	v.SetEnvPrefix("DEFENDERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newLifecycleCmd(v, "start", "Start detection", func(c daemon) error { return c.StartDetection() }),
		newLifecycleCmd(v, "stop", "Stop detection", func(c daemon) error { return c.StopDetection() }),
		newLifecycleCmd(v, "reset", "Delete all recorded data", func(c daemon) error { return c.ResetData() }),
		newProcessesCmd(v),
		newEventsCmd(v),
		newStatusCmd(v),
	)
	return root
}

func newLifecycleCmd(v *viper.Viper, use, short string, call func(daemon) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := dial(v.GetString("bus"))
			if err != nil {
				return err
			}
			defer c.Close()
			if err := call(c); err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
