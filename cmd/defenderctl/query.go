package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// timeRange holds the --from/--to/--since flags shared by the query commands.
type timeRange struct {
	from, to string
	since    time.Duration
}

func (r *timeRange) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.from, "from", "", "range start (unix seconds or RFC 3339)")
	cmd.Flags().StringVar(&r.to, "to", "", "range end (unix seconds or RFC 3339, default now)")
	cmd.Flags().DurationVar(&r.since, "since", time.Hour, "range length when --from is not set")
}

func (r *timeRange) resolve(now time.Time) (time.Time, time.Time, error) {
	to := now
	if r.to != "" {
		t, err := parseTime(r.to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = t
	}
	from := to.Add(-r.since)
	if r.from != "" {
		t, err := parseTime(r.from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("range end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return from, to, nil
}

// parseTime accepts unix seconds or an RFC 3339 timestamp.
func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return t, nil
}

func newProcessesCmd(v *viper.Viper) *cobra.Command {
	var r timeRange
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List recorded process snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := r.resolve(time.Now())
			if err != nil {
				return err
			}
			c, err := dial(v.GetString("bus"))
			if err != nil {
				return err
			}
			defer c.Close()

			records, err := c.Processes(from, to)
			if err != nil {
				return fmt.Errorf("get processes: %w", err)
			}
			if v.GetString("output") == "json" {
				return outputJSON(cmd.OutOrStdout(), records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPID\tUID\tNAME")
			for _, p := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatUnix(p.Timestamp), p.PID, p.UID, p.Name)
			}
			return w.Flush()
		},
	}
	r.bind(cmd)
	return cmd
}

func newEventsCmd(v *viper.Viper) *cobra.Command {
	var r timeRange
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded screen and power events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := r.resolve(time.Now())
			if err != nil {
				return err
			}
			c, err := dial(v.GetString("bus"))
			if err != nil {
				return err
			}
			defer c.Close()

			records, err := c.Events(from, to)
			if err != nil {
				return fmt.Errorf("get events: %w", err)
			}
			if v.GetString("output") == "json" {
				return outputJSON(cmd.OutOrStdout(), records)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tSOURCE")
			for _, e := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\n", formatUnix(e.Timestamp), e.Type, e.Extra)
			}
			return w.Flush()
		},
	}
	r.bind(cmd)
	return cmd
}

func newStatusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show detection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := dial(v.GetString("bus"))
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.Status()
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			if v.GetString("output") == "json" {
				return outputJSON(cmd.OutOrStdout(), st)
			}

			out := cmd.OutOrStdout()
			if !st.Running {
				fmt.Fprintln(out, "Detection: stopped")
				return nil
			}
			fmt.Fprintln(out, "Detection: running")
			fmt.Fprintf(out, "Session:   %s\n", st.SessionID)
			fmt.Fprintf(out, "Started:   %s\n", formatUnix(st.StartedAt))
			fmt.Fprintf(out, "Events:    %t\n", st.EventsActive)
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tEVERY\tELAPSED")
			for _, t := range st.Tasks {
				fmt.Fprintf(w, "%s\t%ds\t%d ticks\n", t.Kind, t.RunEverySeconds, t.Elapsed)
			}
			return w.Flush()
		},
	}
}

func formatUnix(sec int64) string {
	return time.Unix(sec, 0).Format(time.RFC3339)
}
