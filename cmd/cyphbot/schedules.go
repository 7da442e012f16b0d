package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybercyphers/cyphbeta/internal/config"
	"github.com/cybercyphers/cyphbeta/internal/scheduler"
)

func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and maintain the schedule file offline",
	}

	cmd.PersistentFlags().String("file", "", "Schedule file (defaults to SCHEDULE_FILE under STATE_DIR)")

	cmd.AddCommand(newSchedulesListCmd())
	cmd.AddCommand(newSchedulesCleanupCmd())
	return cmd
}

func scheduleStore(cmd *cobra.Command) (*scheduler.FileStore, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		paths, err := config.LoadPaths()
		if err != nil {
			return nil, err
		}
		path = paths.Schedules
	}
	return scheduler.NewFileStore(path), nil
}

func newSchedulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print schedule records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := scheduleStore(cmd)
			if err != nil {
				return err
			}
			channel, _ := cmd.Flags().GetString("channel")
			pendingOnly, _ := cmd.Flags().GetBool("pending")

			recs, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, channel, pendingOnly)
		},
	}

	cmd.Flags().String("channel", "", "Only records for this channel")
	cmd.Flags().Bool("pending", false, "Only records not yet sent")
	return cmd
}

func printRecords(w io.Writer, recs []scheduler.Record, channel string, pendingOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCHANNEL\tFIRE AT\tSTATUS\tMESSAGE")
	for _, r := range recs {
		if channel != "" && r.Target != channel {
			continue
		}
		if pendingOnly && !r.IsPending() {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%q\n",
			r.ID, r.Target, r.FireAt().Format(time.RFC3339), r.Status, r.Payload)
	}
	return tw.Flush()
}

func newSchedulesCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove sent records older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := scheduleStore(cmd)
			if err != nil {
				return err
			}
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be > 0")
			}

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s) from %s\n", n, store.Path())
			return nil
		},
	}

	cmd.Flags().Duration("older-than", 168*time.Hour, "Retention horizon for sent records")
	return cmd
}
