package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/jobpoller/id"
)

func newCronCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage recurring triggers",
	}
	cmd.AddCommand(newCronAddCmd(a), newCronListCmd(a), newCronDeleteCmd(a))
	return cmd
}

func newCronAddCmd(a *app) *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "add <name> <schedule>",
		Short: "Register a cron entry firing slot <name>",
		Long: `Register a cron entry. The entry name is the slot it triggers.

Examples:
  jobpoller cron add nightly-report "0 18 * * MON-FRI"
  jobpoller cron add heartbeat "@every 5m" --params '{"ping":true}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var raw []byte
			if params != "" {
				raw = []byte(params)
			}
			entry, err := eng.RegisterCron(ctx, args[0], args[1], raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s), next run %s\n",
				entry.Name, entry.ID, entry.NextRunAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "", "parameters submitted on every firing")
	return cmd
}

func newCronListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cron entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := eng.ListCrons(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN")
			for _, e := range entries {
				next := "-"
				if e.NextRunAt != nil {
					next = e.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.ID, e.Name, e.Schedule, e.Enabled, next)
			}
			return tw.Flush()
		},
	}
}

func newCronDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cron-id>",
		Short: "Delete a cron entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cronID, err := id.ParseCronID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err = eng.DeleteCron(ctx, cronID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", cronID)
			return nil
		},
	}
}
