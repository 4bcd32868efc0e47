package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/jobpoller/id"
	"github.com/xraph/jobpoller/workflow"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and cancel runs",
	}
	cmd.AddCommand(newRunsListCmd(a), newRunsShowCmd(a), newRunsCancelCmd(a))
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var opts workflow.ListOpts
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state != "" {
				opts.State = workflow.State(strings.ToUpper(state))
				if !opts.State.Valid() {
					return fmt.Errorf("unknown state %q", state)
				}
			}
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := eng.ListRuns(ctx, opts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLOT\tSTATE\tPOLLS\tSTARTED\tCAUSE")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.SlotID, r.State, r.AttemptCount, r.StartedAt.Format(time.RFC3339), r.Cause)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.SlotID, "slot", "", "only runs of this slot")
	f.StringVar(&state, "state", "", "only runs in this state")
	f.BoolVar(&opts.ActiveOnly, "active", false, "only non-terminal runs")
	f.IntVar(&opts.Limit, "limit", 50, "maximum number of runs")
	f.IntVar(&opts.Offset, "offset", 0, "runs to skip")
	return cmd
}

func newRunsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := eng.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			events, err := eng.ListEvents(ctx, runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printRun(out, run)
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tFROM\tTO\tPOLL\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Timestamp.Format(time.RFC3339), e.Kind, e.From, e.To, e.Attempt, e.Detail)
			}
			return tw.Flush()
		},
	}
}

func newRunsCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := id.ParseRunID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, cleanup, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := eng.Cancel(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s is %s\n", run.ID, run.State)
			return nil
		},
	}
}

func printRun(w io.Writer, r *workflow.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Slot:\t%s\n", r.SlotID)
	fmt.Fprintf(tw, "State:\t%s\n", r.State)
	if r.Cause != "" {
		fmt.Fprintf(tw, "Cause:\t%s\n", r.Cause)
	}
	if r.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "Job:\t%s\n", r.JobID)
	fmt.Fprintf(tw, "Polls:\t%d\n", r.AttemptCount)
	fmt.Fprintf(tw, "Last status:\t%s\n", r.LastStatus)
	if len(r.Parameters) > 0 {
		fmt.Fprintf(tw, "Parameters:\t%s\n", r.Parameters)
	}
	if len(r.LastStatusPayload) > 0 {
		fmt.Fprintf(tw, "Last payload:\t%s\n", r.LastStatusPayload)
	}
	fmt.Fprintf(tw, "Scheduled:\t%s\n", r.ScheduledAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Started:\t%s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Deadline:\t%s\n", r.Deadline.Format(time.RFC3339))
	if r.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", r.CompletedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
