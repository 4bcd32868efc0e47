package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/jobpoller/coordinator"
)

func newTriggerCmd(a *app) *cobra.Command {
	var (
		params string
		wait   bool
	)
	cmd := &cobra.Command{
		Use:   "trigger <slot>",
		Short: "Start a run of a slot",
		Long: `Start a run of a slot unless the slot already has an active run.

Without --wait the run is only created; a serving process sharing the
store picks it up on its next resume scan. With --wait this process
executes it and prints the final state.

Examples:
  jobpoller trigger nightly-report
  jobpoller trigger nightly-report --params '{"date":"2026-03-02"}' --wait`,
		Args: cobra.ExactArgs(1),
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
			res, err := eng.Trigger(ctx, coordinator.Trigger{
				SlotID:     args[0],
				Parameters: raw,
				Detached:   !wait,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintf(out, "skipped: %s (run %s is %s)\n", res.Reason, res.Run.ID, res.Run.State)
				return eng.Stop(context.WithoutCancel(ctx))
			}
			fmt.Fprintf(out, "created run %s\n", res.Run.ID)
			if !wait {
				return eng.Stop(context.WithoutCancel(ctx))
			}

			eng.Coordinator().Wait()
			run, err := eng.GetRun(ctx, res.Run.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "run %s finished %s after %d polls\n", run.ID, run.State, run.AttemptCount)
			return nil
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "", "parameters submitted to the executor")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "execute the run here and wait for it to finish")
	return cmd
}
