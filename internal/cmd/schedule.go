package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/log"
	"github.com/felixgeelhaar/cigate/internal/schedule"
	"github.com/felixgeelhaar/cigate/internal/ux"
	"github.com/felixgeelhaar/cigate/internal/workflow"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled workflows on their cron triggers",
	Long: `Stay in the foreground and run every workflow with a schedule trigger when
its cron expression fires. Cron expressions are evaluated in UTC. A run that
is still going when its next firing comes due makes that firing skip.

The regression workflow fires daily at 07:00 UTC unless regression.cron
says otherwise.

Examples:
  # Run the scheduler until interrupted
  cigate schedule

  # Show when each scheduled workflow fires next
  cigate schedule --list
`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var scheduleList bool

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleList, "list", false, "print the next firing of each schedule and exit")

	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	a, err := newApp(cc, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := schedule.New(a.workflows, func(ctx context.Context, wf *workflow.Workflow, ev workflow.Event) {
		res := a.orchestrator.RunWorkflow(ctx, wf, ev)
		a.logger.Info("scheduled run finished", log.KeyRunID, res.RunID, log.KeyWorkflow, wf.Name,
			"status", res.Status, "duration", res.Duration().String())
	}, a.logger)
	if err != nil {
		return err
	}

	if scheduleList {
		now := time.Now().UTC()
		return cc.Output(cmd, ux.ScheduleList{Upcoming: sched.Next(now), Now: now})
	}
	return sched.Run(cmd.Context())
}
