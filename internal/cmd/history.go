package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cigate/internal/history"
	"github.com/felixgeelhaar/cigate/internal/ux"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Long: `Show recorded runs, newest first, with the jobs that did not succeed.

Examples:
  cigate history
  cigate history --workflow regression --limit 7
`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyWorkflow string
	historyLimit    int
)

func init() {
	historyCmd.Flags().StringVarP(&historyWorkflow, "workflow", "w", "", "only runs of this workflow")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}

	_, cfg, err := loadConfig(cc)
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.Path(history.FileName))
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), historyWorkflow, historyLimit)
	if err != nil {
		return err
	}
	return cc.Output(cmd, ux.HistoryTable{Runs: runs})
}
