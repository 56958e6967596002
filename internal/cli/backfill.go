package cli

import (
	"github.com/spf13/cobra"

	"fxtriangle/internal/app"
)

var (
	backfillFrom        string
	backfillTo          string
	backfillDryRun      bool
	backfillMissingOnly bool
	backfillWorkers     int

	repairFrom string
	repairTo   string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Acquire and compute a historical date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseRange(backfillFrom, backfillTo)
		if err != nil {
			return err
		}

		opts := app.BackfillOptions{
			From:        from,
			To:          to,
			DryRun:      backfillDryRun,
			MissingOnly: backfillMissingOnly,
			Workers:     backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute stored dates in order from their raw quotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseRange(repairFrom, repairTo)
		if err != nil {
			return err
		}
		return getApp().Repair(cmd.Context(), from, to)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
	backfillCmd.Flags().BoolVar(&backfillMissingOnly, "missing-only", false, "Only process dates without a derived row")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 0, "Concurrent acquisitions (defaults to pipeline.workers)")

	repairCmd.Flags().StringVar(&repairFrom, "from", "", "First date (YYYY-MM-DD, inclusive)")
	repairCmd.Flags().StringVar(&repairTo, "to", "", "Last date (YYYY-MM-DD, inclusive)")
}
