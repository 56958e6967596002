package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	runDate     string
	computeDate string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Acquire, persist and compute one date (today in UTC by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var date time.Time
		if runDate != "" {
			d, err := parseDate("date", runDate)
			if err != nil {
				return err
			}
			date = d
		}
		return getApp().Run(cmd.Context(), date)
	},
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Recompute one date from its persisted raw quote",
	RunE: func(cmd *cobra.Command, args []string) error {
		if computeDate == "" {
			return fmt.Errorf("--date must be provided")
		}
		date, err := parseDate("date", computeDate)
		if err != nil {
			return err
		}
		return getApp().Compute(cmd.Context(), date)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "Date to process (YYYY-MM-DD)")
	computeCmd.Flags().StringVar(&computeDate, "date", "", "Date to recompute (YYYY-MM-DD)")
}
