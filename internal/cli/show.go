package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fxtriangle/internal/app"
)

var (
	showLimit  int
	showDate   string
	showLatest bool
	showJSON   bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored daily metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Limit:  showLimit,
			Latest: showLatest,
			JSON:   showJSON,
		}
		if showDate != "" {
			date, err := parseDate("date", showDate)
			if err != nil {
				return err
			}
			opts.Date = date
		}
		if opts.Date.IsZero() && !opts.Latest && showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showDate, "date", "", "Show a single date (YYYY-MM-DD)")
	showCmd.Flags().BoolVar(&showLatest, "latest", false, "Show the most recent row and its freshness")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print rows as JSON")
	showCmd.MarkFlagsMutuallyExclusive("date", "latest")
}
