package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"fxtriangle/internal/app"
	"fxtriangle/internal/parity"
)

var (
	simulateDate  string
	simulateBasis string
	simulateA     string
	simulateB     string
	simulatePrevA string
	simulatePrevB string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline on hand-entered quotes without touching storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateA == "" || simulateB == "" {
			return errors.New("--a and --b must be provided")
		}

		date := time.Now().UTC()
		if simulateDate != "" {
			d, err := parseDate("date", simulateDate)
			if err != nil {
				return err
			}
			date = d
		}

		opts := app.SimulateOptions{}
		if simulateBasis != "" {
			basis, err := parity.ParseBasis(simulateBasis)
			if err != nil {
				return err
			}
			opts.Basis = basis
		}

		if simulatePrevA != "" || simulatePrevB != "" {
			prev, err := simulatedQuote(date.AddDate(0, 0, -1), simulatePrevA, simulatePrevB)
			if err != nil {
				return fmt.Errorf("previous day: %w", err)
			}
			opts.Quotes = append(opts.Quotes, prev)
		}
		today, err := simulatedQuote(date, simulateA, simulateB)
		if err != nil {
			return err
		}
		opts.Quotes = append(opts.Quotes, today)

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func simulatedQuote(date time.Time, a, b string) (app.SimulatedQuote, error) {
	basisToA, err := decimal.NewFromString(a)
	if err != nil {
		return app.SimulatedQuote{}, fmt.Errorf("invalid basis-to-A quote %q: %w", a, err)
	}
	basisToB, err := decimal.NewFromString(b)
	if err != nil {
		return app.SimulatedQuote{}, fmt.Errorf("invalid basis-to-B quote %q: %w", b, err)
	}
	return app.SimulatedQuote{Date: date, BasisToA: basisToA, BasisToB: basisToB}, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulateDate, "date", "", "Date of the simulated quote (YYYY-MM-DD, default today)")
	simulateCmd.Flags().StringVar(&simulateBasis, "basis", "", "EUR or RUB (defaults to pipeline.basis)")
	simulateCmd.Flags().StringVar(&simulateA, "a", "", "Basis to A quote (EUR->USD or RUB per USD)")
	simulateCmd.Flags().StringVar(&simulateB, "b", "", "Basis to B quote (EUR->CNY or RUB per CNY)")
	simulateCmd.Flags().StringVar(&simulatePrevA, "prev-a", "", "Optional previous-day basis to A quote")
	simulateCmd.Flags().StringVar(&simulatePrevB, "prev-b", "", "Optional previous-day basis to B quote")
}
