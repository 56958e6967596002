package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"fxtriangle/internal/engine"
	"fxtriangle/internal/query"
)

// Show prints stored metrics through the query surface.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.openBackend(ctx, true)
	if err != nil {
		return err
	}
	defer b.Close()

	svc := query.NewService(b.store, a.Config.Pipeline.MaxAge)

	var views []query.View
	switch {
	case !opts.Date.IsZero():
		view, err := svc.ByDate(ctx, opts.Date)
		if err != nil {
			return err
		}
		views = []query.View{view}
	case opts.Latest:
		view, err := svc.Latest(ctx)
		if err != nil {
			return err
		}
		views = []query.View{view}
	default:
		views, err = svc.Recent(ctx, opts.Limit)
		if err != nil {
			return err
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		if len(views) == 1 {
			return enc.Encode(views[0])
		}
		return enc.Encode(views)
	}

	if len(views) == 0 {
		fmt.Fprintln(a.Out, "no metrics found")
		return nil
	}
	a.printViews(views)

	if opts.Latest {
		report, err := svc.Health(ctx, time.Now())
		if err != nil {
			return err
		}
		status := "fresh"
		if !report.Healthy {
			status = "stale: " + report.Reason
		}
		fmt.Fprintf(a.Out, "\nfreshness: %s (age %s)\n", status, report.Age.Round(time.Minute))
	}
	return nil
}

func (a *App) printViews(views []query.View) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tME4U\tIOU2\tUOME\tInvariant\tState\tWinner\tRule\tRelPath ME4U/IOU2/UOME")
	for _, v := range views {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Date,
			v.ME4U,
			v.IOU2,
			v.UOME,
			v.Invariant,
			v.State,
			v.Winner,
			v.Reason.Rule,
			formatRelPaths(v.RelPaths),
		)
	}
	writer.Flush()
}

func (a *App) printResults(results []engine.Result) {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tSource\tInvariant\tState\tWinner\tRule\tError")
	for _, r := range results {
		if !r.OK() {
			fmt.Fprintf(writer, "%s\t%s\t-\t-\t-\t-\t%s (%s)\n",
				r.Date.Format(time.DateOnly), orDash(r.Source), sanitizeInline(r.Err.Error()), r.Err.Kind())
			continue
		}
		v := query.NewView(*r.Metrics)
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			v.Date, orDash(r.Source), v.Invariant, v.State, v.Winner, v.Reason.Rule)
	}
	writer.Flush()
}

func formatRelPaths(t query.NullTriple) string {
	parts := make([]string, 0, 3)
	for _, v := range []*string{t.ME4U, t.IOU2, t.UOME} {
		if v == nil {
			parts = append(parts, "-")
			continue
		}
		parts = append(parts, *v)
	}
	return strings.Join(parts, " / ")
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
