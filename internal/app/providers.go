package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
)

// ProvidersHealth checks every enabled adapter in priority order.
func (a *App) ProvidersHealth(ctx context.Context) error {
	manager, err := a.newManager(nil)
	if err != nil {
		return err
	}

	statuses := manager.HealthCheckAll(ctx)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Order\tProvider\tHealthy")
	healthy := 0
	for i, s := range statuses {
		if s.Healthy {
			healthy++
		}
		fmt.Fprintf(writer, "%d\t%s\t%t\n", i+1, s.Provider, s.Healthy)
	}
	writer.Flush()

	if healthy == 0 {
		return errors.New("no provider is reachable")
	}
	return nil
}
