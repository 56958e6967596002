package cli

import (
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured rate providers",
}

var providersHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Health-check every enabled provider in priority order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ProvidersHealth(cmd.Context())
	},
}

func init() {
	providersCmd.AddCommand(providersHealthCmd)
}
