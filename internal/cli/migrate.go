package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fxtriangle/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or roll back the database schema",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(storage.MigrateUp), string(storage.MigrateDown)},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := storage.MigrateUp
		if len(args) == 1 {
			switch storage.MigrateDirection(args[0]) {
			case storage.MigrateUp, storage.MigrateDown:
				direction = storage.MigrateDirection(args[0])
			default:
				return fmt.Errorf("unknown migration direction %q", args[0])
			}
		}
		return getApp().Migrate(cmd.Context(), direction)
	},
}
