package backupcmder

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const restoreLongDesc string = `Overwrite a persona's state with a backup snapshot.

The snapshot survives the restore, so it can be restored again later.

Examples:
  parrot backup restore default 3`

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <persona> <backup-id>",
		Short: "Restore a persona from a backup",
		Long:  restoreLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backupID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid backup id %q", args[1])
			}

			manager, gateway, log, err := openManager(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer gateway.Close()
			defer log.Sync()

			restored, err := manager.Restore(cmd.Context(), args[0], backupID)
			if err != nil {
				return fmt.Errorf("restoring backup: %w", err)
			}
			if !restored {
				return fmt.Errorf("backup %d not found for persona %q", backupID, args[0])
			}

			fmt.Printf("Restored persona %q from backup %d.\n", args[0], backupID)

			return nil
		},
	}
}
