package backupcmder

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const deleteLongDesc string = `Delete a backup snapshot.

Examples:
  parrot backup delete default 3`

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <persona> <backup-id>",
		Short: "Delete a backup snapshot",
		Long:  deleteLongDesc,
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

			deleted, err := manager.DeleteBackup(cmd.Context(), args[0], backupID)
			if err != nil {
				return fmt.Errorf("deleting backup: %w", err)
			}
			if !deleted {
				return fmt.Errorf("backup %d not found for persona %q", backupID, args[0])
			}

			fmt.Printf("Deleted backup %d of persona %q.\n", backupID, args[0])

			return nil
		},
	}
}
