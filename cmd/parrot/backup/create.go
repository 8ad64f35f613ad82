package backupcmder

import (
	"fmt"

	"github.com/spf13/cobra"
)

const createLongDesc string = `Snapshot the current persona state.

Examples:
  parrot backup create default
  parrot backup create default --reason before-experiment`

func newCreateCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "create <persona>",
		Short: "Snapshot the current persona state",
		Long:  createLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, gateway, log, err := openManager(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer gateway.Close()
			defer log.Sync()

			backupID, err := manager.CreateBackup(cmd.Context(), args[0], reason)
			if err != nil {
				return fmt.Errorf("creating backup: %w", err)
			}

			fmt.Printf("Created backup %d for persona %q.\n", backupID, args[0])

			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "manual", "Reason recorded with the snapshot")

	return cmd
}
