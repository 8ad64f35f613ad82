package backupcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parrotlabsco/parrot/pkg/utils"
)

const listLongDesc string = `List a persona's backups, newest first.

Examples:
  parrot backup list default`

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <persona>",
		Short: "List a persona's backups",
		Long:  listLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, gateway, log, err := openManager(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer gateway.Close()
			defer log.Sync()

			backups, err := manager.ListBackups(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("listing backups: %w", err)
			}

			if len(backups) == 0 {
				fmt.Printf("No backups for persona %q.\n", args[0])
				return nil
			}

			for _, b := range backups {
				prompt := ""
				if b.State != nil {
					prompt = utils.Truncate(b.State.Prompt, 48)
				}
				fmt.Printf("%4d  %s  %-12s  %s\n",
					b.BackupID,
					b.CreatedAt.Format("2006-01-02 15:04:05"),
					b.Reason,
					prompt,
				)
			}

			return nil
		},
	}
}
