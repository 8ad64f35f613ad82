// Package backupcmder provides the backup command group for managing
// persona backups.
package backupcmder

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/cmd/parrot/gatewayutil"
	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/logger"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

const backupLongDesc string = `Manage persona backups.

Every persona update snapshots the previous state first; these snapshots
can be listed, restored, and deleted. Restoring never consumes the
snapshot, so the same backup can be restored again.

  parrot backup list <persona>               List backups, newest first
  parrot backup create <persona>             Snapshot the current state
  parrot backup restore <persona> <backup>   Overwrite state with a snapshot
  parrot backup delete <persona> <backup>    Delete a snapshot`

const backupShortDesc string = "Manage persona backups"

func NewBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: backupShortDesc,
		Long:  backupLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

// openManager wires a BackupManager over the configured gateway. The
// returned closer releases the gateway.
func openManager(ctx context.Context, cmd *cobra.Command) (*persona.BackupManager, storage.Gateway, *zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	configDir, _ := cmd.Flags().GetString("config-dir")

	log := logger.NewLogger(debug)

	if ctx == nil {
		ctx = context.Background()
	}

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, nil, err
	}

	gateway, err := gatewayutil.Open(ctx, cfg, configDir, log)
	if err != nil {
		return nil, nil, nil, err
	}

	return persona.NewBackupManager(gateway, gateway, log), gateway, log, nil
}
