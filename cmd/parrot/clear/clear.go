// Package clearcmder provides the clear command deleting message data.
package clearcmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parrotlabsco/parrot/cmd/parrot/gatewayutil"
	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/logger"
)

const clearLongDesc string = `Delete all collected message data.

Removes every raw message and filter verdict from the configured storage
gateway. Personas and their backups are untouched. Requires --yes.`

const clearShortDesc string = "Delete all collected message data"

func NewClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: clearShortDesc,
		Long:  clearLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete data without --yes")
			}

			debug, _ := cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runClear(cmd.Context(), debug, configDir)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")

	return cmd
}

func runClear(ctx context.Context, debug bool, configDir string) error {
	log := logger.NewLogger(debug)
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}

	v, err := config.InitViper(configDir)
	if err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	gateway, err := gatewayutil.Open(ctx, cfg, configDir, log)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if err := gateway.ClearAllMessagesData(ctx); err != nil {
		return fmt.Errorf("clearing message data: %w", err)
	}

	fmt.Println("All message data cleared.")

	return nil
}
