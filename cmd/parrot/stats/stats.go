// Package statscmder provides the stats command showing message counts.
package statscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parrotlabsco/parrot/cmd/parrot/gatewayutil"
	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/logger"
)

const statsLongDesc string = `Show aggregate message statistics.

Counts come straight from the configured storage gateway: total collected
messages, messages awaiting filtering, and stored filter verdicts.`

const statsShortDesc string = "Show message statistics"

func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runStats(cmd.Context(), debug, configDir)
		},
	}

	return cmd
}

func runStats(ctx context.Context, debug bool, configDir string) error {
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

	stats, err := gateway.GetMessagesStatistics(ctx)
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}

	fmt.Printf("Total messages:       %d\n", stats.TotalMessages)
	fmt.Printf("Unprocessed messages: %d\n", stats.UnprocessedMessages)
	fmt.Printf("Filtered messages:    %d\n", stats.FilteredMessages)

	return nil
}
