// Package exportcmder provides the export command dumping learning data.
package exportcmder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parrotlabsco/parrot/cmd/parrot/gatewayutil"
	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/logger"
)

const exportLongDesc string = `Export all collected learning data as JSON.

Dumps every raw message and filter verdict from the configured storage
gateway to stdout, or to a file with --output.`

const exportShortDesc string = "Export collected learning data"

func NewExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: exportShortDesc,
		Long:  exportLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runExport(cmd.Context(), debug, configDir, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the export to a file instead of stdout")

	return cmd
}

func runExport(ctx context.Context, debug bool, configDir, output string) error {
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

	export, err := gateway.ExportLearningData(ctx)
	if err != nil {
		return fmt.Errorf("exporting learning data: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding export: %w", err)
	}

	if output == "" {
		fmt.Println(string(data))
		return nil
	}

	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	fmt.Printf("Exported %d raw and %d filtered messages to %s\n",
		len(export.RawMessages), len(export.FilteredMessages), output)

	return nil
}
