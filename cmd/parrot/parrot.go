// Package parrotcmder
package parrotcmder

import (
	"github.com/spf13/cobra"

	backupcmder "github.com/parrotlabsco/parrot/cmd/parrot/backup"
	clearcmder "github.com/parrotlabsco/parrot/cmd/parrot/clear"
	configcmder "github.com/parrotlabsco/parrot/cmd/parrot/config"
	exportcmder "github.com/parrotlabsco/parrot/cmd/parrot/export"
	servecmder "github.com/parrotlabsco/parrot/cmd/parrot/serve"
	statscmder "github.com/parrotlabsco/parrot/cmd/parrot/stats"
	versioncmder "github.com/parrotlabsco/parrot/cmd/version"
)

const parrotLongDesc string = `Parrot learns to talk like the people it listens to.

Messages are collected, filtered for learning suitability, reduced to a
style fingerprint, and folded into a persona under backup protection.

Run the service using:
  parrot serve         Run the collector, learning pipeline, and API server

Inspect and manage data using:
  parrot stats         Show message statistics
  parrot export        Export collected learning data
  parrot clear         Delete all collected message data
  parrot backup        Manage persona backups
  parrot config        Manage persistent configuration`

const parrotShortDesc string = "Parrot - Persona Learning Pipeline"

func NewParrotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parrot",
		Short: parrotShortDesc,
		Long:  parrotLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .parrot/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(exportcmder.NewExportCmd())
	cmd.AddCommand(clearcmder.NewClearCmd())
	cmd.AddCommand(backupcmder.NewBackupCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
