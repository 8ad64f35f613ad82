// Package configcmder provides the config command for managing persistent
// parrot configuration stored in the .parrot/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent parrot configuration.

Configuration is stored as config.toml in the .parrot/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  storage.backend, storage.sqlite_path, storage.postgres_dsn,
  collector.cache_size_limit, collector.flush_interval_seconds,
  learning.strategy, learning.min_messages, learning.interval_seconds,
  quality.min_similarity, quality.min_confidence,
  api.listen,
  events.backend, events.kafka_brokers, events.kafka_topic

Use subcommands to get, set, or list configuration values:
  parrot config set <key> <value>    Set a configuration value
  parrot config get <key>            Get a configuration value
  parrot config list                 List all configuration values

Examples:
  parrot config set learning.strategy hybrid
  parrot config set collector.cache_size_limit 200
  parrot config get storage.backend
  parrot config list`

const configShortDesc string = "Manage persistent parrot configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
