// Package gatewayutil opens the configured storage gateway for CLI commands.
package gatewayutil

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/dotdir"
	"github.com/parrotlabsco/parrot/pkg/storage"
	"github.com/parrotlabsco/parrot/pkg/storage/inmemory"
	"github.com/parrotlabsco/parrot/pkg/storage/postgres"
	"github.com/parrotlabsco/parrot/pkg/storage/sqlite"
)

// Open creates the storage gateway selected by cfg.Storage. A relative
// sqlite path is resolved inside the .parrot/ directory so every command
// sees the same database.
func Open(ctx context.Context, cfg *config.Config, configDir string, logger *zap.Logger) (storage.Gateway, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if !filepath.IsAbs(path) {
			target, err := dotdir.NewManager().Target(configDir)
			if err != nil {
				return nil, err
			}
			path = filepath.Join(target, path)
		}

		gateway, err := sqlite.NewGateway(path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite gateway: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		return gateway, nil

	case "postgres":
		gateway, err := postgres.NewGateway(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres gateway: %w", err)
		}
		logger.Info("using Postgres storage")
		return gateway, nil

	case "memory":
		logger.Info("using in-memory storage")
		return inmemory.NewGateway(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
