// Package servecmder provides the serve command running the collector,
// learning pipeline, and API server together.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/api"
	"github.com/parrotlabsco/parrot/cmd/parrot/gatewayutil"
	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/buffer"
	"github.com/parrotlabsco/parrot/pkg/config"
	"github.com/parrotlabsco/parrot/pkg/eventstream"
	"github.com/parrotlabsco/parrot/pkg/eventstream/kafka"
	"github.com/parrotlabsco/parrot/pkg/eventstream/nop"
	"github.com/parrotlabsco/parrot/pkg/learning"
	"github.com/parrotlabsco/parrot/pkg/logger"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/pipeline"
)

// serveFlags is the flag registry for the serve command.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "listen", Shorthand: "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageBackend: {
		Name:        "storage-backend",
		ViperKey:    "storage.backend",
		Description: "Storage backend (sqlite, postgres, memory)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the SQLite database",
	},
	config.FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
	config.FlagStrategy: {
		Name:        "strategy",
		ViperKey:    "learning.strategy",
		Description: "Learning trigger strategy (progressive, batch, realtime, hybrid)",
	},
	config.FlagMinMessages: {
		Name:        "min-messages",
		ViperKey:    "learning.min_messages",
		Description: "Minimum pending messages before a learning cycle",
	},
	config.FlagCacheSize: {
		Name:        "cache-size",
		ViperKey:    "collector.cache_size_limit",
		Description: "Buffer size that triggers a flush",
	},
	config.FlagFlushInterval: {
		Name:        "flush-interval",
		ViperKey:    "collector.flush_interval_seconds",
		Description: "Max seconds between flushes",
	},
	config.FlagEventsBackend: {
		Name:        "events-backend",
		ViperKey:    "events.backend",
		Description: "Event publisher backend (nop, kafka)",
	},
	config.FlagKafkaTopic: {
		Name:        "kafka-topic",
		ViperKey:    "events.kafka_topic",
		Description: "Kafka topic for pipeline events",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageBackend,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagStrategy,
	config.FlagMinMessages,
	config.FlagCacheSize,
	config.FlagFlushInterval,
	config.FlagEventsBackend,
	config.FlagKafkaTopic,
}

type ServeCommander struct {
	listen        string
	storageBack   string
	sqlitePath    string
	postgresDSN   string
	strategy      string
	minMessages   int
	cacheSize     int
	flushInterval int
	eventsBackend string
	kafkaTopic    string

	personaID string
	debug     bool
	configDir string

	logger *zap.Logger
}

const serveLongDesc string = `Run the parrot service.

Starts the message collector, the filtering and learning pipeline, and the
HTTP API server, sharing one storage gateway. The pipeline periodically
filters collected messages and runs learning cycles according to the
configured strategy.`

const serveShortDesc string = "Run the parrot service"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}

			return cmder.run(cfg)
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageBackend, &cmder.storageBack)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagStrategy, &cmder.strategy)
	config.AddIntFlag(cmd, serveFlags, config.FlagMinMessages, &cmder.minMessages)
	config.AddIntFlag(cmd, serveFlags, config.FlagCacheSize, &cmder.cacheSize)
	config.AddIntFlag(cmd, serveFlags, config.FlagFlushInterval, &cmder.flushInterval)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventsBackend, &cmder.eventsBackend)
	config.AddStringFlag(cmd, serveFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	cmd.Flags().StringVar(&cmder.personaID, "persona", "default", "Persona id this service learns into")

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := gatewayutil.Open(ctx, cfg, c.configDir, c.logger)
	if err != nil {
		return err
	}
	defer gateway.Close()

	collector, err := buffer.NewCollector(&buffer.Config{
		Gateway:       gateway,
		SizeLimit:     cfg.Collector.CacheSizeLimit,
		FlushInterval: time.Duration(cfg.Collector.FlushIntervalSeconds) * time.Second,
		Logger:        c.logger,
	})
	if err != nil {
		return err
	}

	heuristic := analysis.NewHeuristic()
	monitor := analysis.NewThresholdMonitor(heuristic, cfg.Quality.MinSimilarity, cfg.Quality.MinConfidence)

	backups := persona.NewBackupManager(gateway, gateway, c.logger)
	coordinator, err := persona.NewCoordinator(&persona.CoordinatorConfig{
		States:  gateway,
		Backups: backups,
		Monitor: monitor,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}

	publisher, err := c.newPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	p, err := pipeline.NewPipeline(&pipeline.Config{
		Collector:   collector,
		Gateway:     gateway,
		Filter:      heuristic,
		Analyzer:    heuristic,
		Coordinator: coordinator,
		Publisher:   publisher,
		PersonaID:   c.personaID,
		Strategy:    learning.Type(cfg.Learning.Strategy),
		Learning: learning.Config{
			MinMessages: cfg.Learning.MinMessages,
			Interval:    time.Duration(cfg.Learning.IntervalSeconds) * time.Second,
		},
		Logger: c.logger,
	})
	if err != nil {
		return err
	}

	if err := p.Start(ctx); err != nil {
		return err
	}

	if watcher := c.watchConfig(); watcher != nil {
		defer watcher.Close()
	}

	server := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, p, collector, coordinator, backups, c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	go c.driveLoop(ctx, p)

	select {
	case err := <-errChan:
		_ = p.Stop(context.Background())
		return err
	case <-ctx.Done():
		c.logger.Info("received signal, shutting down")
		if err := server.Shutdown(); err != nil {
			c.logger.Warn("API server shutdown failed", zap.Error(err))
		}
		return p.Stop(context.Background())
	}
}

// driveLoop periodically filters pending messages and offers the strategy a
// chance to learn. The tick is intentionally short; the strategy's own
// trigger decides whether anything happens.
func (c *ServeCommander) driveLoop(ctx context.Context, p *pipeline.Pipeline) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil {
				c.logger.Warn("processing pass failed", zap.Error(err))
				continue
			}

			result, err := p.MaybeLearn(ctx)
			if err != nil {
				c.logger.Error("learning cycle failed", zap.Error(err))
				continue
			}
			if result != nil {
				c.logger.Info("learning cycle finished",
					zap.Bool("committed", result.Success),
					zap.Float64("confidence", result.Confidence),
				)
			}
		}
	}
}

func (c *ServeCommander) newPublisher(cfg *config.Config) (eventstream.Publisher, error) {
	switch cfg.Events.Backend {
	case "kafka":
		c.logger.Info("publishing events to kafka",
			zap.Strings("brokers", cfg.Events.KafkaBrokers),
			zap.String("topic", cfg.Events.KafkaTopic),
		)
		return kafka.NewPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic), nil
	case "nop":
		return nop.NewPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
}

// watchConfig starts a best-effort watcher that logs config file edits.
func (c *ServeCommander) watchConfig() *config.Watcher {
	cfger, err := config.NewConfiger(c.configDir)
	if err != nil || cfger.GetTarget() == "" {
		return nil
	}

	watcher, err := config.NewWatcher(filepath.Clean(cfger.GetTarget()), c.logger)
	if err != nil {
		c.logger.Warn("config watcher unavailable", zap.Error(err))
		return nil
	}

	return watcher
}
