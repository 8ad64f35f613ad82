package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/buffer"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/pipeline"
)

// Server is the API server for the parrot learning pipeline.
type Server struct {
	config      Config
	pipeline    *pipeline.Pipeline
	collector   *buffer.Collector
	coordinator *persona.Coordinator
	backups     *persona.BackupManager
	logger      *zap.Logger
	app         *fiber.App
}

// NewServer creates a new API server. The collaborators are injected so the
// serve command can share them with the pipeline it owns.
func NewServer(config Config, p *pipeline.Pipeline, collector *buffer.Collector, coordinator *persona.Coordinator, backups *persona.BackupManager, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:      config,
		pipeline:    p,
		collector:   collector,
		coordinator: coordinator,
		backups:     backups,
		logger:      logger,
		app:         app,
	}

	app.Get("/ping", s.handlePing)

	app.Post("/messages", s.handleCollect)
	app.Get("/messages/unprocessed", s.handleUnprocessed)
	app.Get("/messages/recent", s.handleRecent)
	app.Post("/messages/processed", s.handleMarkProcessed)
	app.Post("/process", s.handleProcess)
	app.Post("/learn", s.handleLearn)
	app.Get("/stats", s.handleStats)
	app.Get("/export", s.handleExport)
	app.Delete("/data", s.handleClearData)

	app.Get("/persona/:id", s.handleGetPersona)
	app.Post("/persona/:id/update", s.handleUpdatePersona)
	app.Post("/persona/:id/backups", s.handleCreateBackup)
	app.Get("/persona/:id/backups", s.handleListBackups)
	app.Delete("/persona/:id/backups/:backupID", s.handleDeleteBackup)
	app.Post("/persona/:id/restore/:backupID", s.handleRestore)
	app.Post("/persona/:id/clear-halt", s.handleClearHalt)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
