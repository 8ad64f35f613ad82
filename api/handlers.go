package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/parrotlabsco/parrot/pkg/message"
)

// ErrorResponse is the JSON error envelope for all failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleCollect accepts one raw message into the buffer. A message missing
// required fields is reported as not collected, with status 200: bad input
// data is an expected outcome, not a server fault.
func (s *Server) handleCollect(c *fiber.Ctx) error {
	var msg message.RawMessage
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid message body"})
	}

	collected, err := s.pipeline.Collect(c.Context(), &msg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{"collected": collected})
}

// handleUnprocessed returns buffered-and-stored messages not yet filtered.
func (s *Server) handleUnprocessed(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)

	msgs, err := s.collector.Unprocessed(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{
		"count":    len(msgs),
		"messages": msgs,
	})
}

// handleRecent returns the newest filtered messages for a group.
func (s *Server) handleRecent(c *fiber.Ctx) error {
	groupID := c.Query("group_id")
	limit := c.QueryInt("limit", 0)

	msgs, err := s.collector.RecentFiltered(c.Context(), groupID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{
		"count":    len(msgs),
		"messages": msgs,
	})
}

// handleMarkProcessed sets the processed flag on the given message ids.
func (s *Server) handleMarkProcessed(c *fiber.Ctx) error {
	var body struct {
		IDs []int64 `json:"ids"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.collector.MarkProcessed(c.Context(), body.IDs); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{"marked": len(body.IDs)})
}

// handleProcess runs one filtering pass over unprocessed messages.
func (s *Server) handleProcess(c *fiber.Ctx) error {
	enqueued, err := s.pipeline.ProcessPending(c.Context())
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{"enqueued": enqueued})
}

// handleLearn runs one learning cycle if the strategy trigger fires.
func (s *Server) handleLearn(c *fiber.Ctx) error {
	result, err := s.pipeline.MaybeLearn(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	if result == nil {
		return c.JSON(fiber.Map{"triggered": false})
	}

	return c.JSON(fiber.Map{
		"triggered": true,
		"result":    result,
	})
}

// handleStats returns aggregate message statistics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.collector.Statistics(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(stats)
}

// handleExport returns the full learning data dump.
func (s *Server) handleExport(c *fiber.Ctx) error {
	export, err := s.collector.ExportLearningData(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(export)
}

// handleClearData removes all raw and filtered messages. Personas and their
// backups survive.
func (s *Server) handleClearData(c *fiber.Ctx) error {
	if err := s.collector.ClearAll(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{"cleared": true})
}

// handleGetPersona returns the current persona state.
func (s *Server) handleGetPersona(c *fiber.Ctx) error {
	state, err := s.coordinator.CurrentState(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	if state == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "persona not found"})
	}

	return c.JSON(state)
}

// handleUpdatePersona applies one externally supplied style fingerprint to
// a persona through the full backup/update/quality protocol.
func (s *Server) handleUpdatePersona(c *fiber.Ctx) error {
	var style message.StyleFingerprint
	if err := c.BodyParser(&style); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid style body"})
	}

	result, err := s.coordinator.UpdatePersona(c.Context(), c.Params("id"), &style, nil)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(result)
}

// handleCreateBackup snapshots the persona outside the update path.
func (s *Server) handleCreateBackup(c *fiber.Ctx) error {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&body); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if body.Reason == "" {
		body.Reason = "manual"
	}

	backupID, err := s.coordinator.BackupPersona(c.Context(), c.Params("id"), body.Reason)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"backup_id": backupID})
}

// handleListBackups lists a persona's backups, newest first.
func (s *Server) handleListBackups(c *fiber.Ctx) error {
	backups, err := s.backups.ListBackups(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(fiber.Map{
		"count":   len(backups),
		"backups": backups,
	})
}

// handleDeleteBackup deletes one backup snapshot.
func (s *Server) handleDeleteBackup(c *fiber.Ctx) error {
	backupID, err := strconv.ParseInt(c.Params("backupID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid backup id"})
	}

	deleted, err := s.backups.DeleteBackup(c.Context(), c.Params("id"), backupID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "backup not found"})
	}

	return c.JSON(fiber.Map{"deleted": true})
}

// handleRestore overwrites the persona with a backup snapshot. The snapshot
// survives the restore and can be restored again.
func (s *Server) handleRestore(c *fiber.Ctx) error {
	backupID, err := strconv.ParseInt(c.Params("backupID"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid backup id"})
	}

	restored, err := s.coordinator.RestorePersona(c.Context(), c.Params("id"), backupID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	if !restored {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "backup not found"})
	}

	return c.JSON(fiber.Map{"restored": true})
}

// handleClearHalt re-enables automatic updates for a halted persona.
func (s *Server) handleClearHalt(c *fiber.Ctx) error {
	s.coordinator.ClearHalt(c.Params("id"))

	return c.JSON(fiber.Map{"halted": false})
}
