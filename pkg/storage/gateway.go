// Package storage
package storage

import (
	"context"

	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
)

// Gateway defines the interface for durable persistence of pipeline data:
// raw messages, filtered messages, learning batches, persona state, and
// persona backups. The Gateway is the only component that owns a schema;
// everything above it works in terms of the pkg/message and pkg/persona
// types.
//
// All operations are assumed durable once they return nil. Unavailability
// or write failure surfaces as a FaultError; the core never retries
// automatically, retry policy belongs to the caller.
type Gateway interface {
	persona.StateStore
	persona.BackupStore

	// SaveRawMessage persists one raw message. When the message carries a
	// platform + group + message id triple the write is idempotent on that
	// key, which makes at-least-once flushing safe.
	SaveRawMessage(ctx context.Context, msg *message.RawMessage) error

	// GetUnprocessedMessages returns up to limit messages with the
	// processed flag unset, oldest first. limit <= 0 means no limit.
	GetUnprocessedMessages(ctx context.Context, limit int) ([]*message.RawMessage, error)

	// MarkMessagesProcessed sets the processed flag for the given storage
	// ids. Marking an already-processed or unknown id is a no-op.
	MarkMessagesProcessed(ctx context.Context, ids []int64) error

	// AddFilteredMessage persists one filter/scorer verdict.
	AddFilteredMessage(ctx context.Context, msg *message.FilteredMessage) error

	// GetFilteredMessagesForLearning returns up to limit suitable filtered
	// messages, oldest first. limit <= 0 means no limit.
	GetFilteredMessagesForLearning(ctx context.Context, limit int) ([]*message.FilteredMessage, error)

	// GetRecentFilteredMessages returns the newest filtered messages for a
	// group, newest first. limit <= 0 means no limit.
	GetRecentFilteredMessages(ctx context.Context, groupID string, limit int) ([]*message.FilteredMessage, error)

	// GetMessagesStatistics returns aggregate counts. CacheSize is zero
	// here; the collector overlays its live buffer size.
	GetMessagesStatistics(ctx context.Context) (*message.Statistics, error)

	// ExportLearningData returns all raw and filtered messages for export.
	ExportLearningData(ctx context.Context) (*LearningExport, error)

	// ClearAllMessagesData removes all raw and filtered messages. Persona
	// state and backups are untouched.
	ClearAllMessagesData(ctx context.Context) error

	// CreateLearningBatch records the start of a learning cycle and
	// returns its id.
	CreateLearningBatch(ctx context.Context, name string) (int64, error)

	// UpdateLearningBatch merges the given fields into a batch record.
	// The reserved keys "status" updates the batch status column.
	UpdateLearningBatch(ctx context.Context, id int64, fields map[string]any) error

	// Close releases gateway resources.
	Close() error
}

// LearningExport is the full dump produced by ExportLearningData.
type LearningExport struct {
	RawMessages      []*message.RawMessage      `json:"raw_messages"`
	FilteredMessages []*message.FilteredMessage `json:"filtered_messages"`
	ExportedAt       float64                    `json:"exported_at"`
}
