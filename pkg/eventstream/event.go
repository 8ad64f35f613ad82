// Package eventstream decouples pipeline stages from their consumers.
//
// In-process fan-out goes through [Bus]; cross-process delivery goes
// through a [Publisher] backend. The bus instance is owned by the pipeline
// orchestrator and passed explicitly to producers and consumers — there is
// no global subscription state.
package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMessageCollected is emitted after a message enters the buffer.
	EventTypeMessageCollected = "parrot.message.collected"

	// EventTypeMessageFiltered is emitted after a filter verdict is stored.
	EventTypeMessageFiltered = "parrot.message.filtered"

	// EventTypeStyleAnalyzed is emitted when a style fingerprint is produced.
	EventTypeStyleAnalyzed = "parrot.style.analyzed"

	// EventTypePersonaUpdated is emitted after a committed persona update.
	EventTypePersonaUpdated = "parrot.persona.updated"

	// EventTypePersonaRolledBack is emitted after a quality rollback.
	EventTypePersonaRolledBack = "parrot.persona.rolled_back"

	// EventTypeLearningCompleted is emitted at the end of a learning cycle.
	EventTypeLearningCompleted = "parrot.learning.completed"

	// EventTypeQualityIssue is emitted when the quality monitor flags issues.
	EventTypeQualityIssue = "parrot.quality.issue_detected"

	// EventTypeServiceStatus is emitted on pipeline lifecycle transitions.
	EventTypeServiceStatus = "parrot.service.status_changed"
)

// Event is a transport-neutral pipeline event payload.
type Event struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	EventID       string         `json:"event_id"`
	EmittedAt     time.Time      `json:"emitted_at"`
	Data          map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event of the given type with a fresh id.
func NewEvent(eventType string, data map[string]any) *Event {
	return &Event{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now(),
		Data:          data,
	}
}
