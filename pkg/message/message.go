// Package message defines the transport-neutral data types that flow through
// the persona-learning pipeline: raw inbound messages, filtered/scored
// messages, learning batches, and analysis results.
package message

import "time"

// RawMessage is a single inbound conversational message as captured from a
// chat platform. ID is assigned by the storage gateway on first save and is
// zero for messages that only exist in the write buffer.
type RawMessage struct {
	ID         int64   `json:"id,omitempty"`
	SenderID   string  `json:"sender_id"`
	SenderName string  `json:"sender_name,omitempty"`
	Message    string  `json:"message"`
	GroupID    string  `json:"group_id,omitempty"`
	Timestamp  float64 `json:"timestamp"`
	Platform   string  `json:"platform,omitempty"`
	MessageID  string  `json:"message_id,omitempty"`
	ReplyTo    string  `json:"reply_to,omitempty"`
	Processed  bool    `json:"processed"`
}

// Valid reports whether the message carries the fields required for
// collection: a sender, text, and a timestamp.
func (m *RawMessage) Valid() bool {
	return m.SenderID != "" && m.Message != "" && m.Timestamp != 0
}

// FilteredMessage is the output of the filter/scorer stage for one raw
// message. Scores maps dimension names to values in [0,1]. Immutable once
// stored.
type FilteredMessage struct {
	ID           int64              `json:"id,omitempty"`
	RawMessageID int64              `json:"raw_message_id"`
	GroupID      string             `json:"group_id,omitempty"`
	Message      string             `json:"message"`
	Suitable     bool               `json:"suitable"`
	Scores       map[string]float64 `json:"scores"`
	Timestamp    float64            `json:"timestamp"`
}

// LearningBatch tracks one learning cycle for auditing. Fields holds
// arbitrary status/progress updates accumulated over the cycle.
type LearningBatch struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Status    string         `json:"status,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Batch status values.
const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// Statistics is the aggregate view over collected messages, merged from
// gateway counts and the collector's live cache size.
type Statistics struct {
	TotalMessages       int `json:"total_messages"`
	UnprocessedMessages int `json:"unprocessed_messages"`
	FilteredMessages    int `json:"filtered_messages"`
	CacheSize           int `json:"cache_size"`
}
