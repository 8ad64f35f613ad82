// Package sqlite provides a SQLite-backed storage gateway.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

// Gateway implements storage.Gateway using SQLite.
type Gateway struct {
	db *sql.DB
}

// NewGateway creates a new SQLite-backed gateway.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewGateway(dbPath string) (*Gateway, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite-specific pragmas
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	g := &Gateway{db: db}

	if err := g.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return g, nil
}

// migrate creates the necessary tables if they don't exist.
func (g *Gateway) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS raw_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id TEXT NOT NULL,
		sender_name TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		timestamp REAL NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		reply_to TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_messages_platform_key
		ON raw_messages(platform, group_id, message_id)
		WHERE message_id != '';

	CREATE INDEX IF NOT EXISTS idx_raw_messages_processed
		ON raw_messages(processed);

	CREATE TABLE IF NOT EXISTS filtered_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		raw_message_id INTEGER NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		suitable INTEGER NOT NULL DEFAULT 0,
		scores TEXT NOT NULL DEFAULT '{}',
		timestamp REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_filtered_messages_group
		ON filtered_messages(group_id);

	CREATE TABLE IF NOT EXISTS learning_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		fields TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS personas (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS persona_backups (
		persona_id TEXT NOT NULL,
		backup_id INTEGER NOT NULL,
		state TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (persona_id, backup_id)
	);
	`

	_, err := g.db.Exec(schema)
	return err
}

// SaveRawMessage persists one raw message. Messages carrying a platform
// message id are deduplicated via INSERT OR IGNORE on the unique index, so
// retried flushes are idempotent.
func (g *Gateway) SaveRawMessage(ctx context.Context, msg *message.RawMessage) error {
	if msg == nil {
		return storage.Fault("save raw message", fmt.Errorf("nil message"))
	}

	query := `INSERT OR IGNORE INTO raw_messages
		(sender_id, sender_name, message, group_id, timestamp, platform, message_id, reply_to, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := g.db.ExecContext(ctx, query,
		msg.SenderID, msg.SenderName, msg.Message, msg.GroupID,
		msg.Timestamp, msg.Platform, msg.MessageID, msg.ReplyTo, boolToInt(msg.Processed))
	if err != nil {
		return storage.Fault("save raw message", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		if id, err := res.LastInsertId(); err == nil {
			msg.ID = id
		}
		return nil
	}

	// Duplicate keyed message: resolve the existing row id.
	if msg.MessageID != "" {
		row := g.db.QueryRowContext(ctx,
			`SELECT id FROM raw_messages WHERE platform = ? AND group_id = ? AND message_id = ?`,
			msg.Platform, msg.GroupID, msg.MessageID)
		if err := row.Scan(&msg.ID); err != nil && err != sql.ErrNoRows {
			return storage.Fault("save raw message", err)
		}
	}

	return nil
}

// GetUnprocessedMessages returns unprocessed messages oldest first.
func (g *Gateway) GetUnprocessedMessages(ctx context.Context, limit int) ([]*message.RawMessage, error) {
	query := `SELECT id, sender_id, sender_name, message, group_id, timestamp, platform, message_id, reply_to, processed
		FROM raw_messages WHERE processed = 0 ORDER BY id`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Fault("get unprocessed messages", err)
	}
	defer rows.Close()

	return scanRawMessages(rows)
}

// MarkMessagesProcessed sets the processed flag for the given ids.
func (g *Gateway) MarkMessagesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE raw_messages SET processed = 1 WHERE id = ?`
	for _, id := range ids {
		if _, err := g.db.ExecContext(ctx, query, id); err != nil {
			return storage.Fault("mark messages processed", err)
		}
	}

	return nil
}

// AddFilteredMessage persists one filter verdict. Scores are stored as JSON.
func (g *Gateway) AddFilteredMessage(ctx context.Context, msg *message.FilteredMessage) error {
	if msg == nil {
		return storage.Fault("add filtered message", fmt.Errorf("nil message"))
	}

	scores, err := json.Marshal(msg.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}

	query := `INSERT INTO filtered_messages (raw_message_id, group_id, message, suitable, scores, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`

	res, err := g.db.ExecContext(ctx, query,
		msg.RawMessageID, msg.GroupID, msg.Message, boolToInt(msg.Suitable), string(scores), msg.Timestamp)
	if err != nil {
		return storage.Fault("add filtered message", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}

	return nil
}

// GetFilteredMessagesForLearning returns suitable filtered messages oldest
// first.
func (g *Gateway) GetFilteredMessagesForLearning(ctx context.Context, limit int) ([]*message.FilteredMessage, error) {
	query := `SELECT id, raw_message_id, group_id, message, suitable, scores, timestamp
		FROM filtered_messages WHERE suitable = 1 ORDER BY id`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Fault("get filtered messages", err)
	}
	defer rows.Close()

	return scanFilteredMessages(rows)
}

// GetRecentFilteredMessages returns the newest filtered messages for a
// group, newest first. limit <= 0 means no limit.
func (g *Gateway) GetRecentFilteredMessages(ctx context.Context, groupID string, limit int) ([]*message.FilteredMessage, error) {
	query := `SELECT id, raw_message_id, group_id, message, suitable, scores, timestamp
		FROM filtered_messages WHERE group_id = ? ORDER BY id DESC`
	args := []any{groupID}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Fault("get recent filtered messages", err)
	}
	defer rows.Close()

	return scanFilteredMessages(rows)
}

// GetMessagesStatistics returns aggregate counts over stored messages.
func (g *Gateway) GetMessagesStatistics(ctx context.Context) (*message.Statistics, error) {
	stats := &message.Statistics{}

	row := g.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END), 0)
		FROM raw_messages`)
	if err := row.Scan(&stats.TotalMessages, &stats.UnprocessedMessages); err != nil {
		return nil, storage.Fault("get statistics", err)
	}

	row = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filtered_messages`)
	if err := row.Scan(&stats.FilteredMessages); err != nil {
		return nil, storage.Fault("get statistics", err)
	}

	return stats, nil
}

// ExportLearningData dumps all raw and filtered messages.
func (g *Gateway) ExportLearningData(ctx context.Context) (*storage.LearningExport, error) {
	raw, err := g.allRawMessages(ctx)
	if err != nil {
		return nil, err
	}

	filtered, err := g.allFilteredMessages(ctx)
	if err != nil {
		return nil, err
	}

	return &storage.LearningExport{
		RawMessages:      raw,
		FilteredMessages: filtered,
		ExportedAt:       float64(time.Now().Unix()),
	}, nil
}

func (g *Gateway) allRawMessages(ctx context.Context) ([]*message.RawMessage, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, sender_id, sender_name, message, group_id, timestamp, platform, message_id, reply_to, processed
		FROM raw_messages ORDER BY id`)
	if err != nil {
		return nil, storage.Fault("export learning data", err)
	}
	defer rows.Close()

	return scanRawMessages(rows)
}

func (g *Gateway) allFilteredMessages(ctx context.Context) ([]*message.FilteredMessage, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, raw_message_id, group_id, message, suitable, scores, timestamp
		FROM filtered_messages ORDER BY id`)
	if err != nil {
		return nil, storage.Fault("export learning data", err)
	}
	defer rows.Close()

	return scanFilteredMessages(rows)
}

// ClearAllMessagesData removes all raw and filtered messages. Persona state
// and backups are untouched.
func (g *Gateway) ClearAllMessagesData(ctx context.Context) error {
	for _, query := range []string{
		`DELETE FROM raw_messages`,
		`DELETE FROM filtered_messages`,
	} {
		if _, err := g.db.ExecContext(ctx, query); err != nil {
			return storage.Fault("clear messages data", err)
		}
	}

	return nil
}

// CreateLearningBatch records a new batch and returns its id.
func (g *Gateway) CreateLearningBatch(ctx context.Context, name string) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO learning_batches (name, status, fields) VALUES (?, 'running', '{}')`, name)
	if err != nil {
		return 0, storage.Fault("create learning batch", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.Fault("create learning batch", err)
	}

	return id, nil
}

// UpdateLearningBatch merges fields into a batch record. The reserved
// "status" key updates the status column.
func (g *Gateway) UpdateLearningBatch(ctx context.Context, id int64, fields map[string]any) error {
	row := g.db.QueryRowContext(ctx, `SELECT status, fields FROM learning_batches WHERE id = ?`, id)

	var status, fieldsJSON string
	if err := row.Scan(&status, &fieldsJSON); err == sql.ErrNoRows {
		return storage.NotFoundError{Kind: "learning batch", ID: id}
	} else if err != nil {
		return storage.Fault("update learning batch", err)
	}

	merged := map[string]any{}
	if err := json.Unmarshal([]byte(fieldsJSON), &merged); err != nil {
		return fmt.Errorf("unmarshal batch fields: %w", err)
	}

	for k, v := range fields {
		if k == "status" {
			if s, ok := v.(string); ok {
				status = s
				continue
			}
		}
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal batch fields: %w", err)
	}

	_, err = g.db.ExecContext(ctx,
		`UPDATE learning_batches SET status = ?, fields = ? WHERE id = ?`, status, string(data), id)
	if err != nil {
		return storage.Fault("update learning batch", err)
	}

	return nil
}

// GetPersona returns the current state for id, or nil if none exists.
func (g *Gateway) GetPersona(ctx context.Context, id string) (*persona.State, error) {
	row := g.db.QueryRowContext(ctx, `SELECT state FROM personas WHERE id = ?`, id)

	var stateJSON string
	if err := row.Scan(&stateJSON); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, storage.Fault("get persona", err)
	}

	var state persona.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("unmarshal persona state: %w", err)
	}

	return &state, nil
}

// PutPersona overwrites the current state for state.ID.
func (g *Gateway) PutPersona(ctx context.Context, state *persona.State) error {
	if state == nil || state.ID == "" {
		return storage.Fault("put persona", fmt.Errorf("persona state requires an id"))
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal persona state: %w", err)
	}

	query := `INSERT INTO personas (id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`

	if _, err := g.db.ExecContext(ctx, query, state.ID, string(data)); err != nil {
		return storage.Fault("put persona", err)
	}

	return nil
}

// NextBackupID reserves the next monotonic backup id for a persona.
// Callers (the BackupManager) serialize per persona id, so MAX+1 is safe.
func (g *Gateway) NextBackupID(ctx context.Context, personaID string) (int64, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(backup_id), 0) + 1 FROM persona_backups WHERE persona_id = ?`, personaID)

	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, storage.Fault("next backup id", err)
	}

	return next, nil
}

// SaveBackup stores a snapshot under its (persona, backup id) key.
func (g *Gateway) SaveBackup(ctx context.Context, snap *persona.Snapshot) error {
	if snap == nil {
		return storage.Fault("save backup", fmt.Errorf("nil snapshot"))
	}

	data, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}

	query := `INSERT INTO persona_backups (persona_id, backup_id, state, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err = g.db.ExecContext(ctx, query,
		snap.PersonaID, snap.BackupID, string(data), snap.Reason, snap.CreatedAt)
	if err != nil {
		return storage.Fault("save backup", err)
	}

	return nil
}

// GetBackup returns a snapshot, or nil if it does not exist.
func (g *Gateway) GetBackup(ctx context.Context, personaID string, backupID int64) (*persona.Snapshot, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT state, reason, created_at FROM persona_backups WHERE persona_id = ? AND backup_id = ?`,
		personaID, backupID)

	snap := &persona.Snapshot{PersonaID: personaID, BackupID: backupID}

	var stateJSON string
	if err := row.Scan(&stateJSON, &snap.Reason, &snap.CreatedAt); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, storage.Fault("get backup", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot state: %w", err)
	}

	return snap, nil
}

// ListBackups returns all snapshots for a persona, newest first.
func (g *Gateway) ListBackups(ctx context.Context, personaID string) ([]*persona.Snapshot, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT backup_id, state, reason, created_at FROM persona_backups
		WHERE persona_id = ? ORDER BY backup_id DESC`, personaID)
	if err != nil {
		return nil, storage.Fault("list backups", err)
	}
	defer rows.Close()

	var result []*persona.Snapshot
	for rows.Next() {
		snap := &persona.Snapshot{PersonaID: personaID}

		var stateJSON string
		if err := rows.Scan(&snap.BackupID, &stateJSON, &snap.Reason, &snap.CreatedAt); err != nil {
			return nil, storage.Fault("list backups", err)
		}

		if err := json.Unmarshal([]byte(stateJSON), &snap.State); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot state: %w", err)
		}

		result = append(result, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, storage.Fault("list backups", err)
	}

	return result, nil
}

// DeleteBackup removes a snapshot. Returns false if it did not exist.
func (g *Gateway) DeleteBackup(ctx context.Context, personaID string, backupID int64) (bool, error) {
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM persona_backups WHERE persona_id = ? AND backup_id = ?`, personaID, backupID)
	if err != nil {
		return false, storage.Fault("delete backup", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.Fault("delete backup", err)
	}

	return n > 0, nil
}

// Close closes the database connection.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// scanRawMessages scans multiple rows into RawMessage structs.
func scanRawMessages(rows *sql.Rows) ([]*message.RawMessage, error) {
	var messages []*message.RawMessage

	for rows.Next() {
		var msg message.RawMessage
		var processed int

		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Message,
			&msg.GroupID, &msg.Timestamp, &msg.Platform, &msg.MessageID, &msg.ReplyTo, &processed); err != nil {
			return nil, fmt.Errorf("failed to scan raw message: %w", err)
		}

		msg.Processed = processed != 0
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return messages, nil
}

// scanFilteredMessages scans multiple rows into FilteredMessage structs.
func scanFilteredMessages(rows *sql.Rows) ([]*message.FilteredMessage, error) {
	var messages []*message.FilteredMessage

	for rows.Next() {
		var msg message.FilteredMessage
		var suitable int
		var scoresJSON string

		if err := rows.Scan(&msg.ID, &msg.RawMessageID, &msg.GroupID, &msg.Message,
			&suitable, &scoresJSON, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan filtered message: %w", err)
		}

		msg.Suitable = suitable != 0
		if err := json.Unmarshal([]byte(scoresJSON), &msg.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return messages, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure Gateway implements storage.Gateway
var _ storage.Gateway = (*Gateway)(nil)
