// Package inmemory provides a map-backed storage gateway used for tests and
// embedded single-process deployments.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/parrotlabsco/parrot/pkg/message"
	"github.com/parrotlabsco/parrot/pkg/persona"
	"github.com/parrotlabsco/parrot/pkg/storage"
)

// Gateway implements storage.Gateway using in-memory maps.
type Gateway struct {
	// mu guards every map below. Writes are short so a single mutex keeps
	// the invariants simple (monotonic ids, dedup checks).
	mu sync.RWMutex

	nextRawID      int64
	nextFilteredID int64
	nextBatchID    int64

	raw      map[int64]*message.RawMessage
	rawKeys  map[string]int64
	filtered map[int64]*message.FilteredMessage
	batches  map[int64]*message.LearningBatch

	personas map[string]*persona.State
	backups  map[string]map[int64]*persona.Snapshot
	backupID map[string]int64
}

// NewGateway creates an empty in-memory gateway.
func NewGateway() *Gateway {
	return &Gateway{
		raw:      make(map[int64]*message.RawMessage),
		rawKeys:  make(map[string]int64),
		filtered: make(map[int64]*message.FilteredMessage),
		batches:  make(map[int64]*message.LearningBatch),
		personas: make(map[string]*persona.State),
		backups:  make(map[string]map[int64]*persona.Snapshot),
		backupID: make(map[string]int64),
	}
}

// dedupKey builds the idempotency key for messages that carry a platform
// message id. Empty when no message id is present.
func dedupKey(msg *message.RawMessage) string {
	if msg.MessageID == "" {
		return ""
	}

	return msg.Platform + "/" + msg.GroupID + "/" + msg.MessageID
}

// SaveRawMessage stores a raw message. Re-saving a message with the same
// platform/group/message-id key is a no-op, which makes at-least-once
// flushing safe.
func (g *Gateway) SaveRawMessage(_ context.Context, msg *message.RawMessage) error {
	if msg == nil {
		return storage.Fault("save raw message", errors.New("nil message"))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if key := dedupKey(msg); key != "" {
		if id, ok := g.rawKeys[key]; ok {
			msg.ID = id
			return nil
		}
	}

	g.nextRawID++
	cp := *msg
	cp.ID = g.nextRawID
	g.raw[cp.ID] = &cp
	msg.ID = cp.ID

	if key := dedupKey(msg); key != "" {
		g.rawKeys[key] = cp.ID
	}

	return nil
}

// GetUnprocessedMessages returns unprocessed messages oldest first.
func (g *Gateway) GetUnprocessedMessages(_ context.Context, limit int) ([]*message.RawMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*message.RawMessage
	for _, msg := range g.raw {
		if !msg.Processed {
			cp := *msg
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// MarkMessagesProcessed flips the processed flag for the given ids.
func (g *Gateway) MarkMessagesProcessed(_ context.Context, ids []int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range ids {
		if msg, ok := g.raw[id]; ok {
			msg.Processed = true
		}
	}

	return nil
}

// AddFilteredMessage stores one filter verdict.
func (g *Gateway) AddFilteredMessage(_ context.Context, msg *message.FilteredMessage) error {
	if msg == nil {
		return storage.Fault("add filtered message", errors.New("nil message"))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextFilteredID++
	cp := *msg
	cp.ID = g.nextFilteredID
	g.filtered[cp.ID] = &cp
	msg.ID = cp.ID

	return nil
}

// GetFilteredMessagesForLearning returns suitable filtered messages oldest
// first.
func (g *Gateway) GetFilteredMessagesForLearning(_ context.Context, limit int) ([]*message.FilteredMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*message.FilteredMessage
	for _, msg := range g.filtered {
		if msg.Suitable {
			cp := *msg
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// GetRecentFilteredMessages returns the newest filtered messages for a
// group, newest first.
func (g *Gateway) GetRecentFilteredMessages(_ context.Context, groupID string, limit int) ([]*message.FilteredMessage, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*message.FilteredMessage
	for _, msg := range g.filtered {
		if msg.GroupID == groupID {
			cp := *msg
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// GetMessagesStatistics returns aggregate counts over stored messages.
func (g *Gateway) GetMessagesStatistics(_ context.Context) (*message.Statistics, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := &message.Statistics{
		TotalMessages:    len(g.raw),
		FilteredMessages: len(g.filtered),
	}
	for _, msg := range g.raw {
		if !msg.Processed {
			stats.UnprocessedMessages++
		}
	}

	return stats, nil
}

// ExportLearningData dumps all raw and filtered messages.
func (g *Gateway) ExportLearningData(_ context.Context) (*storage.LearningExport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	export := &storage.LearningExport{
		ExportedAt: float64(time.Now().Unix()),
	}
	for _, msg := range g.raw {
		cp := *msg
		export.RawMessages = append(export.RawMessages, &cp)
	}
	for _, msg := range g.filtered {
		cp := *msg
		export.FilteredMessages = append(export.FilteredMessages, &cp)
	}

	sort.Slice(export.RawMessages, func(i, j int) bool {
		return export.RawMessages[i].ID < export.RawMessages[j].ID
	})
	sort.Slice(export.FilteredMessages, func(i, j int) bool {
		return export.FilteredMessages[i].ID < export.FilteredMessages[j].ID
	})

	return export, nil
}

// ClearAllMessagesData removes every raw and filtered message. Personas and
// backups survive.
func (g *Gateway) ClearAllMessagesData(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.raw = make(map[int64]*message.RawMessage)
	g.rawKeys = make(map[string]int64)
	g.filtered = make(map[int64]*message.FilteredMessage)

	return nil
}

// CreateLearningBatch records a new batch and returns its id.
func (g *Gateway) CreateLearningBatch(_ context.Context, name string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextBatchID++
	g.batches[g.nextBatchID] = &message.LearningBatch{
		ID:        g.nextBatchID,
		Name:      name,
		Status:    message.BatchStatusRunning,
		Fields:    make(map[string]any),
		CreatedAt: time.Now(),
	}

	return g.nextBatchID, nil
}

// UpdateLearningBatch merges fields into a batch record.
func (g *Gateway) UpdateLearningBatch(_ context.Context, id int64, fields map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	batch, ok := g.batches[id]
	if !ok {
		return storage.NotFoundError{Kind: "learning batch", ID: id}
	}

	for k, v := range fields {
		if k == "status" {
			if s, ok := v.(string); ok {
				batch.Status = s
				continue
			}
		}
		batch.Fields[k] = v
	}

	return nil
}

// GetPersona returns the current state for id, or nil if none exists.
func (g *Gateway) GetPersona(_ context.Context, id string) (*persona.State, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.personas[id].Clone(), nil
}

// PutPersona overwrites the current state for state.ID.
func (g *Gateway) PutPersona(_ context.Context, state *persona.State) error {
	if state == nil || state.ID == "" {
		return storage.Fault("put persona", errors.New("persona state requires an id"))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.personas[state.ID] = state.Clone()

	return nil
}

// NextBackupID reserves the next monotonic backup id for a persona.
func (g *Gateway) NextBackupID(_ context.Context, personaID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.backupID[personaID]++

	return g.backupID[personaID], nil
}

// SaveBackup stores a snapshot under its (persona, backup id) key.
func (g *Gateway) SaveBackup(_ context.Context, snap *persona.Snapshot) error {
	if snap == nil {
		return storage.Fault("save backup", errors.New("nil snapshot"))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	byID, ok := g.backups[snap.PersonaID]
	if !ok {
		byID = make(map[int64]*persona.Snapshot)
		g.backups[snap.PersonaID] = byID
	}

	cp := *snap
	cp.State = snap.State.Clone()
	byID[snap.BackupID] = &cp

	return nil
}

// GetBackup returns a snapshot, or nil if it does not exist.
func (g *Gateway) GetBackup(_ context.Context, personaID string, backupID int64) (*persona.Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap, ok := g.backups[personaID][backupID]
	if !ok {
		return nil, nil
	}

	cp := *snap
	cp.State = snap.State.Clone()

	return &cp, nil
}

// ListBackups returns all snapshots for a persona, newest first.
func (g *Gateway) ListBackups(_ context.Context, personaID string) ([]*persona.Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []*persona.Snapshot
	for _, snap := range g.backups[personaID] {
		cp := *snap
		cp.State = snap.State.Clone()
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].BackupID > result[j].BackupID })

	return result, nil
}

// DeleteBackup removes a snapshot. Returns false if it did not exist.
func (g *Gateway) DeleteBackup(_ context.Context, personaID string, backupID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.backups[personaID][backupID]; !ok {
		return false, nil
	}

	delete(g.backups[personaID], backupID)

	return true, nil
}

// RawCount returns the number of stored raw messages. Test helper.
func (g *Gateway) RawCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.raw)
}

// Close is a no-op for the in-memory gateway.
func (g *Gateway) Close() error {
	return nil
}

// Ensure Gateway implements storage.Gateway
var _ storage.Gateway = (*Gateway)(nil)
