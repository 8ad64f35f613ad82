// Package persona owns the mutable persona artifact and the machinery that
// makes mutating it safe: a versioned backup store and a coordinator that
// wraps every update in a backup -> apply -> quality-check -> commit/rollback
// protocol.
//
// The package defines narrow store interfaces ([StateStore], [BackupStore])
// rather than depending on a concrete storage backend; the storage gateway
// implementations satisfy them structurally.
package persona

import (
	"context"
	"time"
)

// State is the single mutable artifact encoding an agent's communication
// persona. Exactly one current State exists per persona id; write access is
// owned by the Coordinator.
type State struct {
	ID        string             `json:"id"`
	Prompt    string             `json:"prompt"`
	Style     map[string]float64 `json:"style,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the state. Snapshots and rollback work on
// copies so later mutations cannot reach into stored history.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	cp := *s
	if s.Style != nil {
		cp.Style = make(map[string]float64, len(s.Style))
		for k, v := range s.Style {
			cp.Style[k] = v
		}
	}

	return &cp
}

// Snapshot is a full, independently restorable copy of a persona State,
// tagged with the reason it was taken. BackupID is monotonically increasing
// within a persona id, assigned by the BackupManager.
type Snapshot struct {
	BackupID  int64     `json:"backup_id"`
	PersonaID string    `json:"persona_id"`
	State     *State    `json:"state"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore persists the current persona state per persona id.
type StateStore interface {
	// GetPersona returns the current state for id, or nil if none exists yet.
	GetPersona(ctx context.Context, id string) (*State, error)

	// PutPersona overwrites the current state for state.ID.
	PutPersona(ctx context.Context, state *State) error
}

// BackupStore persists persona snapshots. NextBackupID must be free of
// races under concurrent calls for the same persona id.
type BackupStore interface {
	// NextBackupID reserves and returns the next monotonic backup id for
	// the given persona id.
	NextBackupID(ctx context.Context, personaID string) (int64, error)

	// SaveBackup stores a snapshot under its (PersonaID, BackupID) key.
	SaveBackup(ctx context.Context, snap *Snapshot) error

	// GetBackup returns the snapshot with the given backup id, or nil if it
	// does not exist. Absence is a normal outcome, not an error.
	GetBackup(ctx context.Context, personaID string, backupID int64) (*Snapshot, error)

	// ListBackups returns all snapshots for the persona id, newest first.
	ListBackups(ctx context.Context, personaID string) ([]*Snapshot, error)

	// DeleteBackup removes a snapshot. Returns false if it did not exist.
	DeleteBackup(ctx context.Context, personaID string, backupID int64) (bool, error)
}
