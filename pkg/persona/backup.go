package persona

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackupManager maintains the chronologically ordered snapshot history for
// each persona. Snapshots are full copies, never diffs: diffing introduces
// reconstruction risk during restore.
type BackupManager struct {
	states  StateStore
	backups BackupStore
	logger  *zap.Logger

	// mu guards locks. Backup creation is serialized per persona id so
	// concurrent creates cannot race on identifier assignment.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBackupManager creates a backup manager over the given stores.
func NewBackupManager(states StateStore, backups BackupStore, logger *zap.Logger) *BackupManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BackupManager{
		states:  states,
		backups: backups,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

// personaLock returns the mutex for one persona id, creating it on first
// use.
func (m *BackupManager) personaLock(personaID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[personaID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[personaID] = lock
	}

	return lock
}

// CreateBackup snapshots the current state of the persona and returns the
// new backup id. A persona with no stored state yet is backed up as an
// empty state, so the first update still has a restore point.
func (m *BackupManager) CreateBackup(ctx context.Context, personaID, reason string) (int64, error) {
	lock := m.personaLock(personaID)
	lock.Lock()
	defer lock.Unlock()

	current, err := m.states.GetPersona(ctx, personaID)
	if err != nil {
		return 0, err
	}

	if current == nil {
		current = &State{ID: personaID}
	}

	backupID, err := m.backups.NextBackupID(ctx, personaID)
	if err != nil {
		return 0, err
	}

	snap := &Snapshot{
		BackupID:  backupID,
		PersonaID: personaID,
		State:     current.Clone(),
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	if err := m.backups.SaveBackup(ctx, snap); err != nil {
		return 0, err
	}

	m.logger.Info("persona backup created",
		zap.String("persona_id", personaID),
		zap.Int64("backup_id", backupID),
		zap.String("reason", reason),
	)

	return backupID, nil
}

// GetBackup returns a snapshot, or nil when the backup id doesn't exist.
// Absence is a normal outcome, not an error.
func (m *BackupManager) GetBackup(ctx context.Context, personaID string, backupID int64) (*Snapshot, error) {
	return m.backups.GetBackup(ctx, personaID, backupID)
}

// ListBackups returns all snapshots for a persona, newest first. The order
// is total and stable: by backup id, which is creation order by
// construction.
func (m *BackupManager) ListBackups(ctx context.Context, personaID string) ([]*Snapshot, error) {
	return m.backups.ListBackups(ctx, personaID)
}

// DeleteBackup removes one snapshot. Returns false when it did not exist.
// Other backups and the current persona are unaffected.
func (m *BackupManager) DeleteBackup(ctx context.Context, personaID string, backupID int64) (bool, error) {
	deleted, err := m.backups.DeleteBackup(ctx, personaID, backupID)
	if err != nil {
		return false, err
	}

	if deleted {
		m.logger.Info("persona backup deleted",
			zap.String("persona_id", personaID),
			zap.Int64("backup_id", backupID),
		)
	}

	return deleted, nil
}

// Restore overwrites the current persona with the snapshot contents.
// Returns false when the backup id doesn't exist. The snapshot is never
// deleted by a restore, so restoring the same id twice is idempotent.
func (m *BackupManager) Restore(ctx context.Context, personaID string, backupID int64) (bool, error) {
	snap, err := m.backups.GetBackup(ctx, personaID, backupID)
	if err != nil {
		return false, err
	}

	if snap == nil {
		return false, nil
	}

	if err := m.states.PutPersona(ctx, snap.State.Clone()); err != nil {
		return false, err
	}

	m.logger.Info("persona restored from backup",
		zap.String("persona_id", personaID),
		zap.Int64("backup_id", backupID),
	)

	return true, nil
}
