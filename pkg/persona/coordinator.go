package persona

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parrotlabsco/parrot/pkg/analysis"
	"github.com/parrotlabsco/parrot/pkg/message"
)

// Phase is the state of one persona update attempt.
type Phase int

const (
	PhasePending Phase = iota
	PhaseBackedUp
	PhaseApplied
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseBackedUp:
		return "backed_up"
	case PhaseApplied:
		return "applied"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// ErrHalted is returned for personas whose automatic updates were halted by
// a failed rollback. An operator clears the halt after verifying the state.
var ErrHalted = errors.New("persona updates halted after failed restore")

// CoordinatorConfig holds the coordinator's collaborators.
type CoordinatorConfig struct {
	// States persists current persona state.
	States StateStore

	// Backups snapshots persona state before every mutation.
	Backups *BackupManager

	// Updater computes the candidate next state. Defaults to StyleUpdater.
	Updater Updater

	// Monitor judges the update delta. Required.
	Monitor analysis.QualityMonitor

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Coordinator makes persona mutation appear atomic: every update runs
// backup -> apply -> quality check -> commit or rollback, and no mutation
// is ever attempted without a verified backup (fail-closed).
//
// Updates for one persona id are serialized; different persona ids proceed
// independently.
type Coordinator struct {
	states  StateStore
	backups *BackupManager
	updater Updater
	monitor analysis.QualityMonitor
	logger  *zap.Logger

	// mu guards locks and halted.
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	halted map[string]bool
}

// NewCoordinator creates a coordinator.
func NewCoordinator(c *CoordinatorConfig) (*Coordinator, error) {
	if c.States == nil || c.Backups == nil {
		return nil, errors.New("coordinator requires state and backup stores")
	}

	if c.Monitor == nil {
		return nil, errors.New("coordinator requires a quality monitor")
	}

	if c.Updater == nil {
		c.Updater = &StyleUpdater{}
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return &Coordinator{
		states:  c.States,
		backups: c.Backups,
		updater: c.Updater,
		monitor: c.Monitor,
		logger:  c.Logger,
		locks:   make(map[string]*sync.Mutex),
		halted:  make(map[string]bool),
	}, nil
}

func (c *Coordinator) personaLock(personaID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[personaID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[personaID] = lock
	}

	return lock
}

// Halted reports whether automatic updates for the persona id are halted.
func (c *Coordinator) Halted(personaID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.halted[personaID]
}

// ClearHalt re-enables updates for a persona id after operator resolution.
func (c *Coordinator) ClearHalt(personaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.halted, personaID)
}

func (c *Coordinator) halt(personaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.halted[personaID] = true
}

// UpdatePersona runs one update attempt through the full protocol. The
// returned result reports the final phase under "phase" and the backup id
// under "backup_id". A quality regression yields an unsuccessful result
// with no error: the rollback succeeded and the system is healthy. A
// RestoreError is returned when rollback itself fails; the persona is then
// halted.
func (c *Coordinator) UpdatePersona(ctx context.Context, personaID string, style *message.StyleFingerprint, msgs []*message.FilteredMessage) (message.AnalysisResult, error) {
	lock := c.personaLock(personaID)
	lock.Lock()
	defer lock.Unlock()

	// Checked under the persona lock so an attempt queued behind a failing
	// update observes the halt that update set.
	if c.Halted(personaID) {
		return message.Failure(ErrHalted.Error()), UpdateError{PersonaID: personaID, Err: ErrHalted}
	}

	phase := PhasePending

	before, err := c.states.GetPersona(ctx, personaID)
	if err != nil {
		return message.Failure(err.Error()), UpdateError{PersonaID: personaID, Err: err}
	}
	if before == nil {
		before = &State{ID: personaID}
	}

	// PENDING -> BACKED_UP: no mutation without a verified backup.
	backupID, err := c.backups.CreateBackup(ctx, personaID, "pre-update")
	if err != nil {
		c.logger.Error("backup failed, update aborted",
			zap.String("persona_id", personaID),
			zap.Error(err),
		)
		return message.Failure(err.Error()), UpdateError{PersonaID: personaID, Err: err}
	}
	phase = PhaseBackedUp

	// BACKED_UP -> APPLIED
	after, err := c.updater.Apply(before, style, msgs)
	if err == nil {
		err = c.states.PutPersona(ctx, after)
	}
	if err != nil {
		// The backup stays behind as a valid restore point.
		c.logger.Error("apply failed, update aborted",
			zap.String("persona_id", personaID),
			zap.String("phase", phase.String()),
			zap.Int64("backup_id", backupID),
			zap.Error(err),
		)
		return message.Failure(err.Error()), UpdateError{PersonaID: personaID, Err: err}
	}
	phase = PhaseApplied

	// APPLIED -> COMMITTED | ROLLED_BACK. Cancellation after backup is a
	// quality failure: never leave the attempt applied with no resolution.
	eval := message.Failure("update cancelled")
	if ctx.Err() == nil {
		eval, err = c.monitor.EvaluateLearningQuality(ctx, fingerprintOf(before), fingerprintOf(after))
		if err != nil {
			eval = message.Failure(err.Error())
		}
	}

	if eval.Success {
		phase = PhaseCommitted
		c.logger.Info("persona update committed",
			zap.String("persona_id", personaID),
			zap.Int64("backup_id", backupID),
			zap.Float64("confidence", eval.Confidence),
		)

		return message.AnalysisResult{
			Success:    true,
			Confidence: eval.Confidence,
			Data: map[string]any{
				"phase":     phase.String(),
				"backup_id": backupID,
			},
			Timestamp: time.Now(),
		}, nil
	}

	// Roll back. Restore failure is fatal and must be loud: the persona is
	// in an unverified state until an operator intervenes.
	restored, rerr := c.backups.Restore(ctx, personaID, backupID)
	if rerr != nil || !restored {
		if rerr == nil {
			rerr = errors.New("backup not found during rollback")
		}
		c.halt(personaID)
		c.logger.Error("rollback failed, persona halted",
			zap.String("persona_id", personaID),
			zap.Int64("backup_id", backupID),
			zap.Error(rerr),
		)
		return message.Failure(rerr.Error()), RestoreError{PersonaID: personaID, BackupID: backupID, Err: rerr}
	}

	phase = PhaseRolledBack
	c.logger.Warn("persona update rolled back",
		zap.String("persona_id", personaID),
		zap.Int64("backup_id", backupID),
		zap.String("reason", eval.Error),
	)

	return message.AnalysisResult{
		Success: false,
		Error:   eval.Error,
		Data: map[string]any{
			"phase":     phase.String(),
			"backup_id": backupID,
		},
		Timestamp: time.Now(),
	}, nil
}

// BackupPersona snapshots the current persona outside the update path.
func (c *Coordinator) BackupPersona(ctx context.Context, personaID, reason string) (int64, error) {
	return c.backups.CreateBackup(ctx, personaID, reason)
}

// RestorePersona overwrites the persona with a snapshot. Returns false
// when the backup id doesn't exist. Serialized against updates for the
// same persona id.
func (c *Coordinator) RestorePersona(ctx context.Context, personaID string, backupID int64) (bool, error) {
	lock := c.personaLock(personaID)
	lock.Lock()
	defer lock.Unlock()

	return c.backups.Restore(ctx, personaID, backupID)
}

// CurrentState returns the current persona state, or nil if none exists.
func (c *Coordinator) CurrentState(ctx context.Context, personaID string) (*State, error) {
	return c.states.GetPersona(ctx, personaID)
}

// fingerprintOf views a state's style map as a fingerprint for quality
// evaluation.
func fingerprintOf(s *State) *message.StyleFingerprint {
	if s == nil {
		return &message.StyleFingerprint{Dimensions: map[string]float64{}}
	}

	dims := s.Style
	if dims == nil {
		dims = map[string]float64{}
	}

	return &message.StyleFingerprint{Dimensions: dims}
}
