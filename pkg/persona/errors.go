package persona

import "fmt"

// UpdateError indicates a failure between backup and apply. The backup
// taken for the attempt is retained as a valid restore point.
type UpdateError struct {
	PersonaID string
	Err       error
}

func (e UpdateError) Error() string {
	return fmt.Sprintf("persona update failed for %q: %v", e.PersonaID, e.Err)
}

func (e UpdateError) Unwrap() error {
	return e.Err
}

// RestoreError indicates a rollback failed, leaving the persona in an
// unverified state. This is fatal: automatic updates for the persona id are
// halted until an operator clears it.
type RestoreError struct {
	PersonaID string
	BackupID  int64
	Err       error
}

func (e RestoreError) Error() string {
	return fmt.Sprintf("persona restore failed for %q (backup %d): %v", e.PersonaID, e.BackupID, e.Err)
}

func (e RestoreError) Unwrap() error {
	return e.Err
}
