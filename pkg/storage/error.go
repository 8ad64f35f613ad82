package storage

import "fmt"

// NotFoundError is returned when a requested record doesn't exist in the
// store.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e NotFoundError) Error() string {
	if e.Kind == "" {
		return "record not found"
	}

	return fmt.Sprintf("%s not found: %d", e.Kind, e.ID)
}

// FaultError indicates the storage backend was unavailable or a write
// failed. Callers decide retry policy; the core never retries on its own.
type FaultError struct {
	Op  string
	Err error
}

func (e FaultError) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e FaultError) Unwrap() error {
	return e.Err
}

// Fault wraps err as a FaultError for the named operation. Returns nil when
// err is nil.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}

	return FaultError{Op: op, Err: err}
}
