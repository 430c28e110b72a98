package store

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation means the caller handed us unusable input; retrying the
	// same call will fail the same way.
	ErrValidation = errors.New("validation failed")

	// ErrConnectionTimeout means the pool stayed exhausted for the whole wait
	// budget. Retryable with backoff.
	ErrConnectionTimeout = errors.New("connection pool: acquire timed out")
)

// PersistenceError wraps an unexpected storage engine failure with enough
// context to find it in the logs again.
type PersistenceError struct {
	Op     string
	LeadID int64
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.LeadID > 0 {
		return fmt.Sprintf("persistence: %s (lead %d): %v", e.Op, e.LeadID, e.Err)
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, leadID int64, err error) error {
	return &PersistenceError{Op: op, LeadID: leadID, Err: err}
}
