package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown content or version ID.
	ErrNotFound = errors.New("workflow: not found")

	// ErrInvalidTransition indicates the requested action is not
	// permitted from the version's current state. No state row is
	// written.
	ErrInvalidTransition = errors.New("workflow: transition not permitted from current state")

	// ErrVersionConflict indicates a version numbering race. It is the
	// only retryable error; WorkflowManager retries the whole create
	// transaction a bounded number of times before surfacing it.
	ErrVersionConflict = errors.New("workflow: version number conflict")

	// ErrStateConflict indicates two transitions raced on the same
	// version and this writer lost. Surfaced to the caller, who may
	// re-read the current state and retry.
	ErrStateConflict = errors.New("workflow: state sequence conflict")

	// ErrUnauthorized indicates the SecurityGate denied the operation.
	ErrUnauthorized = errors.New("workflow: authorization denied")
)

// PersistenceError wraps a storage or transaction failure. The enclosing
// transaction is always rolled back before one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err with the failing operation name.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable reports whether the error may succeed on retry. Only
// numbering conflicts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
