package service

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a project or modification is
// asked to make a transition its state machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrStateConflict marks work that is already done or no longer
// applicable. Workers acknowledge and drop such messages as idempotent
// no-ops; it is logged but never surfaced as a failure.
var ErrStateConflict = errors.New("state conflict")

// ValidationError rejects malformed input synchronously, before
// anything is enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// unrecoverableError wraps a worker failure that retrying cannot fix.
// The worker loop reacts by marking the project failed and routing the
// message to the stage's dead-letter queue.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks err as not worth redelivery.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked via Unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}
