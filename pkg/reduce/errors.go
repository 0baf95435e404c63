package reduce

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPayload is returned when an event fails validation and was not folded.
	ErrInvalidPayload = errors.New("invalid event payload")

	// ErrWriteConflict is returned by an EntityStore when the stored version moved on.
	ErrWriteConflict = errors.New("entity write conflict")

	// ErrNotFound is returned by an EntityStore for an unknown id.
	ErrNotFound = errors.New("entity not found")
)

// ValidationError describes an event rejected before dispatch.
type ValidationError struct {
	EventID EventID
	Kind    string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event %s (%s) rejected: %v", e.EventID, e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidPayload, e.Err}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(id EventID, kind string, err error) error {
	return &ValidationError{EventID: id, Kind: kind, Err: err}
}
