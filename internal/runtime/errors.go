package runtime

import (
	"errors"
	"fmt"
)

// Substrate error taxonomy. Substrate calls return these to signal that the
// operation against the external system could not be performed; they never
// encode the outcome of the job itself, which travels in the status types.
var (
	// ErrCredentials indicates credentials were invalid or could not be
	// obtained.
	ErrCredentials = errors.New("failed to get credentials or the credentials were invalid")

	// ErrCannotDelete indicates a stack exists but cannot be deleted.
	// Only teardown substrates return it.
	ErrCannotDelete = errors.New("stack cannot be deleted")
)

// OtherError carries substrate failures that fit no known pattern.
type OtherError struct {
	Info string
}

func (e *OtherError) Error() string {
	return fmt.Sprintf("substrate error: %s", e.Info)
}

// Otherf builds an OtherError from a format string.
func Otherf(format string, args ...any) error {
	return &OtherError{Info: fmt.Sprintf(format, args...)}
}
