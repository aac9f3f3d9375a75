package room

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a room, file, or presence entry does not exist.
	ErrNotFound = errors.New("room: not found")

	// ErrPermissionDenied is the base error every denial matches with errors.Is.
	ErrPermissionDenied = errors.New("room: permission denied")
)

// DeniedError reports which action authorization refused. It is surfaced to
// the originating connection as a notice and never retried.
type DeniedError struct {
	Action Action
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("room: permission denied for %s", e.Action)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Denied builds the denial error for an action.
func Denied(action Action) error {
	return &DeniedError{Action: action}
}
