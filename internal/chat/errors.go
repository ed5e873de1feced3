package chat

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id does not exist or belongs
// to another user.
var ErrSessionNotFound = errors.New("session not found")

// BackendError wraps a generation failure with the backend that produced it.
// The orchestrator still persists a readable placeholder reply; this error
// carries the detail for callers that want it.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
