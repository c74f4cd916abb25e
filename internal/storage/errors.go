package storage

import (
	"errors"
	"fmt"
)

// Sentinels for session integrity failures. Match with errors.Is.
var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalidJSON = errors.New("session contains invalid JSON")
	ErrSchema      = errors.New("session failed schema validation")
	ErrExists      = errors.New("session already exists")

	// ErrEmptyID rejects blank session ids.
	ErrEmptyID = errors.New("Session id must not be empty")
)

// SessionError describes a failure on one session file.
type SessionError struct {
	Kind   error
	ID     string
	Path   string
	Detail string
}

func (e *SessionError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("Session '%s' not found", e.ID)
	case ErrInvalidJSON:
		return fmt.Sprintf("Session '%s' contains invalid JSON at '%s'", e.ID, e.Path)
	case ErrSchema:
		return fmt.Sprintf("Session '%s' failed schema validation: %s", e.ID, e.Detail)
	case ErrExists:
		return fmt.Sprintf("Session '%s' already exists", e.ID)
	default:
		return fmt.Sprintf("Session '%s': %s", e.ID, e.Detail)
	}
}

func (e *SessionError) Unwrap() error { return e.Kind }
