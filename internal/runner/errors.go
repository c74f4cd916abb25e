package runner

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyPrompt is returned for prompt requests that are blank after trimming.
	ErrEmptyPrompt = errors.New("Turn request prompt must not be empty")

	// ErrAmbiguousRequest is returned when a request carries both a prompt and messages.
	ErrAmbiguousRequest = errors.New("Turn request must carry either a prompt or messages, not both")

	// ErrAborted is the cause attached to a turn context cancelled by Abort.
	ErrAborted = &AbortError{Message: "turn aborted"}
)

// AbortError marks a cooperative cancellation.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string { return e.Message }

// Name returns the error name used in serialized form.
func (e *AbortError) Name() string { return "AbortError" }

// SerializedError is the {name, message} form of an error carried by events.
type SerializedError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e SerializedError) Error() string {
	return e.Name + ": " + e.Message
}

type namedError interface {
	Name() string
}

// SerializeError normalizes err into its serialized form.
func SerializeError(err error) SerializedError {
	if err == nil {
		return SerializedError{Name: "Error", Message: "Unknown error"}
	}

	var se SerializedError
	if errors.As(err, &se) {
		return se
	}

	name := "Error"
	var named namedError
	if errors.As(err, &named) && named.Name() != "" {
		name = named.Name()
	} else if errors.Is(err, context.Canceled) {
		name = "AbortError"
	}
	return SerializedError{Name: name, Message: err.Error()}
}

// IsAbortError reports whether err signals cancellation rather than failure.
func IsAbortError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var named namedError
	if errors.As(err, &named) && named.Name() == "AbortError" {
		return true
	}
	var se SerializedError
	if errors.As(err, &se) && se.Name == "AbortError" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "abort")
}
