package plugin

import (
	"errors"
	"fmt"
)

// Load stages.
const (
	StageNormalize = "normalize"
	StageImport    = "import"
	StageFactory   = "factory"
	StageValidate  = "validate"
	StageCompose   = "compose"
	StageSetup     = "setup"
)

// Compose conflict kinds.
const (
	ConflictTool   = "tool conflict"
	ConflictAction = "action conflict"
)

var (
	// ErrLoad matches every LoadError.
	ErrLoad = errors.New("plugin load failed")

	// ErrCompose matches every ComposeError.
	ErrCompose = errors.New("plugin compose failed")

	// ErrEmptyReference is returned for blank plugin references.
	ErrEmptyReference = errors.New("Plugin reference cannot be empty")
)

// LoadError reports a plugin that failed at one load stage.
type LoadError struct {
	Stage     string
	Reference string
	Message   string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("Plugin load failed [%s] %s: %s", e.Stage, e.Reference, e.Message)
}

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

func loadError(reference, stage, message string) *LoadError {
	return &LoadError{Stage: stage, Reference: reference, Message: message}
}

func loadErrorf(reference, stage, format string, args ...any) *LoadError {
	return loadError(reference, stage, fmt.Sprintf(format, args...))
}

// ComposeError reports a name conflict between contributions.
type ComposeError struct {
	Kind      string
	Reference string
	Message   string
}

func (e *ComposeError) Error() string {
	if e.Reference == "" {
		return fmt.Sprintf("Plugin compose failed [%s]: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("Plugin compose failed [%s] %s: %s", e.Kind, e.Reference, e.Message)
}

func (e *ComposeError) Is(target error) bool { return target == ErrCompose }
