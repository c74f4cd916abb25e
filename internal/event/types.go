package event

import (
	"github.com/opencode-ai/minicode/pkg/types"
)

// EventType represents the type of event.
type EventType string

const (
	SessionCreated EventType = "session.created"
	SessionUpdated EventType = "session.updated"
	SessionDeleted EventType = "session.deleted"
	TurnFinished   EventType = "turn.finished"
	ArtifactStored EventType = "artifact.stored"
)

// SessionData is the payload of session.created and session.updated.
type SessionData struct {
	Info         types.SessionSummary `json:"info"`
	MessageCount int                  `json:"messageCount"`
}

// SessionDeletedData is the payload of session.deleted.
type SessionDeletedData struct {
	SessionID string `json:"sessionID"`
}

// TurnFinishedData is the payload of turn.finished.
type TurnFinishedData struct {
	SessionID    string      `json:"sessionID"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        types.Usage `json:"usage"`
	Error        string      `json:"error,omitempty"`
}

// ArtifactStoredData is the payload of artifact.stored.
type ArtifactStoredData struct {
	Artifact types.ArtifactReference `json:"artifact"`
}
