package types

// ArtifactKind distinguishes text artifacts from raw byte artifacts.
type ArtifactKind string

const (
	ArtifactText  ArtifactKind = "text"
	ArtifactBytes ArtifactKind = "bytes"
)

// ArtifactReference points at a durably stored artifact. It is immutable once
// created.
type ArtifactReference struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	Kind         ArtifactKind `json:"kind"`
	RelativePath string       `json:"relativePath"`
	ByteLength   int64        `json:"byteLength"`
	CreatedAt    int64        `json:"createdAt"`
}

// Valid reports whether every required field is populated.
func (a ArtifactReference) Valid() bool {
	if a.ID == "" || a.SessionID == "" || a.RelativePath == "" {
		return false
	}
	if a.Kind != ArtifactText && a.Kind != ArtifactBytes {
		return false
	}
	return a.ByteLength >= 0 && a.CreatedAt >= 0
}
