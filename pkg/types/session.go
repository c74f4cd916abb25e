// Package types provides the data types shared across minicode packages.
package types

// SessionStateVersion is the only persisted state version.
const SessionStateVersion = 1

// SessionState is the persisted aggregate of one session.
type SessionState struct {
	Version     int                 `json:"version"`
	ID          string              `json:"id"`
	CWD         string              `json:"cwd"`
	CreatedAt   int64               `json:"createdAt"`
	UpdatedAt   int64               `json:"updatedAt"`
	Provider    ProviderID          `json:"provider"`
	Model       string              `json:"model"`
	Messages    []Message           `json:"messages"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	UsageTotals *Usage              `json:"usageTotals,omitempty"`
	Artifacts   []ArtifactReference `json:"artifacts,omitempty"`
}

// Clone returns a deep copy of s.
func (s SessionState) Clone() SessionState {
	out := s
	out.Messages = CloneMessages(s.Messages)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	out.Metadata = cloneMap(s.Metadata)
	if s.UsageTotals != nil {
		u := s.UsageTotals.Clone()
		out.UsageTotals = &u
	}
	if s.Artifacts != nil {
		out.Artifacts = append([]ArtifactReference(nil), s.Artifacts...)
	}
	return out
}

// Summary returns the listing view of s.
func (s SessionState) Summary() SessionSummary {
	return SessionSummary{
		ID:        s.ID,
		CWD:       s.CWD,
		Provider:  s.Provider,
		Model:     s.Model,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID        string     `json:"id"`
	CWD       string     `json:"cwd"`
	Provider  ProviderID `json:"provider"`
	Model     string     `json:"model"`
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
}
