package tool

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/opencode-ai/minicode/internal/artifact"
	"github.com/opencode-ai/minicode/pkg/types"
)

// TruncationMarker is appended to truncated text.
const TruncationMarker = "\n...[truncated]"

// TruncateByBytes returns text unchanged when it fits in maxBytes.
// Otherwise it cuts at maxBytes, backing off so no encoded rune is split,
// and appends TruncationMarker. Invalid UTF-8 bytes are kept as they are.
func TruncateByBytes(text string, maxBytes int) (string, bool) {
	if len(text) <= maxBytes {
		return text, false
	}
	cut := max(maxBytes, 0)
	start := cut
	for start > 0 && cut-start < utf8.UTFMax-1 && !utf8.RuneStart(text[start]) {
		start--
	}
	if _, size := utf8.DecodeRuneInString(text[start:]); start+size > cut {
		cut = start
	}
	return text[:cut] + TruncationMarker, true
}

// Truncation is the result of Truncator.Apply.
type Truncation struct {
	Text        string
	Truncated   bool
	Artifact    *types.ArtifactReference
	ArtifactErr error
}

// Meta records the truncation outcome into meta, creating it when nil.
func (t Truncation) Meta(meta map[string]any) map[string]any {
	if meta == nil {
		meta = make(map[string]any)
	}
	meta["truncated"] = t.Truncated
	if t.Artifact != nil {
		meta["artifact"] = *t.Artifact
	}
	if t.ArtifactErr != nil {
		meta["artifactError"] = t.ArtifactErr.Error()
	}
	return meta
}

// Truncator applies the byte budget and offloads the full text when a
// store and session are available.
type Truncator struct {
	Store     ArtifactWriter
	SessionID string
}

// Apply truncates text to maxBytes. A failed artifact write is reported in
// ArtifactErr and the truncated text is still returned.
func (t Truncator) Apply(ctx context.Context, text string, maxBytes int, label string) Truncation {
	truncated, ok := TruncateByBytes(text, maxBytes)
	result := Truncation{Text: truncated, Truncated: ok}
	if !ok || t.Store == nil || t.SessionID == "" {
		return result
	}

	ref, err := t.Store.WriteText(ctx, artifact.TextInput{
		SessionID: t.SessionID,
		Text:      text,
		Label:     label,
	})
	if err != nil {
		result.ArtifactErr = err
		return result
	}

	result.Artifact = &ref
	result.Text = fmt.Sprintf("%s\n[full output stored as artifact %s]", truncated, ref.ID)
	return result
}
