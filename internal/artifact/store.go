// Package artifact stores tool output overflow and other blobs under the
// session directory tree.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/minicode/internal/storage"
	"github.com/opencode-ai/minicode/pkg/types"
)

// DirName is the per-session artifacts directory name.
const DirName = "artifacts"

// TextInput describes a text artifact. Extension defaults to "txt".
type TextInput struct {
	SessionID string
	Text      string
	Label     string
	Extension string
}

// BytesInput describes a binary artifact.
type BytesInput struct {
	SessionID string
	Bytes     []byte
	Label     string
	Extension string
}

// Store writes artifacts.
type Store interface {
	WriteText(ctx context.Context, in TextInput) (types.ArtifactReference, error)
	WriteBytes(ctx context.Context, in BytesInput) (types.ArtifactReference, error)
}

// Options configures an FsStore.
type Options struct {
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
	// OnWrite is called after every successful write.
	OnWrite func(types.ArtifactReference)
}

// FsStore keeps artifacts at <sessionsDir>/<sessionID>/artifacts/<label>-<id><ext>.
type FsStore struct {
	sessionsDir string
	now         func() time.Time
	onWrite     func(types.ArtifactReference)
}

// NewFsStore creates a store rooted at sessionsDir.
func NewFsStore(sessionsDir string, opts Options) (*FsStore, error) {
	abs, err := filepath.Abs(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sessions dir: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &FsStore{sessionsDir: abs, now: now, onWrite: opts.OnWrite}, nil
}

// WriteText stores text as a text artifact.
func (s *FsStore) WriteText(ctx context.Context, in TextInput) (types.ArtifactReference, error) {
	ext := in.Extension
	if ext == "" {
		ext = "txt"
	}
	return s.write(ctx, types.ArtifactText, in.SessionID, []byte(in.Text), in.Label, ext)
}

// WriteBytes stores raw bytes.
func (s *FsStore) WriteBytes(ctx context.Context, in BytesInput) (types.ArtifactReference, error) {
	return s.write(ctx, types.ArtifactBytes, in.SessionID, in.Bytes, in.Label, in.Extension)
}

// Path returns the absolute path of ref.
func (s *FsStore) Path(ref types.ArtifactReference) string {
	return filepath.Join(s.sessionsDir, ref.RelativePath)
}

func (s *FsStore) write(ctx context.Context, kind types.ArtifactKind, sessionID string, data []byte, label, ext string) (types.ArtifactReference, error) {
	if err := ctx.Err(); err != nil {
		return types.ArtifactReference{}, err
	}

	sessionID = strings.TrimSpace(sessionID)
	if err := storage.CheckID(sessionID); err != nil {
		return types.ArtifactReference{}, fmt.Errorf("artifact: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return types.ArtifactReference{}, fmt.Errorf("generate artifact id: %w", err)
	}

	fileName := id.String() + NormalizeExtension(ext)
	if safe := SanitizeLabel(label); safe != "" {
		fileName = safe + "-" + fileName
	}

	relativePath := filepath.Join(sessionID, DirName, fileName)
	absolutePath := filepath.Join(s.sessionsDir, relativePath)

	if err := writeFileAtomic(absolutePath, data); err != nil {
		return types.ArtifactReference{}, err
	}

	ref := types.ArtifactReference{
		ID:           id.String(),
		SessionID:    sessionID,
		Kind:         kind,
		RelativePath: relativePath,
		ByteLength:   int64(len(data)),
		CreatedAt:    s.now().UnixMilli(),
	}
	if s.onWrite != nil {
		s.onWrite(ref)
	}
	return ref, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact.*.tmp")
	if err != nil {
		return fmt.Errorf("create artifact temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

var unsafeLabelChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// SanitizeLabel lowercases label, collapses unsafe runs to '-' and trims
// leading and trailing dashes.
func SanitizeLabel(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(label))
	if cleaned == "" {
		return ""
	}
	cleaned = unsafeLabelChars.ReplaceAllString(cleaned, "-")
	return strings.Trim(cleaned, "-")
}

// NormalizeExtension returns ".ext" for a sanitized extension, or "".
func NormalizeExtension(ext string) string {
	cleaned := SanitizeLabel(strings.TrimPrefix(ext, "."))
	if cleaned == "" {
		return ""
	}
	return "." + cleaned
}
