// Package storage persists session state as one JSON document per session
// directory.
package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/validate"
	"github.com/opencode-ai/minicode/pkg/types"
)

// SessionFileName is the state document inside a session directory.
const SessionFileName = "session.json"

const lockFileName = ".session.lock"

//go:embed session.schema.json
var sessionSchema []byte

// Repository is the session persistence boundary.
type Repository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Load(ctx context.Context, id string) (types.SessionState, error)
	Save(ctx context.Context, state types.SessionState) error
	Create(ctx context.Context, initial types.SessionState) error
	List(ctx context.Context) ([]types.SessionSummary, error)
	Delete(ctx context.Context, id string) error
}

// FsRepository stores sessions at <sessionsDir>/<id>/session.json.
type FsRepository struct {
	sessionsDir string
	locks       lockSet
	logger      zerolog.Logger
}

// NewFsRepository creates a repository rooted at sessionsDir.
func NewFsRepository(sessionsDir string, logger zerolog.Logger) (*FsRepository, error) {
	abs, err := filepath.Abs(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sessions dir: %w", err)
	}
	return &FsRepository{sessionsDir: abs, logger: logger}, nil
}

// SessionsDir returns the absolute root directory.
func (r *FsRepository) SessionsDir() string {
	return r.sessionsDir
}

// SessionDir returns the directory of session id.
func (r *FsRepository) SessionDir(id string) string {
	return filepath.Join(r.sessionsDir, id)
}

func (r *FsRepository) sessionFile(id string) string {
	return filepath.Join(r.SessionDir(id), SessionFileName)
}

// Exists reports whether session id has a state document.
func (r *FsRepository) Exists(ctx context.Context, id string) (bool, error) {
	if err := CheckID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(r.sessionFile(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat session: %w", err)
	}
	return true, nil
}

// Load reads and validates session id.
func (r *FsRepository) Load(ctx context.Context, id string) (types.SessionState, error) {
	if err := CheckID(id); err != nil {
		return types.SessionState{}, err
	}
	path := r.sessionFile(id)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.SessionState{}, &SessionError{Kind: ErrNotFound, ID: id, Path: path}
	}
	if err != nil {
		return types.SessionState{}, fmt.Errorf("read session: %w", err)
	}

	if !json.Valid(data) {
		return types.SessionState{}, &SessionError{Kind: ErrInvalidJSON, ID: id, Path: path}
	}
	if err := validate.Raw("session.schema.json", sessionSchema, data); err != nil {
		return types.SessionState{}, &SessionError{Kind: ErrSchema, ID: id, Path: path, Detail: err.Error()}
	}

	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return types.SessionState{}, &SessionError{Kind: ErrSchema, ID: id, Path: path, Detail: err.Error()}
	}
	if state.Messages == nil {
		state.Messages = []types.Message{}
	}
	return state, nil
}

// Save validates state and writes it atomically.
func (r *FsRepository) Save(ctx context.Context, state types.SessionState) error {
	if err := CheckID(state.ID); err != nil {
		return err
	}
	if state.Messages == nil {
		state.Messages = []types.Message{}
	}
	if err := Validate(state); err != nil {
		return err
	}

	unlock, err := r.lockSession(state.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.writeAtomic(state); err != nil {
		return err
	}

	r.logger.Debug().
		Str("session", state.ID).
		Int("messages", len(state.Messages)).
		Int64("updatedAt", state.UpdatedAt).
		Msg("session saved")
	return nil
}

// Create saves initial, failing with ErrExists if the session is present.
// The existence check and the write happen under the session lock.
func (r *FsRepository) Create(ctx context.Context, initial types.SessionState) error {
	if err := CheckID(initial.ID); err != nil {
		return err
	}
	if initial.Messages == nil {
		initial.Messages = []types.Message{}
	}
	if err := Validate(initial); err != nil {
		return err
	}

	unlock, err := r.lockSession(initial.ID)
	if err != nil {
		return err
	}
	defer unlock()

	path := r.sessionFile(initial.ID)
	if _, err := os.Stat(path); err == nil {
		return &SessionError{Kind: ErrExists, ID: initial.ID, Path: path}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat session: %w", err)
	}

	if err := r.writeAtomic(initial); err != nil {
		return err
	}
	r.logger.Debug().Str("session", initial.ID).Msg("session created")
	return nil
}

// List returns summaries of all sessions, most recently updated first.
// Directories without a state document are skipped.
func (r *FsRepository) List(ctx context.Context) ([]types.SessionSummary, error) {
	entries, err := os.ReadDir(r.sessionsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []types.SessionSummary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	summaries := make([]types.SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state, err := r.Load(ctx, entry.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, state.Summary())
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt > summaries[j].UpdatedAt
	})
	return summaries, nil
}

// Delete removes the session directory, artifacts included. Deleting a
// missing session is not an error.
func (r *FsRepository) Delete(ctx context.Context, id string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	dir := r.SessionDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	unlock, err := r.lockSession(id)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		unlock()
		return fmt.Errorf("delete session: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			unlock()
			return fmt.Errorf("delete session: %w", err)
		}
	}
	unlock()

	// both stay when a writer recreated the session after unlock
	os.Remove(filepath.Join(dir, lockFileName))
	os.Remove(dir)

	r.logger.Debug().Str("session", id).Msg("session deleted")
	return nil
}

// lockSession creates the session directory and takes its lock.
func (r *FsRepository) lockSession(id string) (func(), error) {
	dir := r.SessionDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	lock := r.locks.get(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return func() { lock.Unlock() }, nil
}

func (r *FsRepository) writeAtomic(state types.SessionState) error {
	dir := r.SessionDir(state.ID)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	data = append(data, '\n')

	tmpPath := filepath.Join(dir, fmt.Sprintf(".session.%s.tmp", uuid.Must(uuid.NewV7()).String()))
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, r.sessionFile(state.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Validate checks state against the session document schema.
func Validate(state types.SessionState) error {
	if state.Messages == nil {
		state.Messages = []types.Message{}
	}
	if err := validate.Value("session.schema.json", sessionSchema, state); err != nil {
		return &SessionError{Kind: ErrSchema, ID: state.ID, Detail: err.Error()}
	}
	return nil
}

// CheckID rejects ids that are blank or would escape the sessions directory.
func CheckID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid session id '%s'", id)
	}
	return nil
}
