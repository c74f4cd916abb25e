package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/pkg/types"
)

func newRepo(t *testing.T) (*FsRepository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := NewFsRepository(dir, logging.Nop())
	require.NoError(t, err)
	return repo, dir
}

func sampleState(id string, updatedAt int64) types.SessionState {
	return types.SessionState{
		Version:   types.SessionStateVersion,
		ID:        id,
		CWD:       "/work",
		CreatedAt: 1000,
		UpdatedAt: updatedAt,
		Provider:  types.ProviderAnthropic,
		Model:     "claude-3-5-sonnet-latest",
		Messages: []types.Message{
			types.UserMessage("hello"),
			{
				Role:    types.RoleAssistant,
				Content: "reading",
				ToolCalls: []types.ToolCall{
					{ID: "c1", Name: "read", Input: json.RawMessage(`{"filePath":"a.txt"}`)},
				},
			},
			{
				Role: types.RoleTool,
				ToolResults: []types.ToolResult{
					{CallID: "c1", Name: "read", Output: types.ToolOutput{OK: true, OutputMessage: "1: a"}},
				},
			},
			types.AssistantMessage("hi"),
		},
		Metadata:    map[string]any{"label": "demo"},
		UsageTotals: &types.Usage{InputTokens: types.Int64(10), OutputTokens: types.Int64(4), TotalTokens: types.Int64(14)},
		Artifacts: []types.ArtifactReference{
			{ID: "a1", SessionID: id, Kind: types.ArtifactText, RelativePath: id + "/artifacts/a1.txt", ByteLength: 12, CreatedAt: 1500},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	repo, dir := newRepo(t)
	ctx := context.Background()
	state := sampleState("s1", 2000)

	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, state.Messages[1].ToolCalls[0].Name, loaded.Messages[1].ToolCalls[0].Name)
	assert.JSONEq(t, string(state.Messages[1].ToolCalls[0].Input), string(loaded.Messages[1].ToolCalls[0].Input))
	assert.Equal(t, state.Messages[3], loaded.Messages[3])
	assert.Equal(t, state.UsageTotals, loaded.UsageTotals)
	assert.Equal(t, state.Artifacts, loaded.Artifacts)
	assert.Equal(t, "demo", loaded.Metadata["label"])

	data, err := os.ReadFile(filepath.Join(dir, "s1", SessionFileName))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "}\n"))

	entries, err := os.ReadDir(filepath.Join(dir, "s1"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestSaveNilMessagesLoadsEmpty(t *testing.T) {
	repo, _ := newRepo(t)
	state := sampleState("s1", 2000)
	state.Messages = nil

	require.NoError(t, repo.Save(context.Background(), state))
	loaded, err := repo.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotNil(t, loaded.Messages)
	assert.Empty(t, loaded.Messages)
}

func TestLoadNotFound(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := repo.Load(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.EqualError(t, err, "Session 'missing' not found")
}

func TestLoadInvalidJSON(t *testing.T) {
	repo, dir := newRepo(t)
	path := filepath.Join(dir, "bad", SessionFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := repo.Load(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidJSON))
	assert.Equal(t, "Session 'bad' contains invalid JSON at '"+path+"'", err.Error())
}

func TestLoadSchemaViolation(t *testing.T) {
	repo, dir := newRepo(t)
	path := filepath.Join(dir, "old", SessionFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{"version":2,"id":"old"}`), 0644))

	_, err := repo.Load(context.Background(), "old")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
	assert.True(t, strings.HasPrefix(err.Error(), "Session 'old' failed schema validation: "), err.Error())
}

func TestSaveRejectsInvalidState(t *testing.T) {
	repo, dir := newRepo(t)
	state := sampleState("s1", 2000)
	state.Model = "   "

	err := repo.Save(context.Background(), state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))

	_, statErr := os.Stat(filepath.Join(dir, "s1", SessionFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateRejectsExisting(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleState("s1", 2000)))
	err := repo.Create(ctx, sampleState("s1", 3000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExists))
	assert.EqualError(t, err, "Session 's1' already exists")

	exists, err := repo.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.Create(ctx, sampleState("s1", int64(2000+i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrExists)
	}
	assert.Equal(t, 1, created)

	_, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
}

func TestListSortsByUpdatedAtDescending(t *testing.T) {
	repo, dir := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleState("old", 1000)))
	require.NoError(t, repo.Save(ctx, sampleState("new", 3000)))
	require.NoError(t, repo.Save(ctx, sampleState("mid", 2000)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755))

	summaries, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, "new", summaries[0].ID)
	assert.Equal(t, "mid", summaries[1].ID)
	assert.Equal(t, "old", summaries[2].ID)
	assert.Equal(t, types.ProviderAnthropic, summaries[0].Provider)
}

func TestListMissingRoot(t *testing.T) {
	repo, err := NewFsRepository(filepath.Join(t.TempDir(), "nope"), logging.Nop())
	require.NoError(t, err)

	summaries, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestDelete(t *testing.T) {
	repo, dir := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleState("s1", 2000)))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "s1", "artifacts"), 0755))

	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err := os.Stat(filepath.Join(dir, "s1"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, repo.Delete(ctx, "s1"))
}

func TestDeleteWaitsForSessionLock(t *testing.T) {
	repo, dir := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleState("s1", 2000)))

	unlock, err := repo.lockSession("s1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- repo.Delete(ctx, "s1") }()

	select {
	case <-done:
		t.Fatal("delete finished while the session was locked")
	case <-time.After(50 * time.Millisecond):
	}
	_, err = os.Stat(filepath.Join(dir, "s1", SessionFileName))
	require.NoError(t, err)

	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not finish")
	}
	_, err = os.Stat(filepath.Join(dir, "s1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRejectsBadIDs(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.Error(t, repo.Delete(ctx, "../escape"))
	_, err = repo.Exists(ctx, "a/b")
	assert.Error(t, err)
}

func TestConcurrentSaves(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Save(ctx, sampleState("s1", int64(1000+i))))
		}(i)
	}
	wg.Wait()

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, loaded.UpdatedAt, int64(1000))
}

func TestFileLockSerializes(t *testing.T) {
	lock := NewFileLock(filepath.Join(t.TempDir(), "x.lock"))
	require.NoError(t, lock.Lock())

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, lock.Lock())
		close(acquired)
		lock.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	default:
	}
	require.NoError(t, lock.Unlock())
	<-acquired
}
