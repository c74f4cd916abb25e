package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/minicode/internal/config"
	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/runner/runnertest"
	"github.com/opencode-ai/minicode/internal/session"
	"github.com/opencode-ai/minicode/pkg/types"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func usage() types.Usage {
	return types.Usage{InputTokens: types.Int64(1), OutputTokens: types.Int64(1), TotalTokens: types.Int64(2)}
}

func newService(t *testing.T, model *runnertest.Model) *session.Service {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.SessionsDir = filepath.Join(t.TempDir(), "sessions")

	var ids, clock atomic.Int64
	clock.Store(1000)
	svc, err := session.NewService(context.Background(), session.ServiceOptions{
		Config: cfg,
		CWD:    t.TempDir(),
		Models: func(context.Context, *config.Config, types.RuntimeSelection) (runner.Model, error) {
			return model, nil
		},
		Now:    func() int64 { return clock.Add(1) },
		NewID:  func() string { return fmt.Sprintf("run-%d", ids.Add(1)) },
		Logger: logging.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

type harness struct {
	app  *App
	svc  *session.Service
	out  *lockedBuffer
	in   *io.PipeWriter
	done chan error
}

func start(t *testing.T, model *runnertest.Model) *harness {
	t.Helper()
	svc := newService(t, model)
	handle, err := svc.Open(context.Background(), session.OpenOptions{})
	require.NoError(t, err)

	reader, writer := io.Pipe()
	out := &lockedBuffer{}
	app, err := New(Options{Service: svc, Session: handle, In: reader, Out: out, NoColor: true, Logger: logging.Nop()})
	require.NoError(t, err)

	h := &harness{app: app, svc: svc, out: out, in: writer, done: make(chan error, 1)}
	go func() { h.done <- app.Run(context.Background()) }()
	t.Cleanup(func() { writer.Close() })
	return h
}

func (h *harness) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.in, line+"\n")
	require.NoError(t, err)
}

func (h *harness) finish(t *testing.T) {
	t.Helper()
	h.in.Close()
	h.wait(t)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not stop")
	}
}

func (h *harness) waitFor(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(h.out.String(), text) }, 5*time.Second, 5*time.Millisecond,
		"output never contained %q:\n%s", text, h.out.String())
}

func TestPromptRunsTurn(t *testing.T) {
	h := start(t, runnertest.NewModel(runnertest.Reply("hi there", usage())))

	h.send(t, "hello")
	h.waitFor(t, "[done]")
	h.finish(t)

	out := h.out.String()
	assert.True(t, strings.HasPrefix(out, "[session] run-1 (anthropic/claude-3-5-sonnet-latest)\nType a prompt or /help.\n"))
	assert.Contains(t, out, "\n> hello\nhi there\n")

	reopened, err := h.svc.Open(context.Background(), session.OpenOptions{ID: "run-1"})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Len(t, reopened.Snapshot().Messages, 2)
}

func TestBlankLinesAreIgnored(t *testing.T) {
	model := runnertest.NewModel(runnertest.Reply("x", usage()))
	h := start(t, model)

	h.send(t, "   ")
	h.send(t, "")
	h.finish(t)

	assert.Equal(t, 0, model.Calls())
}

func TestPromptsQueueWhileTurnRuns(t *testing.T) {
	gate := make(chan struct{})
	first := runnertest.Reply("first", usage())
	first.Gate = gate
	model := runnertest.NewModel(first, runnertest.Reply("second", usage()))
	h := start(t, model)

	h.send(t, "one")
	require.Eventually(t, h.app.TurnActive, 5*time.Second, 5*time.Millisecond)
	h.send(t, "two")
	h.waitFor(t, "[queued] position=1 pending=1\n")

	close(gate)
	h.waitFor(t, "[dequeued] pending=0\n")
	h.finish(t)

	assert.Equal(t, 2, model.Calls())
	reqs := model.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)
	assert.Contains(t, h.out.String(), "> two\nsecond\n")
}

func TestSlashCommands(t *testing.T) {
	h := start(t, runnertest.NewModel(runnertest.Reply("x", usage())))

	h.send(t, "/sessions")
	h.waitFor(t, "[sessions]\n- run-1 anthropic/claude-3-5-sonnet-latest updated=")

	h.send(t, "/new --provider openai")
	h.waitFor(t, "[session:new] run-2 (openai/gpt-4o-mini)\n")
	assert.Equal(t, "run-2", h.app.Current().ID)

	h.send(t, "/bogus")
	h.waitFor(t, "[error] Unknown command 'bogus'. Run /help.\n")

	h.send(t, "/use run-1")
	h.waitFor(t, "[session:switched] run-1 (anthropic/claude-3-5-sonnet-latest)\n")
	h.finish(t)
}

func TestBusyCommandDuringTurn(t *testing.T) {
	model := runnertest.NewModel(runnertest.Script{
		Parts:    []runner.Part{{Type: runner.PartTextDelta, Text: "working"}},
		HoldOpen: true,
	})
	h := start(t, model)

	h.send(t, "go")
	require.Eventually(t, h.app.TurnActive, 5*time.Second, 5*time.Millisecond)

	h.send(t, "/new")
	h.waitFor(t, "[busy] '/new' requires idle state\n")

	h.send(t, "/abort")
	h.waitFor(t, "[abort] requested\n")
	h.waitFor(t, "[interrupted by user]\n")
	h.finish(t)
}

func TestInterruptAbortsThenExits(t *testing.T) {
	model := runnertest.NewModel(runnertest.Script{
		Parts:    []runner.Part{{Type: runner.PartTextDelta, Text: "partial"}},
		HoldOpen: true,
	})
	h := start(t, model)

	h.send(t, "go")
	h.waitFor(t, "partial")

	h.app.Interrupt()
	h.waitFor(t, "partial\n[interrupted by user]\n")
	require.Eventually(t, func() bool { return !h.app.TurnActive() }, 5*time.Second, 5*time.Millisecond)

	h.app.Interrupt()
	h.wait(t)
}

func TestExitCommandStops(t *testing.T) {
	h := start(t, runnertest.NewModel(runnertest.Reply("x", usage())))

	h.send(t, "/exit")
	h.wait(t)
}

func TestExitDropsQueue(t *testing.T) {
	model := runnertest.NewModel(runnertest.Script{HoldOpen: true})
	h := start(t, model)

	h.send(t, "one")
	require.Eventually(t, h.app.TurnActive, 5*time.Second, 5*time.Millisecond)
	h.send(t, "two")
	h.waitFor(t, "[queued]")

	h.app.RequestExit()
	h.wait(t)

	assert.Equal(t, 1, model.Calls())
	assert.NotContains(t, h.out.String(), "[dequeued]")
}
