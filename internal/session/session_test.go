package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/runner/runnertest"
	"github.com/opencode-ai/minicode/internal/session"
	"github.com/opencode-ai/minicode/pkg/types"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func initialState() types.SessionState {
	return types.SessionState{
		Version:   types.SessionStateVersion,
		ID:        "s1",
		CWD:       "/work",
		CreatedAt: 100,
		UpdatedAt: 100,
		Provider:  types.ProviderAnthropic,
		Model:     "claude-3-5-sonnet-latest",
		Messages:  []types.Message{},
	}
}

func usage(in, out int64) types.Usage {
	return types.Usage{InputTokens: types.Int64(in), OutputTokens: types.Int64(out), TotalTokens: types.Int64(in + out)}
}

// clock returns increasing millisecond timestamps starting after 100.
func clock() func() int64 {
	var n atomic.Int64
	n.Store(100)
	return func() int64 { return n.Add(10) }
}

type snapshots struct {
	mu     sync.Mutex
	states []types.SessionState
}

func (s *snapshots) record(_ context.Context, state types.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	return nil
}

func (s *snapshots) all() []types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SessionState(nil), s.states...)
}

func newSession(t *testing.T, model runner.Model, mutate func(*session.Options)) (*session.Session, *snapshots) {
	t.Helper()
	agent, err := runner.NewAgent(runner.AgentOptions{Model: model, Logger: logging.Nop()})
	require.NoError(t, err)

	snaps := &snapshots{}
	opts := session.Options{
		State:      initialState(),
		RunTurn:    agent.RunTurn,
		Now:        clock(),
		OnSnapshot: snaps.record,
		Logger:     logging.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := session.New(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, snaps
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := session.New(session.Options{State: initialState()})
	require.Error(t, err)
}

func TestNewRejectsInvalidState(t *testing.T) {
	state := initialState()
	state.ID = "  "
	_, err := session.New(session.Options{
		State:   state,
		RunTurn: func(context.Context, runner.TurnRequest, []types.Message) (*runner.Turn, error) { return nil, nil },
	})
	require.ErrorIs(t, err, session.ErrInvalidState)
}

func TestHelloHi(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := testCtx(t)

	model := runnertest.NewModel(runnertest.Reply("hi", usage(3, 2)))
	s, snaps := newSession(t, model, nil)

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventTextDelta, runner.EventStepFinish, runner.EventFinish}, runnertest.EventTypes(events))

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)

	state := s.Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, types.UserMessage("hello"), state.Messages[0])
	assert.Equal(t, types.AssistantMessage("hi"), state.Messages[1])
	require.NotNil(t, state.UsageTotals)
	assert.Equal(t, int64(5), *state.UsageTotals.TotalTokens)
	assert.Equal(t, int64(110), state.UpdatedAt)

	require.Len(t, snaps.all(), 1)
	assert.Equal(t, state, snaps.all()[0])
	s.Close()
}

func TestPartialAbortAppendsMarker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := testCtx(t)

	model := runnertest.NewModel(runnertest.Script{
		Parts:      []runner.Part{{Type: runner.PartTextDelta, Text: "partial"}},
		HoldOpen:   true,
		SummaryErr: errors.New("no summary after abort"),
	})
	s, _ := newSession(t, model, nil)

	turn, err := s.Send(ctx, "go")
	require.NoError(t, err)

	first, ok, err := turn.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "partial", first.Text)

	turn.Abort()
	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, runner.FinishAbort, resp.FinishReason)

	state := s.Snapshot()
	require.Len(t, state.Messages, 3)
	assert.Equal(t, types.UserMessage("go"), state.Messages[0])
	assert.Equal(t, types.AssistantMessage("partial"), state.Messages[1])
	assert.Equal(t, types.UserMessage(session.DefaultInterruptionMarker), state.Messages[2])
	s.Close()
}

func TestAbortWithCustomMarkerAndNoText(t *testing.T) {
	ctx := testCtx(t)
	gate := make(chan struct{})
	model := runnertest.NewModel(runnertest.Script{Gate: gate})
	s, _ := newSession(t, model, func(o *session.Options) { o.InterruptionMarker = "[stopped]" })

	turn, err := s.Send(ctx, "go")
	require.NoError(t, err)
	turn.Abort()

	_, err = turn.Response(ctx)
	require.NoError(t, err)

	state := s.Snapshot()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, types.UserMessage("[stopped]"), state.Messages[1])
}

func TestTwoSendsShareTranscript(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := testCtx(t)

	model := runnertest.NewModel(
		runnertest.Reply("first", usage(1, 1)),
		runnertest.Reply("second", usage(2, 2)),
	)
	s, snaps := newSession(t, model, nil)

	for _, prompt := range []string{"one", "two"} {
		turn, err := s.Send(ctx, prompt)
		require.NoError(t, err)
		_, err = turn.Response(ctx)
		require.NoError(t, err)
	}

	requests := model.Requests()
	require.Len(t, requests, 2)
	assert.Len(t, requests[0].Messages, 1)
	assert.Len(t, requests[1].Messages, 3)

	state := s.Snapshot()
	assert.Len(t, state.Messages, 4)
	assert.Equal(t, int64(6), *state.UsageTotals.TotalTokens)
	require.Len(t, snaps.all(), 2)
	assert.Less(t, snaps.all()[0].UpdatedAt, snaps.all()[1].UpdatedAt)
	s.Close()
}

func TestOutOfOrderTurnsCommitSerially(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := testCtx(t)

	const n = 5
	gates := make([]chan struct{}, n)
	scripts := make([]runnertest.Script, n)
	for i := range n {
		gates[i] = make(chan struct{})
		reply := runnertest.Reply("ok", usage(1, 1))
		reply.Gate = gates[i]
		scripts[i] = reply
	}
	model := runnertest.NewModel(scripts...)
	s, snaps := newSession(t, model, nil)

	turns := make([]*runner.Turn, n)
	for i := range n {
		turn, err := s.Send(ctx, "p")
		require.NoError(t, err)
		turns[i] = turn
	}
	require.Eventually(t, func() bool { return model.Calls() == n }, time.Second, 5*time.Millisecond)

	for i := n - 1; i >= 0; i-- {
		close(gates[i])
		time.Sleep(2 * time.Millisecond)
	}
	for _, turn := range turns {
		_, err := turn.Response(ctx)
		require.NoError(t, err)
	}

	state := s.Snapshot()
	assert.Len(t, state.Messages, 2*n)
	assert.Equal(t, int64(2*n), *state.UsageTotals.TotalTokens)

	all := snaps.all()
	require.Len(t, all, n)
	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, all[i].UpdatedAt, all[i-1].UpdatedAt)
		assert.Len(t, all[i].Messages, 2*(i+1))
	}
	s.Close()
}

func TestModelFailureSkipsCommit(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{OpenErr: runnertest.ErrBoom})
	s, snaps := newSession(t, model, nil)

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.ErrorIs(t, err, runnertest.ErrBoom)

	assert.Empty(t, s.Snapshot().Messages)
	assert.Empty(t, snaps.all())
}

func TestApplyResponseValidationFailure(t *testing.T) {
	ctx := testCtx(t)
	calls := 0
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, snaps := newSession(t, model, func(o *session.Options) {
		o.ApplyResponse = func(_ context.Context, in session.CommitInput) (types.SessionState, error) {
			calls++
			next := in.Next
			next.ID = ""
			return next, nil
		}
	})

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.ErrorIs(t, err, session.ErrInvalidState)

	assert.Equal(t, 1, calls)
	assert.Empty(t, s.Snapshot().Messages)
	assert.Empty(t, snaps.all())
}

func TestApplyResponseSeesCommitInput(t *testing.T) {
	ctx := testCtx(t)
	var got session.CommitInput
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, _ := newSession(t, model, func(o *session.Options) {
		o.ApplyResponse = func(_ context.Context, in session.CommitInput) (types.SessionState, error) {
			got = in
			next := in.Next
			next.Metadata = map[string]any{"tagged": true}
			return next, nil
		}
	})

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	assert.Empty(t, got.Previous.Messages)
	assert.Len(t, got.Next.Messages, 2)
	assert.Equal(t, []types.Message{types.UserMessage("hello")}, got.RequestMessages)
	assert.Equal(t, "hi", got.Response.Text)
	assert.Equal(t, true, s.Snapshot().Metadata["tagged"])
}

func TestSnapshotHookFailurePropagates(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, _ := newSession(t, model, func(o *session.Options) {
		o.OnSnapshot = func(context.Context, types.SessionState) error { return runnertest.ErrBoom }
	})

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.ErrorIs(t, err, runnertest.ErrBoom)
}

func TestUpdatedAtNeverDecreases(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, _ := newSession(t, model, func(o *session.Options) {
		o.State.UpdatedAt = 5000
		o.Now = func() int64 { return 10 }
	})

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), s.Snapshot().UpdatedAt)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, _ := newSession(t, model, nil)

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Messages[0].Content = "mutated"
	*snap.UsageTotals.TotalTokens = 999

	fresh := s.Snapshot()
	assert.Equal(t, "hello", fresh.Messages[0].Content)
	assert.Equal(t, int64(2), *fresh.UsageTotals.TotalTokens)
}

func TestCommitAfterCloseFails(t *testing.T) {
	ctx := testCtx(t)
	gate := make(chan struct{})
	reply := runnertest.Reply("late", usage(1, 1))
	reply.Gate = gate
	model := runnertest.NewModel(reply)
	s, _ := newSession(t, model, nil)

	turn, err := s.Send(ctx, "hello")
	require.NoError(t, err)
	s.Close()
	close(gate)

	_, err = turn.Response(ctx)
	require.ErrorIs(t, err, session.ErrClosed)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestEmptyPromptRejected(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("hi", usage(1, 1)))
	s, _ := newSession(t, model, nil)

	_, err := s.Turn(ctx, runner.TurnRequest{})
	require.Error(t, err)
	assert.Equal(t, 0, model.Calls())
}

func TestUsageTotalsStayAbsentWithoutUsage(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("one", types.Usage{}), runnertest.Reply("two", types.Usage{}))
	s, snaps := newSession(t, model, nil)

	for _, prompt := range []string{"a", "b"} {
		turn, err := s.Send(ctx, prompt)
		require.NoError(t, err)
		_, err = turn.Response(ctx)
		require.NoError(t, err)
	}

	assert.Nil(t, s.Snapshot().UsageTotals)
	for _, state := range snaps.all() {
		assert.Nil(t, state.UsageTotals)
	}
}

func TestAbortRecordsZeroUsage(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{HoldOpen: true, SummaryErr: errors.New("gone")})
	s, _ := newSession(t, model, nil)

	turn, err := s.Send(ctx, "go")
	require.NoError(t, err)
	turn.Abort()
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	totals := s.Snapshot().UsageTotals
	require.NotNil(t, totals)
	assert.Equal(t, types.ZeroUsage(), *totals)
}
