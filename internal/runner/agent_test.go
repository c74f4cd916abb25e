package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/runner/runnertest"
	"github.com/opencode-ai/minicode/pkg/types"
)

func newAgent(t *testing.T, model runner.Model) *runner.Agent {
	t.Helper()
	agent, err := runner.NewAgent(runner.AgentOptions{
		Model:        model,
		Instructions: "Provider: anthropic\nModel: test",
		Logger:       logging.Nop(),
	})
	require.NoError(t, err)
	return agent
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func usage(in, out int64) types.Usage {
	return types.Usage{InputTokens: types.Int64(in), OutputTokens: types.Int64(out), TotalTokens: types.Int64(in + out)}
}

func TestHelloHi(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("hi", usage(3, 1)))
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "hello"}, nil)
	require.NoError(t, err)

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventTextDelta, runner.EventStepFinish, runner.EventFinish}, runnertest.EventTypes(events))
	assert.Equal(t, "hi", events[0].Text)
	assert.Equal(t, runner.FinishStop, events[2].FinishReason)
	require.NotNil(t, events[2].TotalUsage)
	assert.Equal(t, int64(4), types.Value(events[2].TotalUsage.TotalTokens))

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, runner.FinishStop, resp.FinishReason)
	assert.Equal(t, []types.Message{types.AssistantMessage("hi")}, resp.ResponseMessages)

	requests := model.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, []types.Message{types.UserMessage("hello")}, requests[0].Messages)
	assert.Equal(t, "Provider: anthropic\nModel: test", requests[0].Instructions)
	assert.Equal(t, runner.DefaultMaxSteps, requests[0].MaxSteps)
	assert.True(t, model.Streams()[0].Closed())
}

func TestRunTurnAppendsToTranscript(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("ok", usage(1, 1)))
	agent := newAgent(t, model)
	transcript := []types.Message{types.UserMessage("first"), types.AssistantMessage("answer")}

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "  second  "}, transcript)
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	got := model.Requests()[0].Messages
	require.Len(t, got, 3)
	assert.Equal(t, "second", got[2].Content)

	// The model sees a copy.
	got[0].Content = "changed"
	assert.Equal(t, "first", transcript[0].Content)
}

func TestRunTurnExplicitMessages(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Reply("ok", usage(1, 1)))
	agent := newAgent(t, model)
	explicit := []types.Message{types.UserMessage("a"), types.UserMessage("b")}

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Messages: explicit}, []types.Message{types.UserMessage("prior")})
	require.NoError(t, err)
	_, err = turn.Response(ctx)
	require.NoError(t, err)

	got := model.Requests()[0].Messages
	require.Len(t, got, 3)
	assert.Equal(t, "prior", got[0].Content)
	assert.Equal(t, "b", got[2].Content)
}

func TestRunTurnRejectsEmptyPrompt(t *testing.T) {
	model := runnertest.NewModel(runnertest.Reply("never", usage(0, 0)))
	agent := newAgent(t, model)

	_, err := agent.RunTurn(context.Background(), runner.TurnRequest{Prompt: " \n\t "}, nil)
	assert.ErrorIs(t, err, runner.ErrEmptyPrompt)
	assert.EqualError(t, err, "Turn request prompt must not be empty")

	_, err = agent.RunTurn(context.Background(), runner.TurnRequest{Prompt: "x", Messages: []types.Message{}}, nil)
	assert.ErrorIs(t, err, runner.ErrAmbiguousRequest)

	assert.Equal(t, 0, model.Calls())
}

func TestNewAgentRequiresModel(t *testing.T) {
	_, err := runner.NewAgent(runner.AgentOptions{})
	assert.Error(t, err)
}

func TestPartialAbort(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{
		Parts:      []runner.Part{{Type: runner.PartTextDelta, Text: "partial"}},
		HoldOpen:   true,
		SummaryErr: errors.New("no summary after abort"),
	})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	first, ok, err := turn.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, runner.EventTextDelta, first.Type)
	assert.Equal(t, "partial", first.Text)

	turn.Abort()
	turn.Abort()

	rest, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventAbort}, runnertest.EventTypes(rest))

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, runner.FinishAbort, resp.FinishReason)
	assert.Equal(t, "partial", resp.Text)
	assert.Empty(t, resp.ResponseMessages)
	assert.NotNil(t, resp.ResponseMessages)
	assert.Equal(t, types.ZeroUsage(), resp.TotalUsage)
}

func TestAbortBeforeModelSettles(t *testing.T) {
	ctx := testCtx(t)
	gate := make(chan struct{})
	model := runnertest.NewModel(runnertest.Script{Gate: gate})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)
	turn.Abort()

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, runner.EventAbort, events[0].Type)
	assert.Len(t, events, 1)

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, runner.FinishAbort, resp.FinishReason)
	assert.Equal(t, "", resp.Text)
}

func TestAbortViaCallerContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	model := runnertest.NewModel(runnertest.Script{
		Parts:    []runner.Part{{Type: runner.PartTextDelta, Text: "x"}},
		HoldOpen: true,
	})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(parent, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)
	cancel()

	resp, err := turn.Response(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, runner.FinishAbort, resp.FinishReason)
}

func TestStreamErrorEmittedOnce(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{
		Parts: []runner.Part{
			{Type: runner.PartTextDelta, Text: "so far"},
			{Type: runner.PartError, Err: runnertest.ErrBoom},
		},
		Err: runnertest.ErrBoom,
	})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventTextDelta, runner.EventError}, runnertest.EventTypes(events))
	assert.Equal(t, "boom", events[1].Error.Message)
	assert.Equal(t, "Error", events[1].Error.Name)

	_, err = turn.Response(ctx)
	assert.ErrorIs(t, err, runnertest.ErrBoom)
}

func TestOpenErrorBecomesErrorEvent(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{OpenErr: runnertest.ErrBoom})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventError}, runnertest.EventTypes(events))

	_, err = turn.Response(ctx)
	assert.ErrorIs(t, err, runnertest.ErrBoom)
}

func TestAbortPartEndsTurnAsAborted(t *testing.T) {
	ctx := testCtx(t)
	model := runnertest.NewModel(runnertest.Script{
		Parts: []runner.Part{
			{Type: runner.PartTextDelta, Text: "half"},
			{Type: runner.PartAbort},
		},
		Summary: runner.StreamSummary{
			ResponseMessages: []types.Message{types.AssistantMessage("half")},
			TotalUsage:       usage(2, 1),
		},
	})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, []runner.EventType{runner.EventTextDelta, runner.EventAbort}, runnertest.EventTypes(events))

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, runner.FinishAbort, resp.FinishReason)
	assert.Equal(t, []types.Message{types.AssistantMessage("half")}, resp.ResponseMessages)
	assert.Equal(t, usage(2, 1), resp.TotalUsage)
}

func TestToolEventsPassThrough(t *testing.T) {
	ctx := testCtx(t)
	output := types.ToolOutput{OK: true, OutputMessage: "1: a"}
	model := runnertest.NewModel(runnertest.Script{
		Parts: []runner.Part{
			{Type: runner.PartStartStep},
			{Type: runner.PartToolCall, ToolCallID: "c1", ToolName: "read", Input: []byte(`{"filePath":"a"}`)},
			{Type: runner.PartToolResult, ToolCallID: "c1", ToolName: "read", Output: output},
			{Type: runner.PartToolError, ToolCallID: "c2", ToolName: "nope", Err: errors.New("unknown tool")},
			{Type: runner.PartReasoningDelta, Text: "thinking"},
		},
	})
	agent := newAgent(t, model)

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)
	events, err := runnertest.Collect(ctx, turn)
	require.NoError(t, err)

	assert.Equal(t, []runner.EventType{
		runner.EventToolCall, runner.EventToolResult, runner.EventToolError, runner.EventReasoningDelta,
	}, runnertest.EventTypes(events))
	assert.Equal(t, "c1", events[0].ToolCallID)
	assert.JSONEq(t, `{"filePath":"a"}`, string(events[0].Input))
	assert.Equal(t, output, events[1].Output)
	assert.Equal(t, "unknown tool", events[2].Error.Message)

	resp, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", resp.Text)
	assert.NotNil(t, resp.ResponseMessages)
}

func TestAbortAfterSettleIsNoop(t *testing.T) {
	ctx := testCtx(t)
	agent := newAgent(t, runnertest.NewModel(runnertest.Reply("done", usage(1, 1))))

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)
	resp, err := turn.Response(ctx)
	require.NoError(t, err)

	turn.Abort()
	again, err := turn.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp, again)
	assert.Equal(t, runner.FinishStop, again.FinishReason)
}

func TestThenChainsResponse(t *testing.T) {
	ctx := testCtx(t)
	agent := newAgent(t, runnertest.NewModel(runnertest.Reply("done", usage(1, 1))))

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	chained := turn.Then(func(resp runner.TurnResponse) (runner.TurnResponse, error) {
		resp.Text += "!"
		return resp, nil
	})
	events, err := runnertest.Collect(ctx, chained)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	resp, err := chained.Response(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done!", resp.Text)
}

func TestThenSkipsOnFailure(t *testing.T) {
	ctx := testCtx(t)
	agent := newAgent(t, runnertest.NewModel(runnertest.Script{OpenErr: runnertest.ErrBoom}))

	turn, err := agent.RunTurn(ctx, runner.TurnRequest{Prompt: "go"}, nil)
	require.NoError(t, err)

	called := false
	chained := turn.Then(func(resp runner.TurnResponse) (runner.TurnResponse, error) {
		called = true
		return resp, nil
	})
	_, err = chained.Response(ctx)
	assert.ErrorIs(t, err, runnertest.ErrBoom)
	assert.False(t, called)
}
