package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

const (
	// MaxRetries bounds the retries of opening one step's stream.
	MaxRetries = 3
	// RetryInitialInterval is the first backoff interval.
	RetryInitialInterval = time.Second
	// RetryMaxInterval caps a single backoff interval.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime caps the total time spent retrying.
	RetryMaxElapsedTime = 2 * time.Minute
)

// NewRetryBackoff returns the exponential backoff with jitter used when
// opening a stream fails.
func NewRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// EinoModel runs the tool loop over an eino chat model.
type EinoModel struct {
	chat      model.ToolCallingChatModel
	selection types.RuntimeSelection
	retry     func(context.Context) backoff.BackOff
	logger    zerolog.Logger
}

// ModelOptions configures NewEinoModel.
type ModelOptions struct {
	Selection types.RuntimeSelection
	// Retry overrides NewRetryBackoff.
	Retry  func(context.Context) backoff.BackOff
	Logger zerolog.Logger
}

// NewEinoModel wraps chat as a runner.Model.
func NewEinoModel(chat model.ToolCallingChatModel, opts ModelOptions) *EinoModel {
	retry := opts.Retry
	if retry == nil {
		retry = NewRetryBackoff
	}
	return &EinoModel{
		chat:      chat,
		selection: opts.Selection,
		retry:     retry,
		logger:    opts.Logger,
	}
}

// Selection returns the provider/model pair this model was built for.
func (m *EinoModel) Selection() types.RuntimeSelection {
	return m.selection
}

// Stream implements runner.Model. The tool loop runs on its own goroutine
// and stops when ctx is cancelled or the returned stream is closed.
func (m *EinoModel) Stream(ctx context.Context, req runner.ModelRequest) (runner.RawStream, error) {
	chat := m.chat
	if len(req.Tools) > 0 {
		bound, err := chat.WithTools(req.Tools.Infos())
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		chat = bound
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = runner.DefaultMaxSteps
	}

	s := &loopStream{
		parts:  make(chan runner.Part),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	l := &loop{
		model:    m,
		chat:     chat,
		req:      req,
		maxSteps: maxSteps,
		out:      s,
	}
	go l.run(ctx, toEinoMessages(req.Instructions, req.Messages))
	return s, nil
}

// loopStream hands parts from the loop goroutine to the turn consumer.
type loopStream struct {
	parts     chan runner.Part
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	summary runner.StreamSummary
	err     error
}

func (s *loopStream) Recv() (runner.Part, error) {
	select {
	case p, ok := <-s.parts:
		if !ok {
			return runner.Part{}, io.EOF
		}
		return p, nil
	case <-s.closed:
		return runner.Part{}, io.EOF
	}
}

func (s *loopStream) Summary(ctx context.Context) (runner.StreamSummary, error) {
	select {
	case <-s.done:
		return s.summary, s.err
	case <-ctx.Done():
		return runner.StreamSummary{}, ctx.Err()
	}
}

func (s *loopStream) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// emit delivers p unless the consumer has gone away.
func (s *loopStream) emit(p runner.Part) bool {
	select {
	case s.parts <- p:
		return true
	case <-s.closed:
		return false
	}
}

type loop struct {
	model    *EinoModel
	chat     model.ToolCallingChatModel
	req      runner.ModelRequest
	maxSteps int
	out      *loopStream

	messages []types.Message
	total    types.Usage
}

// errStopped ends the loop when the consumer closes the stream.
var errStopped = errors.New("stream closed by consumer")

func (l *loop) run(ctx context.Context, input []*schema.Message) {
	finish, err := l.steps(ctx, input)

	switch {
	case err == nil:
		l.out.emit(runner.Part{Type: runner.PartFinish, FinishReason: finish, Usage: l.total.Clone()})
	case errors.Is(err, errStopped):
	case ctx.Err() != nil:
		l.out.emit(runner.Part{Type: runner.PartAbort})
	default:
		l.out.emit(runner.Part{Type: runner.PartError, Err: err})
	}

	l.out.summary = runner.StreamSummary{
		ResponseMessages: l.messages,
		FinishReason:     finish,
		TotalUsage:       l.total,
	}
	if err != nil && ctx.Err() == nil {
		l.out.err = err
	}
	close(l.out.done)
	close(l.out.parts)
}

func (l *loop) emit(p runner.Part) error {
	if !l.out.emit(p) {
		return errStopped
	}
	return nil
}

func (l *loop) steps(ctx context.Context, input []*schema.Message) (runner.FinishReason, error) {
	if err := l.emit(runner.Part{Type: runner.PartStart}); err != nil {
		return runner.FinishUnknown, err
	}

	for step := 1; ; step++ {
		if err := context.Cause(ctx); err != nil {
			return runner.FinishAbort, err
		}
		if err := l.emit(runner.Part{Type: runner.PartStartStep}); err != nil {
			return runner.FinishUnknown, err
		}

		result, err := l.step(ctx, input)
		if err != nil {
			return runner.FinishError, err
		}
		l.total = l.total.Add(result.usage)
		if err := l.emit(runner.Part{Type: runner.PartFinishStep, FinishReason: result.finish, Usage: result.usage.Clone()}); err != nil {
			return runner.FinishUnknown, err
		}

		if result.finish != runner.FinishToolCalls {
			return result.finish, nil
		}
		if step >= l.maxSteps {
			l.model.logger.Debug().Int("steps", step).Msg("step budget exhausted")
			return result.finish, nil
		}
		input = append(input, toEinoMessage(result.assistant)...)
		input = append(input, toEinoMessage(result.tools)...)
	}
}

type stepResult struct {
	assistant types.Message
	tools     types.Message
	finish    runner.FinishReason
	usage     types.Usage
}

// pendingCall accumulates a streamed tool call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (l *loop) step(ctx context.Context, input []*schema.Message) (stepResult, error) {
	reader, err := l.open(ctx, input)
	if err != nil {
		return stepResult{}, err
	}
	defer reader.Close()

	var (
		text      strings.Builder
		reasoning strings.Builder
		calls     = map[string]*pendingCall{}
		order     []string
		rawFinish string
		usage     types.Usage
	)

	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return stepResult{}, cause
			}
			return stepResult{}, fmt.Errorf("stream: %w", err)
		}
		if chunk == nil {
			continue
		}

		if chunk.ReasoningContent != "" {
			reasoning.WriteString(chunk.ReasoningContent)
			if err := l.emit(runner.Part{Type: runner.PartReasoningDelta, Text: chunk.ReasoningContent}); err != nil {
				return stepResult{}, err
			}
		}
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if err := l.emit(runner.Part{Type: runner.PartTextDelta, Text: chunk.Content}); err != nil {
				return stepResult{}, err
			}
		}
		for _, tc := range chunk.ToolCalls {
			key := callKey(tc, order)
			call, ok := calls[key]
			if !ok {
				call = &pendingCall{}
				calls[key] = call
				order = append(order, key)
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
		if meta := chunk.ResponseMeta; meta != nil {
			if meta.FinishReason != "" {
				rawFinish = meta.FinishReason
			}
			if meta.Usage != nil {
				usage = usageFromEino(meta.Usage)
			}
		}
	}

	assistant := types.Message{
		Role:      types.RoleAssistant,
		Content:   text.String(),
		Reasoning: reasoning.String(),
	}
	for _, key := range order {
		call := calls[key]
		if call.id == "" {
			call.id = "call_" + ulid.Make().String()
		}
		tc := types.ToolCall{ID: call.id, Name: call.name, Input: toolInput(call.args.String())}
		assistant.ToolCalls = append(assistant.ToolCalls, tc)
		if err := l.emit(runner.Part{Type: runner.PartToolCall, ToolCallID: tc.ID, ToolName: tc.Name, Input: tc.Input}); err != nil {
			return stepResult{}, err
		}
	}

	result := stepResult{
		assistant: assistant,
		finish:    mapFinishReason(rawFinish, len(assistant.ToolCalls) > 0),
		usage:     usage,
	}
	if len(assistant.ToolCalls) == 0 {
		l.messages = append(l.messages, assistant)
		return result, nil
	}

	// A step joins the response only once every call has a result, so an
	// aborted step never leaves unanswered tool calls behind.

	result.tools = types.Message{Role: types.RoleTool}
	for _, tc := range assistant.ToolCalls {
		if cause := context.Cause(ctx); cause != nil {
			return stepResult{}, cause
		}
		res, err := l.execute(ctx, tc)
		if err != nil {
			return stepResult{}, err
		}
		result.tools.ToolResults = append(result.tools.ToolResults, res)
	}
	l.messages = append(l.messages, assistant, result.tools)
	return result, nil
}

// callKey identifies the call a streamed fragment belongs to. Fragments
// without an index or id continue the most recent call.
func callKey(tc schema.ToolCall, order []string) string {
	switch {
	case tc.Index != nil:
		return fmt.Sprintf("#%d", *tc.Index)
	case tc.ID != "":
		return "id:" + tc.ID
	case len(order) > 0:
		return order[len(order)-1]
	default:
		return "#0"
	}
}

func (l *loop) execute(ctx context.Context, tc types.ToolCall) (types.ToolResult, error) {
	t, ok := l.req.Tools.Get(tc.Name)
	if !ok {
		err := fmt.Errorf("Model tried to call unavailable tool '%s'. Available tools: %s.", tc.Name, strings.Join(sortedNames(l.req.Tools), ", "))
		if emitErr := l.emit(runner.Part{Type: runner.PartToolError, ToolCallID: tc.ID, ToolName: tc.Name, Input: tc.Input, Err: err}); emitErr != nil {
			return types.ToolResult{}, emitErr
		}
		return types.ToolResult{CallID: tc.ID, Name: tc.Name, Output: tool.FailureFromError(err)}, nil
	}

	toolCtx := l.req.ToolContext
	toolCtx.CallID = tc.ID
	output := tool.Execute(ctx, t, tc.Input, &toolCtx)

	l.model.logger.Debug().
		Str("tool", tc.Name).
		Str("callId", tc.ID).
		Bool("ok", output.OK).
		Msg("tool executed")

	if err := l.emit(runner.Part{Type: runner.PartToolResult, ToolCallID: tc.ID, ToolName: tc.Name, Input: tc.Input, Output: output}); err != nil {
		return types.ToolResult{}, err
	}
	return types.ToolResult{CallID: tc.ID, Name: tc.Name, Output: output}, nil
}

// open starts one generation, retrying failures to open the stream.
func (l *loop) open(ctx context.Context, input []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	var reader *schema.StreamReader[*schema.Message]
	operation := func() error {
		r, err := l.chat.Stream(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(context.Cause(ctx))
			}
			return err
		}
		reader = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.model.logger.Warn().Err(err).Dur("wait", wait).Msg("opening model stream failed, retrying")
	}
	if err := backoff.RetryNotify(operation, l.model.retry(ctx), notify); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, err
	}
	return reader, nil
}

// mapFinishReason normalizes vendor finish reasons.
func mapFinishReason(raw string, hasToolCalls bool) runner.FinishReason {
	if hasToolCalls {
		return runner.FinishToolCalls
	}
	switch strings.ToLower(raw) {
	case "", "stop", "end_turn", "stop_sequence":
		return runner.FinishStop
	case "length", "max_tokens":
		return runner.FinishLength
	case "tool_calls", "tool_use", "function_call":
		return runner.FinishToolCalls
	case "content_filter", "safety", "recitation", "blocklist", "prohibited_content":
		return runner.FinishContentFilter
	default:
		return runner.FinishOther
	}
}

func sortedNames(set tool.Set) []string {
	names := set.Names()
	sort.Strings(names)
	return names
}
