package runner

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/opencode-ai/minicode/pkg/types"
)

// TurnRequest asks for one turn. Exactly one of Prompt and Messages is used:
// a non-nil Messages slice selects the explicit form.
type TurnRequest struct {
	Prompt   string
	Messages []types.Message
}

// RequestMessages returns the messages the request contributes to a
// transcript.
func RequestMessages(req TurnRequest) ([]types.Message, error) {
	if req.Messages != nil {
		if req.Prompt != "" {
			return nil, ErrAmbiguousRequest
		}
		return types.CloneMessages(req.Messages), nil
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	return []types.Message{types.UserMessage(prompt)}, nil
}

// BuildMessages appends the request messages to a copy of transcript.
func BuildMessages(req TurnRequest, transcript []types.Message) ([]types.Message, error) {
	requestMessages, err := RequestMessages(req)
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(transcript)+len(requestMessages))
	out = append(out, types.CloneMessages(transcript)...)
	return append(out, requestMessages...), nil
}

// TurnResponse is the terminal result of a turn.
type TurnResponse struct {
	Text             string          `json:"text"`
	ResponseMessages []types.Message `json:"responseMessages"`
	FinishReason     FinishReason    `json:"finishReason"`
	TotalUsage       types.Usage     `json:"totalUsage"`
}

// Turn couples a single-consumption event sequence, a response future and an
// abort operation.
type Turn struct {
	events *Queue[TurnEvent]

	done chan struct{}
	resp TurnResponse
	err  error

	abortOnce sync.Once
	abort     func()
}

func newTurn(abort func()) *Turn {
	return &Turn{
		events: NewQueue[TurnEvent](),
		done:   make(chan struct{}),
		abort:  abort,
	}
}

func (t *Turn) settle(resp TurnResponse, err error) {
	t.resp = resp
	t.err = err
	close(t.done)
}

// Next returns the next event. ok is false once the sequence is drained.
func (t *Turn) Next(ctx context.Context) (TurnEvent, bool, error) {
	return t.events.Next(ctx)
}

// Events returns an iterator over the remaining events.
func (t *Turn) Events(ctx context.Context) iter.Seq2[TurnEvent, error] {
	return t.events.All(ctx)
}

// Done is closed once the response has settled.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Response waits for the turn to settle.
func (t *Turn) Response(ctx context.Context) (TurnResponse, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return TurnResponse{}, ctx.Err()
	}
}

// Abort cancels the turn. It is idempotent and a no-op once the turn has
// settled.
func (t *Turn) Abort() {
	select {
	case <-t.done:
		return
	default:
	}
	t.abortOnce.Do(func() {
		if t.abort != nil {
			t.abort()
		}
	})
}

// Then returns a turn sharing t's events and abort whose response is fn
// applied to t's response. fn is not called when t fails.
func (t *Turn) Then(fn func(TurnResponse) (TurnResponse, error)) *Turn {
	next := &Turn{
		events: t.events,
		done:   make(chan struct{}),
		abort:  t.Abort,
	}
	go func() {
		<-t.done
		if t.err != nil {
			next.settle(TurnResponse{}, t.err)
			return
		}
		resp, err := fn(t.resp)
		next.settle(resp, err)
	}()
	return next
}
