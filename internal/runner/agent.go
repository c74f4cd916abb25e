// Package runner turns a model's raw output stream into a normalized turn:
// an ordered event sequence plus a single response.
package runner

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

// DefaultMaxSteps bounds the tool loop of one turn.
const DefaultMaxSteps = 20

// Runner starts a turn over a transcript.
type Runner func(ctx context.Context, req TurnRequest, transcript []types.Message) (*Turn, error)

// AgentOptions configures an Agent.
type AgentOptions struct {
	Model        Model
	Tools        tool.Set
	Instructions string
	MaxSteps     int
	ToolContext  tool.Context
	Logger       zerolog.Logger
}

// Agent binds a model to a tool set and instructions.
type Agent struct {
	model        Model
	tools        tool.Set
	instructions string
	maxSteps     int
	toolCtx      tool.Context
	logger       zerolog.Logger
}

// NewAgent creates an agent.
func NewAgent(opts AgentOptions) (*Agent, error) {
	if opts.Model == nil {
		return nil, errors.New("agent requires a model")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Agent{
		model:        opts.Model,
		tools:        opts.Tools,
		instructions: opts.Instructions,
		maxSteps:     maxSteps,
		toolCtx:      opts.ToolContext,
		logger:       opts.Logger,
	}, nil
}

// Instructions returns the system instructions sent with every turn.
func (a *Agent) Instructions() string {
	return a.instructions
}

// RunTurn validates req, then starts the model on transcript + request
// messages. Cancelling ctx or calling Abort on the returned turn aborts it.
func (a *Agent) RunTurn(ctx context.Context, req TurnRequest, transcript []types.Message) (*Turn, error) {
	messages, err := BuildMessages(req, transcript)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancelCause(ctx)
	abort := func() { cancel(ErrAborted) }

	modelReq := ModelRequest{
		Instructions: a.instructions,
		Messages:     messages,
		Tools:        a.tools,
		MaxSteps:     a.maxSteps,
		ToolContext:  a.toolCtx,
	}

	a.logger.Debug().
		Int("messages", len(messages)).
		Int("tools", len(a.tools)).
		Msg("starting turn")

	turn := StartTurn(func() (RawStream, error) {
		if cause := context.Cause(turnCtx); cause != nil {
			return nil, cause
		}
		return a.model.Stream(turnCtx, modelReq)
	}, abort)

	// Release the context once the turn settles.
	go func() {
		<-turn.Done()
		cancel(nil)
	}()

	return turn, nil
}

