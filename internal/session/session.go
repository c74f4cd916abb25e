package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/pkg/types"
)

// ErrClosed is returned by commits submitted after Close.
var ErrClosed = errors.New("session is closed")

// CommitInput is handed to ApplyResponse.
type CommitInput struct {
	Previous        types.SessionState
	Next            types.SessionState
	Request         runner.TurnRequest
	RequestMessages []types.Message
	Response        runner.TurnResponse
}

// Options configures a Session.
type Options struct {
	State   types.SessionState
	RunTurn runner.Runner

	// Now returns the commit time in Unix milliseconds.
	Now func() int64

	// InterruptionMarker defaults to DefaultInterruptionMarker.
	InterruptionMarker string

	// ApplyResponse transforms the computed next state.
	ApplyResponse func(ctx context.Context, in CommitInput) (types.SessionState, error)

	// OnSnapshot receives a copy of every canonical state.
	OnSnapshot func(ctx context.Context, state types.SessionState) error

	// Validate overrides ValidateState.
	Validate func(types.SessionState) error

	Logger zerolog.Logger
}

type commitTask struct {
	run  func() error
	done chan error
}

// Session is the per-conversation state machine.
type Session struct {
	id      string
	runTurn runner.Runner
	now     func() int64
	marker  string
	apply   func(context.Context, CommitInput) (types.SessionState, error)
	onSnap  func(context.Context, types.SessionState) error
	check   func(types.SessionState) error
	logger  zerolog.Logger

	mu    sync.RWMutex
	state types.SessionState

	tasks     chan commitTask
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New validates the initial state and starts the commit worker. Call Close
// to stop it.
func New(opts Options) (*Session, error) {
	if opts.RunTurn == nil {
		return nil, errors.New("session requires a turn runner")
	}

	check := opts.Validate
	if check == nil {
		check = ValidateState
	}
	if err := check(opts.State); err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	marker := opts.InterruptionMarker
	if marker == "" {
		marker = DefaultInterruptionMarker
	}

	s := &Session{
		id:      opts.State.ID,
		runTurn: opts.RunTurn,
		now:     now,
		marker:  marker,
		apply:   opts.ApplyResponse,
		onSnap:  opts.OnSnapshot,
		check:   check,
		logger:  opts.Logger.With().Str("session", opts.State.ID).Logger(),
		state:   opts.State.Clone(),
		tasks:   make(chan commitTask),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.work()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Send runs a prompt turn.
func (s *Session) Send(ctx context.Context, prompt string) (*runner.Turn, error) {
	return s.Turn(ctx, runner.TurnRequest{Prompt: prompt})
}

// Turn runs req against the current transcript. The returned turn's
// response settles after the turn has been committed.
func (s *Session) Turn(ctx context.Context, req runner.TurnRequest) (*runner.Turn, error) {
	requestMessages, err := runner.RequestMessages(req)
	if err != nil {
		return nil, err
	}

	transcript := s.Snapshot().Messages
	turn, err := s.runTurn(ctx, req, transcript)
	if err != nil {
		return nil, err
	}

	commitCtx := context.WithoutCancel(ctx)
	return turn.Then(func(resp runner.TurnResponse) (runner.TurnResponse, error) {
		if err := s.commit(commitCtx, req, requestMessages, resp); err != nil {
			return resp, err
		}
		return resp, nil
	}), nil
}

// Close stops the commit worker after any in-flight commit. Later commits
// fail with ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

func (s *Session) work() {
	defer close(s.stopped)
	for {
		select {
		case task := <-s.tasks:
			task.done <- task.run()
		case <-s.quit:
			return
		}
	}
}

func (s *Session) commit(ctx context.Context, req runner.TurnRequest, requestMessages []types.Message, resp runner.TurnResponse) error {
	task := commitTask{
		run:  func() error { return s.applyCommit(ctx, req, requestMessages, resp) },
		done: make(chan error, 1),
	}

	select {
	case s.tasks <- task:
	case <-s.quit:
		return ErrClosed
	}
	return <-task.done
}

// applyCommit runs on the commit worker only.
func (s *Session) applyCommit(ctx context.Context, req runner.TurnRequest, requestMessages []types.Message, resp runner.TurnResponse) error {
	s.mu.RLock()
	previous := s.state.Clone()
	s.mu.RUnlock()

	next := buildNextState(nextStateInput{
		state:              previous,
		requestMessages:    requestMessages,
		response:           resp,
		now:                s.now(),
		interruptionMarker: s.marker,
	})
	if err := s.check(next); err != nil {
		return fmt.Errorf("commit session %s: %w", s.id, err)
	}

	if s.apply != nil {
		applied, err := s.apply(ctx, CommitInput{
			Previous:        previous,
			Next:            next,
			Request:         req,
			RequestMessages: types.CloneMessages(requestMessages),
			Response:        resp,
		})
		if err != nil {
			return fmt.Errorf("apply response: %w", err)
		}
		if err := s.check(applied); err != nil {
			return fmt.Errorf("commit session %s: %w", s.id, err)
		}
		next = applied
	}

	canonical := next.Clone()
	s.mu.Lock()
	s.state = canonical
	s.mu.Unlock()

	s.logger.Debug().
		Int("messages", len(canonical.Messages)).
		Str("finishReason", string(resp.FinishReason)).
		Int64("updatedAt", canonical.UpdatedAt).
		Msg("turn committed")

	if s.onSnap != nil {
		if err := s.onSnap(ctx, canonical.Clone()); err != nil {
			return fmt.Errorf("snapshot hook: %w", err)
		}
	}
	return nil
}
