// Package runnertest provides a scripted runner.Model for tests.
package runnertest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/pkg/types"
)

// Script describes one scripted generation.
type Script struct {
	// OpenErr fails Model.Stream itself.
	OpenErr error
	// Gate, when set, holds Model.Stream until it is closed or the turn
	// context is cancelled.
	Gate <-chan struct{}
	// Parts are delivered in order by Recv.
	Parts []runner.Part
	// Err is returned by Recv after Parts instead of io.EOF.
	Err error
	// HoldOpen makes Recv block after Parts until the turn context is
	// cancelled, then return its cause.
	HoldOpen bool
	// Summary and SummaryErr are returned by Summary.
	Summary    runner.StreamSummary
	SummaryErr error
}

// Model replays scripts in order, one per Stream call. The last script is
// reused once the list is exhausted.
type Model struct {
	mu       sync.Mutex
	scripts  []Script
	calls    int
	requests []runner.ModelRequest
	streams  []*Stream
}

// NewModel creates a model with the given scripts.
func NewModel(scripts ...Script) *Model {
	return &Model{scripts: scripts}
}

// Reply returns a script that streams text as one delta and finishes with
// stop, answering with a single assistant message.
func Reply(text string, usage types.Usage) Script {
	return Script{
		Parts: []runner.Part{
			{Type: runner.PartStart},
			{Type: runner.PartTextDelta, Text: text},
			{Type: runner.PartFinishStep, FinishReason: runner.FinishStop, Usage: usage},
			{Type: runner.PartFinish, FinishReason: runner.FinishStop, Usage: usage},
		},
		Summary: runner.StreamSummary{
			ResponseMessages: []types.Message{types.AssistantMessage(text)},
			FinishReason:     runner.FinishStop,
			TotalUsage:       usage,
		},
	}
}

// Stream implements runner.Model.
func (m *Model) Stream(ctx context.Context, req runner.ModelRequest) (runner.RawStream, error) {
	m.mu.Lock()
	var script Script
	if len(m.scripts) > 0 {
		script = m.scripts[min(m.calls, len(m.scripts)-1)]
	}
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if script.Gate != nil {
		select {
		case <-script.Gate:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	if script.OpenErr != nil {
		return nil, script.OpenErr
	}

	s := &Stream{ctx: ctx, script: script}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Calls returns how many times Stream was called.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns the requests seen so far.
func (m *Model) Requests() []runner.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runner.ModelRequest(nil), m.requests...)
}

// Streams returns the streams opened so far.
func (m *Model) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.streams...)
}

// Stream is a scripted runner.RawStream.
type Stream struct {
	ctx    context.Context
	script Script

	mu     sync.Mutex
	next   int
	closed bool
}

// Recv implements runner.RawStream.
func (s *Stream) Recv() (runner.Part, error) {
	s.mu.Lock()
	if s.next < len(s.script.Parts) {
		part := s.script.Parts[s.next]
		s.next++
		s.mu.Unlock()
		return part, nil
	}
	s.mu.Unlock()

	if s.script.HoldOpen {
		<-s.ctx.Done()
		return runner.Part{}, context.Cause(s.ctx)
	}
	if s.script.Err != nil {
		return runner.Part{}, s.script.Err
	}
	return runner.Part{}, io.EOF
}

// Summary implements runner.RawStream.
func (s *Stream) Summary(context.Context) (runner.StreamSummary, error) {
	if s.script.SummaryErr != nil {
		return runner.StreamSummary{}, s.script.SummaryErr
	}
	return s.script.Summary, nil
}

// Close implements runner.RawStream.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ErrBoom is a generic scripted failure.
var ErrBoom = errors.New("boom")

// Collect drains every event of turn.
func Collect(ctx context.Context, turn *runner.Turn) ([]runner.TurnEvent, error) {
	var events []runner.TurnEvent
	for ev, err := range turn.Events(ctx) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// EventTypes returns the types of events in order.
func EventTypes(events []runner.TurnEvent) []runner.EventType {
	out := make([]runner.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
