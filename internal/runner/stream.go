package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/opencode-ai/minicode/pkg/types"
)

// summaryTimeout bounds how long finalization waits for a stream summary.
const summaryTimeout = 5 * time.Second

// StreamOpener produces the raw stream of a turn. It runs on the turn's
// producer goroutine.
type StreamOpener func() (RawStream, error)

// NewTurnFromStream wraps an already-open raw stream in a Turn.
func NewTurnFromStream(stream RawStream, abort func()) *Turn {
	return StartTurn(func() (RawStream, error) { return stream, nil }, abort)
}

// StartTurn opens the raw stream on a new goroutine and consumes it exactly
// once, emitting normalized events. The event queue is closed on every path.
func StartTurn(open StreamOpener, abort func()) *Turn {
	t := newTurn(abort)
	go func() {
		resp, err := consume(t.events, open)
		t.settle(resp, err)
	}()
	return t
}

func consume(events *Queue[TurnEvent], open StreamOpener) (resp TurnResponse, err error) {
	defer events.Close()

	var (
		text         strings.Builder
		emittedError bool
		emittedAbort bool
		stream       RawStream
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn stream panicked: %v", r)
			if !emittedError {
				serialized := SerializeError(err)
				events.Push(TurnEvent{Type: EventError, Error: &serialized})
			}
			resp = TurnResponse{}
		}
		if stream != nil {
			stream.Close()
		}
	}()

	fail := func(cause error) (TurnResponse, error) {
		if emittedAbort || IsAbortError(cause) {
			if !emittedAbort {
				events.Push(TurnEvent{Type: EventAbort})
			}
			return abortedResponse(stream, text.String()), nil
		}
		if !emittedError {
			serialized := SerializeError(cause)
			events.Push(TurnEvent{Type: EventError, Error: &serialized})
		}
		return TurnResponse{}, cause
	}

	stream, err = open()
	if err != nil {
		stream = nil
		return fail(err)
	}

	for {
		part, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return fail(recvErr)
		}

		if part.Type == PartTextDelta {
			text.WriteString(part.Text)
		}

		event, ok := MapPart(part)
		if !ok {
			continue
		}
		switch event.Type {
		case EventError:
			emittedError = true
		case EventAbort:
			emittedAbort = true
		}
		events.Push(event)
	}

	if emittedAbort {
		return abortedResponse(stream, text.String()), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()
	summary, sumErr := stream.Summary(ctx)
	if sumErr != nil {
		return fail(sumErr)
	}

	return TurnResponse{
		Text:             text.String(),
		ResponseMessages: nonNilMessages(summary.ResponseMessages),
		FinishReason:     summary.FinishReason,
		TotalUsage:       summary.TotalUsage,
	}, nil
}

// abortedResponse builds the abort result from whatever the stream can still
// report. Missing pieces fall back to no messages and zero usage.
func abortedResponse(stream RawStream, text string) TurnResponse {
	resp := TurnResponse{
		Text:             text,
		ResponseMessages: []types.Message{},
		FinishReason:     FinishAbort,
		TotalUsage:       types.ZeroUsage(),
	}
	if stream == nil {
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()
	summary, err := stream.Summary(ctx)
	if err != nil {
		return resp
	}
	resp.ResponseMessages = nonNilMessages(summary.ResponseMessages)
	if !summary.TotalUsage.IsEmpty() {
		resp.TotalUsage = summary.TotalUsage
	}
	return resp
}

func nonNilMessages(messages []types.Message) []types.Message {
	if messages == nil {
		return []types.Message{}
	}
	return messages
}
