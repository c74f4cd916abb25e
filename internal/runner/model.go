package runner

import (
	"context"

	"github.com/opencode-ai/minicode/internal/tool"
	"github.com/opencode-ai/minicode/pkg/types"
)

// Model is the opaque model capability. Stream starts one tool-calling
// generation over the request and returns its raw part stream.
type Model interface {
	Stream(ctx context.Context, req ModelRequest) (RawStream, error)
}

// ModelRequest is what the agent hands to a model.
type ModelRequest struct {
	Instructions string
	Messages     []types.Message
	Tools        tool.Set
	MaxSteps     int

	// ToolContext is the template handed to each tool call. The model fills
	// in CallID per call.
	ToolContext tool.Context
}

// RawStream is a single-consumption sequence of raw parts.
type RawStream interface {
	// Recv returns the next part, or io.EOF once the stream has ended.
	Recv() (Part, error)

	// Summary returns the authoritative result of the generation. It is
	// only meaningful after Recv has returned io.EOF; after a failed or
	// cancelled stream it may return an error.
	Summary(ctx context.Context) (StreamSummary, error)

	// Close releases the stream. It is safe to call more than once.
	Close()
}

// StreamSummary is the authoritative outcome of a generation.
type StreamSummary struct {
	ResponseMessages []types.Message
	FinishReason     FinishReason
	TotalUsage       types.Usage
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req ModelRequest) (RawStream, error)

// Stream calls f.
func (f ModelFunc) Stream(ctx context.Context, req ModelRequest) (RawStream, error) {
	return f(ctx, req)
}
