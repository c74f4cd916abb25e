package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeStep scripts one Stream call of fakeChat.
type fakeStep struct {
	openErr error
	chunks  []*schema.Message
	recvErr error
	// block holds the stream open after chunks until ctx is done.
	block bool
}

// fakeChat is a scripted eino chat model. The last step repeats once the
// script is exhausted.
type fakeChat struct {
	mu     sync.Mutex
	steps  []fakeStep
	calls  int
	inputs [][]*schema.Message
	tools  []*schema.ToolInfo
}

func newFakeChat(steps ...fakeStep) *fakeChat {
	return &fakeChat{steps: steps}
}

func (f *fakeChat) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	step := f.steps[min(f.calls, len(f.steps)-1)]
	f.calls++
	f.inputs = append(f.inputs, append([]*schema.Message(nil), input...))
	f.mu.Unlock()

	if step.openErr != nil {
		return nil, step.openErr
	}
	if !step.block && step.recvErr == nil {
		return schema.StreamReaderFromArray(step.chunks), nil
	}

	sr, sw := schema.Pipe[*schema.Message](len(step.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range step.chunks {
			sw.Send(c, nil)
		}
		if step.recvErr != nil {
			sw.Send(nil, step.recvErr)
			return
		}
		<-ctx.Done()
		sw.Send(nil, ctx.Err())
	}()
	return sr, nil
}

func (f *fakeChat) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
	return f, nil
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChat) Inputs() [][]*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*schema.Message(nil), f.inputs...)
}

func (f *fakeChat) BoundTools() []*schema.ToolInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools
}

func textChunk(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func finishChunk(reason string, prompt, completion int) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: reason,
			Usage: &schema.TokenUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		},
	}
}

func toolChunk(index int, id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &index,
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}
