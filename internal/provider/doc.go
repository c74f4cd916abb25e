// Package provider connects minicode to model vendors through eino.
//
// Each supported provider contributes a ChatModelFactory that builds an
// eino model.ToolCallingChatModel for a resolved runtime selection:
//
//   - anthropic: eino-ext claude
//   - openai, openai-compatible: eino-ext openai
//   - ark: eino-ext ark (Volcengine)
//   - google: a genai adapter implementing the eino interface
//
// EinoModel wraps a chat model as a runner.Model. It streams one generation
// per step, executes the tool calls the model requests and loops until the
// model stops asking for tools or the step budget runs out. Opening a step's
// stream is retried with exponential backoff; errors after that surface in
// the part stream.
//
// Runtime resolution and the catalog are pure functions of the config:
//
//	sel, err := provider.ResolveRuntime(cfg, types.RuntimeSelection{Provider: "openai"})
//	m, err := provider.NewModel(ctx, cfg, sel, provider.Options{})
package provider
