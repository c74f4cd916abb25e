package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/pkg/types"
)

// PrinterOptions tunes a Printer.
type PrinterOptions struct {
	Quiet   bool
	Verbose bool
	NoColor bool
	// Now overrides the clock used for durations and JSONL timestamps.
	Now func() time.Time
}

// Printer renders turn events in the selected format and accumulates the
// final Result.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer
	format OutputFormat
	opts   PrinterOptions

	dim *color.Color
	red *color.Color

	startTime time.Time
	result    *Result
	calls     map[string]int

	textLineOpen bool
	sawError     bool
	text         strings.Builder
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, format OutputFormat, opts PrinterOptions) *Printer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if format == "" {
		format = OutputText
	}
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)
	if opts.NoColor {
		dim.DisableColor()
		red.DisableColor()
	} else {
		dim.EnableColor()
		red.EnableColor()
	}
	return &Printer{
		writer:    w,
		format:    format,
		opts:      opts,
		dim:       dim,
		red:       red,
		startTime: opts.Now(),
		result:    &Result{Status: "running", ExitCode: ExitSuccess},
		calls:     make(map[string]int),
	}
}

// SetSession records the session the turn runs in.
func (p *Printer) SetSession(id string, sel types.RuntimeSelection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.SessionID = id
	p.result.Provider = string(sel.Provider)
	p.result.Model = sel.Model
}

// Render handles one turn event.
func (p *Printer) Render(ev runner.TurnEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track(ev)
	switch p.format {
	case OutputText:
		p.renderText(ev)
	case OutputJSONL:
		if p.opts.Verbose || isImportantEvent(ev.Type) {
			p.writeJSONL(string(ev.Type), ev)
		}
	}
}

// RenderError reports a failure that did not arrive as an error event.
func (p *Printer) RenderError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sawError || err == nil {
		return
	}
	p.sawError = true
	switch p.format {
	case OutputText:
		fmt.Fprint(p.writer, p.breakLine()+p.red.Sprintf("[error] %s", err.Error())+"\n")
	case OutputJSONL:
		serialized := runner.SerializeError(err)
		p.writeJSONL(string(runner.EventError), runner.TurnEvent{Type: runner.EventError, Error: &serialized})
	}
}

func (p *Printer) renderText(ev runner.TurnEvent) {
	if p.opts.Quiet {
		if ev.Type == runner.EventTextDelta {
			fmt.Fprint(p.writer, ev.Text)
			p.textLineOpen = true
		}
		if ev.Type == runner.EventFinish || ev.Type == runner.EventAbort {
			fmt.Fprint(p.writer, p.breakLine())
		}
		return
	}

	switch ev.Type {
	case runner.EventTextDelta:
		p.textLineOpen = true
		fmt.Fprint(p.writer, ev.Text)

	case runner.EventReasoningDelta:
		if p.opts.Verbose {
			fmt.Fprint(p.writer, p.dim.Sprint(ev.Text))
		}

	case runner.EventToolCall:
		fmt.Fprint(p.writer, p.breakLine()+p.dim.Sprintf("[tool:%s] call", ev.ToolName)+"\n")

	case runner.EventToolResult:
		status, detail := toolStatus(ev.Output)
		fmt.Fprint(p.writer, p.breakLine()+p.dim.Sprintf("[tool:%s] %s%s", ev.ToolName, status, detail)+"\n")

	case runner.EventToolError:
		fmt.Fprint(p.writer, p.breakLine()+p.red.Sprintf("[tool:%s] error: %s", ev.ToolName, errorMessage(ev.Error))+"\n")

	case runner.EventStepFinish:
		if p.opts.Verbose && ev.Usage != nil {
			fmt.Fprint(p.writer, p.breakLine()+p.dim.Sprintf("[step] %s %s", ev.FinishReason, formatUsage(*ev.Usage))+"\n")
		}

	case runner.EventFinish:
		fmt.Fprint(p.writer, p.breakLine())

	case runner.EventAbort:
		fmt.Fprint(p.writer, p.breakLine()+"[interrupted by user]\n")

	case runner.EventError:
		p.sawError = true
		fmt.Fprint(p.writer, p.breakLine()+p.red.Sprintf("[error] %s", errorMessage(ev.Error))+"\n")
	}
}

// breakLine closes an open text line.
func (p *Printer) breakLine() string {
	if !p.textLineOpen {
		return ""
	}
	p.textLineOpen = false
	return "\n"
}

func (p *Printer) writeJSONL(eventType string, data any) {
	line, err := json.Marshal(&Event{Type: eventType, Timestamp: p.opts.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(line))
}

// track folds ev into the result.
func (p *Printer) track(ev runner.TurnEvent) {
	switch ev.Type {
	case runner.EventTextDelta:
		p.text.WriteString(ev.Text)
	case runner.EventToolCall:
		p.calls[ev.ToolCallID] = len(p.result.ToolCalls)
		p.result.ToolCalls = append(p.result.ToolCalls, ToolCall{
			ID:    ev.ToolCallID,
			Tool:  ev.ToolName,
			Input: rawInput(ev.Input),
		})
	case runner.EventToolResult:
		call := p.call(ev)
		_, call.Output = outputMessage(ev.Output)
		call.Output = truncateOutput(call.Output, 500)
	case runner.EventToolError:
		call := p.call(ev)
		call.Error = errorMessage(ev.Error)
	case runner.EventStepFinish:
		p.result.Steps++
	case runner.EventFinish:
		p.result.FinishReason = string(ev.FinishReason)
		if ev.TotalUsage != nil {
			usage := ev.TotalUsage.Clone()
			p.result.Usage = &usage
		}
	case runner.EventAbort:
		p.result.FinishReason = string(runner.FinishAbort)
	case runner.EventError:
		p.sawError = true
		p.result.Error = errorMessage(ev.Error)
	}
}

func (p *Printer) call(ev runner.TurnEvent) *ToolCall {
	if i, ok := p.calls[ev.ToolCallID]; ok {
		return &p.result.ToolCalls[i]
	}
	p.calls[ev.ToolCallID] = len(p.result.ToolCalls)
	p.result.ToolCalls = append(p.result.ToolCalls, ToolCall{ID: ev.ToolCallID, Tool: ev.ToolName, Input: rawInput(ev.Input)})
	return &p.result.ToolCalls[len(p.result.ToolCalls)-1]
}

// Finish records the settled response and prints the usage line.
func (p *Printer) Finish(resp runner.TurnResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.FinishReason = string(resp.FinishReason)
	p.result.FinalMessage = resp.Text
	if !resp.TotalUsage.IsEmpty() {
		usage := resp.TotalUsage.Clone()
		p.result.Usage = &usage
	}

	if p.format == OutputText && !p.opts.Quiet {
		fmt.Fprint(p.writer, p.breakLine())
		line := fmt.Sprintf("[done] %s in %s", resp.FinishReason, formatDuration(p.opts.Now().Sub(p.startTime)))
		if p.result.Usage != nil {
			line += " " + formatUsage(*p.result.Usage)
		}
		fmt.Fprintln(p.writer, p.dim.Sprint(line))
	}
}

// SetResult records the final status.
func (p *Printer) SetResult(status string, code ExitCode, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = status
	p.result.ExitCode = code
	if err != nil {
		p.result.Error = err.Error()
	}
	if p.result.FinalMessage == "" {
		p.result.FinalMessage = p.text.String()
	}
	p.result.DurationMS = p.opts.Now().Sub(p.startTime).Milliseconds()
}

// Result returns a copy of the accumulated result.
func (p *Printer) Result() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := *p.result
	out.ToolCalls = append([]ToolCall(nil), p.result.ToolCalls...)
	return &out
}

// PrintFinalResult prints the result document in json format.
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}
	data, err := json.MarshalIndent(p.Result(), "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

func isImportantEvent(t runner.EventType) bool {
	switch t {
	case runner.EventReasoningDelta, runner.EventStepFinish:
		return false
	default:
		return true
	}
}

// outputMessage reads ok and outputMessage from a tool output.
func outputMessage(output any) (ok bool, message string) {
	switch o := output.(type) {
	case types.ToolOutput:
		return o.OK, o.OutputMessage
	case *types.ToolOutput:
		if o != nil {
			return o.OK, o.OutputMessage
		}
	case map[string]any:
		ok, _ = o["ok"].(bool)
		message, _ = o["outputMessage"].(string)
		return ok, message
	}
	return true, ""
}

func toolMeta(output any) map[string]any {
	switch o := output.(type) {
	case types.ToolOutput:
		return o.Meta
	case *types.ToolOutput:
		if o != nil {
			return o.Meta
		}
	case map[string]any:
		meta, _ := o["meta"].(map[string]any)
		return meta
	}
	return nil
}

// toolStatus summarizes a tool result as "result" or "failed" plus notable
// meta (exit code, truncation, artifact).
func toolStatus(output any) (status, detail string) {
	ok, _ := outputMessage(output)
	status = "result"
	if !ok {
		status = "failed"
	}

	meta := toolMeta(output)
	var parts []string
	if code, isNum := asNumber(meta["exitCode"]); isNum {
		parts = append(parts, fmt.Sprintf("exit=%d", code))
	}
	if truncated, _ := meta["truncated"].(bool); truncated {
		parts = append(parts, "truncated")
	}
	if ref := artifactPath(meta["artifact"]); ref != "" {
		parts = append(parts, "artifact="+ref)
	}
	if len(parts) == 0 {
		return status, ""
	}
	return status, " (" + strings.Join(parts, ", ") + ")"
}

func asNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func artifactPath(v any) string {
	switch ref := v.(type) {
	case types.ArtifactReference:
		return ref.RelativePath
	case *types.ArtifactReference:
		if ref != nil {
			return ref.RelativePath
		}
	case map[string]any:
		path, _ := ref["relativePath"].(string)
		return path
	}
	return ""
}

func errorMessage(err *runner.SerializedError) string {
	if err == nil {
		return "unknown error"
	}
	return err.Message
}

func rawInput(input json.RawMessage) any {
	if len(input) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return string(input)
	}
	return v
}

func formatUsage(u types.Usage) string {
	return fmt.Sprintf("(input: %d tokens, output: %d tokens)", types.Value(u.InputTokens), types.Value(u.OutputTokens))
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
