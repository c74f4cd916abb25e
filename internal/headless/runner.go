package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/session"
	"github.com/opencode-ai/minicode/internal/storage"
	"github.com/opencode-ai/minicode/pkg/types"
)

// Sessions is the part of session.Service the runner needs.
type Sessions interface {
	Open(ctx context.Context, opts session.OpenOptions) (*session.Handle, error)
	List(ctx context.Context) ([]types.SessionSummary, error)
}

// Runner executes a single prompt against a session and exits.
type Runner struct {
	config   *Config
	sessions Sessions
	stdin    io.Reader
	printer  *Printer
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config, sessions Sessions) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runner{config: cfg, sessions: sessions, stdin: os.Stdin}
}

// WithStdin replaces the reader used when ReadStdin is set.
func (r *Runner) WithStdin(stdin io.Reader) *Runner {
	r.stdin = stdin
	return r
}

// Run executes the prompt and returns the result. The returned error is
// non-nil whenever Result.ExitCode is not ExitSuccess.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	r.printer = NewPrinter(writer, r.config.OutputFormat, PrinterOptions{
		Quiet:   r.config.Quiet,
		Verbose: r.config.Verbose,
		NoColor: r.config.NoColor,
	})

	prompt, err := r.getPrompt()
	if err != nil {
		return r.fail("error", ExitInvalidInput, err)
	}
	if prompt == "" {
		return r.fail("error", ExitInvalidInput, errors.New("prompt is required"))
	}

	handle, err := r.openSession(ctx)
	if err != nil {
		code := ExitError
		if errors.Is(err, storage.ErrNotFound) {
			code = ExitSessionNotFound
		}
		return r.fail("error", code, err)
	}
	defer handle.Close()
	r.printer.SetSession(handle.ID(), handle.Runtime())

	runCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	turn, err := handle.Send(runCtx, prompt)
	if err != nil {
		return r.fail("error", ExitError, err)
	}

	for ev, err := range turn.Events(context.WithoutCancel(runCtx)) {
		if err != nil {
			break
		}
		r.printer.Render(ev)
	}

	resp, err := turn.Response(context.WithoutCancel(runCtx))
	if err != nil {
		r.printer.RenderError(err)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return r.fail("timeout", ExitTimeout, err)
		}
		return r.fail("error", ExitError, err)
	}
	r.printer.Finish(resp)

	if resp.FinishReason == runner.FinishAbort {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return r.fail("timeout", ExitTimeout, fmt.Errorf("timed out after %s", r.config.Timeout))
		}
		return r.fail("aborted", ExitAborted, errors.New("turn aborted"))
	}

	r.printer.SetResult("success", ExitSuccess, nil)
	r.printer.PrintFinalResult()
	return r.printer.Result(), nil
}

func (r *Runner) fail(status string, code ExitCode, err error) (*Result, error) {
	r.printer.SetResult(status, code, err)
	r.printer.PrintFinalResult()
	return r.printer.Result(), err
}

// getPrompt joins the prompt, stdin and attached files.
func (r *Runner) getPrompt() (string, error) {
	var prompt string

	if r.config.ReadStdin && r.stdin != nil {
		data, err := io.ReadAll(r.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		prompt = strings.TrimRight(string(data), "\n")
	}

	if r.config.Prompt != "" {
		if prompt != "" {
			prompt = r.config.Prompt + "\n\n" + prompt
		} else {
			prompt = r.config.Prompt
		}
	}

	if len(r.config.Files) > 0 {
		var fileContent strings.Builder
		for _, file := range r.config.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("failed to read file %s: %w", file, err)
			}
			fmt.Fprintf(&fileContent, "\n\n--- File: %s ---\n%s", file, string(content))
		}
		prompt += fileContent.String()
	}

	return strings.TrimSpace(prompt), nil
}

// openSession continues an existing session or creates a new one.
func (r *Runner) openSession(ctx context.Context) (*session.Handle, error) {
	noCreate := false
	if r.config.SessionID != "" {
		create := r.config.CreateSession
		return r.sessions.Open(ctx, session.OpenOptions{
			ID:              r.config.SessionID,
			CreateIfMissing: &create,
			CWD:             r.config.WorkDir,
			Runtime:         r.config.Runtime,
		})
	}

	if r.config.ContinueLast {
		summaries, err := r.sessions.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(summaries) > 0 {
			return r.sessions.Open(ctx, session.OpenOptions{
				ID:              summaries[0].ID,
				CreateIfMissing: &noCreate,
				Runtime:         types.RuntimeSelection{Model: r.config.Runtime.Model},
			})
		}
	}

	return r.sessions.Open(ctx, session.OpenOptions{
		CWD:     r.config.WorkDir,
		Runtime: r.config.Runtime,
	})
}
