// Package chat runs the interactive line REPL: prompts become turns on the
// current session, slash commands go to the command router, and prompts
// typed while a turn runs are queued.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/command"
	"github.com/opencode-ai/minicode/internal/headless"
	"github.com/opencode-ai/minicode/internal/plugin"
	"github.com/opencode-ai/minicode/internal/runner"
	"github.com/opencode-ai/minicode/internal/session"
	"github.com/opencode-ai/minicode/pkg/types"
)

// Service is the part of session.Service the REPL needs.
type Service interface {
	Open(ctx context.Context, opts session.OpenOptions) (*session.Handle, error)
	List(ctx context.Context) ([]types.SessionSummary, error)
	Catalog() types.RuntimeCatalog
	Actions() []plugin.ComposedAction
}

// Options configures an App.
type Options struct {
	Service Service
	// Session is the session the REPL starts on. The App owns it.
	Session *session.Handle
	In      io.Reader
	Out     io.Writer
	NoColor bool
	Logger  zerolog.Logger
}

// App is one interactive REPL. It implements command.Host.
type App struct {
	service Service
	in      io.Reader
	out     *syncWriter
	noColor bool
	logger  zerolog.Logger

	router *command.Router
	queue  *command.TurnQueue

	mu     sync.Mutex
	handle *session.Handle
	active *runner.Turn

	turns    sync.WaitGroup
	exit     chan struct{}
	exitOnce sync.Once
}

var _ command.Host = (*App)(nil)

// New creates an App on opts.Session.
func New(opts Options) (*App, error) {
	if opts.Service == nil {
		return nil, errors.New("chat: service is required")
	}
	if opts.Session == nil {
		return nil, errors.New("chat: session is required")
	}
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("chat: input and output are required")
	}

	a := &App{
		service: opts.Service,
		in:      opts.In,
		out:     &syncWriter{w: opts.Out},
		noColor: opts.NoColor,
		logger:  opts.Logger,
		queue:   command.NewTurnQueue(),
		handle:  opts.Session,
		exit:    make(chan struct{}),
	}
	router, err := command.NewRouter(a, opts.Service.Actions())
	if err != nil {
		return nil, err
	}
	a.router = router
	return a, nil
}

// Router returns the command router.
func (a *App) Router() *command.Router { return a.router }

// Run reads lines until input ends, an exit is requested or ctx is done.
// It returns once every started and queued turn has settled.
func (a *App) Run(ctx context.Context) error {
	a.Print(fmt.Sprintf("[session] %s\n", label(a.Current())))
	a.Print("Type a prompt or /help.\n")

	lines := make(chan string)
	go a.readLines(lines)

	for {
		select {
		case <-ctx.Done():
			a.RequestExit()
			a.turns.Wait()
			a.closeSession()
			return ctx.Err()

		case <-a.exit:
			a.turns.Wait()
			a.closeSession()
			return nil

		case line, ok := <-lines:
			if !ok {
				a.turns.Wait()
				a.closeSession()
				return nil
			}
			a.handleLine(ctx, line)
		}
	}
}

func (a *App) readLines(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-a.exit:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn().Err(err).Msg("reading input")
	}
}

func (a *App) handleLine(ctx context.Context, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, "/") {
		a.router.HandleSlash(ctx, trimmed)
		return
	}

	decision := a.queue.BeginOrQueue(trimmed)
	if decision.Type == command.DecisionQueued {
		a.Print(fmt.Sprintf("[queued] position=%d pending=%d\n", decision.Position, a.queue.PendingCount()))
		return
	}
	a.startTurn(ctx, decision.Prompt)
}

// Interrupt aborts the active turn, or requests exit when there is none.
func (a *App) Interrupt() {
	if !a.AbortTurn() {
		a.RequestExit()
	}
}

func (a *App) startTurn(ctx context.Context, prompt string) {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()

	a.Print(fmt.Sprintf("\n> %s\n", prompt))
	turn, err := handle.Send(ctx, prompt)
	if err != nil {
		a.Print(fmt.Sprintf("[error] %s\n", err.Error()))
		a.settle(ctx)
		return
	}

	a.mu.Lock()
	a.active = turn
	a.mu.Unlock()

	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		a.render(ctx, turn)

		a.mu.Lock()
		a.active = nil
		a.mu.Unlock()

		if a.exiting() {
			a.queue.ClearPending()
			a.queue.SettleActive()
			return
		}
		a.settle(ctx)
	}()
}

func (a *App) render(ctx context.Context, turn *runner.Turn) {
	drain := context.WithoutCancel(ctx)
	printer := headless.NewPrinter(a.out, headless.OutputText, headless.PrinterOptions{NoColor: a.noColor})
	for ev, err := range turn.Events(drain) {
		if err != nil {
			break
		}
		printer.Render(ev)
	}
	resp, err := turn.Response(drain)
	if err != nil {
		printer.RenderError(err)
		return
	}
	printer.Finish(resp)
}

// settle starts the next queued prompt, if any.
func (a *App) settle(ctx context.Context) {
	next, ok := a.queue.SettleActive()
	if !ok {
		return
	}
	a.Print(fmt.Sprintf("[dequeued] pending=%d\n", a.queue.PendingCount()))
	a.startTurn(ctx, next)
}

func (a *App) exiting() bool {
	select {
	case <-a.exit:
		return true
	default:
		return false
	}
}

func (a *App) closeSession() {
	a.mu.Lock()
	handle := a.handle
	a.mu.Unlock()
	handle.Close()
}

// Catalog implements command.Host.
func (a *App) Catalog() types.RuntimeCatalog { return a.service.Catalog() }

// ListSessions implements command.Host.
func (a *App) ListSessions(ctx context.Context) ([]types.SessionSummary, error) {
	return a.service.List(ctx)
}

// SwitchSession implements command.Host.
func (a *App) SwitchSession(ctx context.Context, req command.OpenRequest) (command.SessionInfo, error) {
	next, err := a.service.Open(ctx, session.OpenOptions{
		ID:              req.ID,
		CreateIfMissing: req.CreateIfMissing,
		Runtime:         req.Runtime,
	})
	if err != nil {
		return command.SessionInfo{}, err
	}

	a.mu.Lock()
	prev := a.handle
	a.handle = next
	a.mu.Unlock()

	if prev != nil && prev != next {
		prev.Close()
	}
	a.logger.Debug().Str("session", next.ID()).Msg("switched session")
	return info(next), nil
}

// Current implements command.Host.
func (a *App) Current() command.SessionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return info(a.handle)
}

// Print implements command.Host.
func (a *App) Print(text string) {
	_, _ = io.WriteString(a.out, text)
}

// TurnActive implements command.Host.
func (a *App) TurnActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

// AbortTurn implements command.Host.
func (a *App) AbortTurn() bool {
	a.mu.Lock()
	turn := a.active
	a.mu.Unlock()
	if turn == nil {
		return false
	}
	turn.Abort()
	return true
}

// RequestExit implements command.Host. An active turn is aborted and the
// queue is dropped.
func (a *App) RequestExit() {
	a.exitOnce.Do(func() {
		close(a.exit)
		a.queue.ClearPending()
		a.AbortTurn()
	})
}

func info(h *session.Handle) command.SessionInfo {
	sel := h.Runtime()
	return command.SessionInfo{ID: h.ID(), Provider: sel.Provider, Model: sel.Model}
}

func label(s command.SessionInfo) string {
	return fmt.Sprintf("%s (%s/%s)", s.ID, s.Provider, s.Model)
}

// syncWriter serializes writes from the input loop and turn renderers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
