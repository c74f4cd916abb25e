package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/minicode/internal/command"
	"github.com/opencode-ai/minicode/internal/config"
	"github.com/opencode-ai/minicode/internal/event"
	"github.com/opencode-ai/minicode/internal/logging"
	"github.com/opencode-ai/minicode/internal/session"
)

// loadDotEnv reads .env from the working directory, if present.
func loadDotEnv() {
	dir, err := GetWorkDir(cwdFlag)
	if err != nil {
		return
	}
	path := dir + string(os.PathSeparator) + ".env"
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
	}
}

// app wires configuration, logging and the session service for one command.
type app struct {
	cwd     string
	cfg     *config.Config
	files   config.Files
	logger  zerolog.Logger
	service *session.Service

	logFile io.Closer
	unsub   func()
}

func newApp(ctx context.Context) (*app, error) {
	cwd, err := GetWorkDir(cwdFlag)
	if err != nil {
		return nil, err
	}

	a := &app{cwd: cwd}
	a.logger = a.openLogger()

	cfg, files, err := config.Load(config.Options{CWD: cwd})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cfg, a.files = cfg, files

	service, err := session.NewService(ctx, session.ServiceOptions{
		Config:         cfg,
		Files:          files,
		CWD:            cwd,
		BuiltinActions: command.BuiltinActions(),
		Logger:         a.logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service = service

	a.unsub, err = service.Bus().Subscribe(a.logEvent)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.logger.Debug().
		Str("cwd", cwd).
		Str("provider", string(cfg.Provider)).
		Str("model", cfg.Model).
		Int("plugins", len(service.Plugins())).
		Msg("minicode started")
	return a, nil
}

// openLogger logs to stderr with --print-logs and to the log file otherwise.
func (a *app) openLogger() zerolog.Logger {
	level := logging.ParseLevel(logLevel)
	if printLogs {
		return logging.New(logging.Config{Level: level, Output: os.Stderr, Pretty: true})
	}

	f, err := logging.OpenFile(config.GetPaths().LogDir())
	if err != nil {
		return logging.Nop()
	}
	a.logFile = f
	return logging.New(logging.Config{Level: level, Output: f})
}

func (a *app) logEvent(ev event.Event) {
	a.logger.Debug().
		Str("event", string(ev.Type)).
		Str("id", ev.ID).
		RawJSON("data", ev.Data).
		Msg("bus event")
}

// Close releases the service and the log file.
func (a *app) Close() {
	if a.unsub != nil {
		a.unsub()
	}
	if a.service != nil {
		if err := a.service.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing service")
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
