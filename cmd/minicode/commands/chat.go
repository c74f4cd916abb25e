package commands

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/minicode/internal/chat"
	"github.com/opencode-ai/minicode/internal/session"
	"github.com/opencode-ai/minicode/pkg/types"
)

var (
	chatSession    string
	chatNewSession bool
	chatProvider   string
	chatModel      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Start an interactive line-based session.

Type a prompt to run a turn. Prompts typed while a turn runs are queued.
Lines starting with / are commands; run /help to list them. Ctrl+C aborts
the running turn, or exits when idle.

Examples:
  minicode chat
  minicode chat --session refactor
  minicode chat --session refactor --new-session --provider openai`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Resume a session by id")
	chatCmd.Flags().BoolVar(&chatNewSession, "new-session", false, "Create the --session id when it does not exist")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "Runtime provider override for new sessions")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Runtime model override")
}

func runChat(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(chatProvider)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := session.OpenOptions{
		ID:      chatSession,
		Runtime: types.RuntimeSelection{Provider: provider, Model: chatModel},
	}
	if chatSession != "" {
		create := chatNewSession
		opts.CreateIfMissing = &create
	}
	handle, err := a.service.Open(ctx, opts)
	if err != nil {
		return err
	}

	repl, err := chat.New(chat.Options{
		Service: a.service,
		Session: handle,
		In:      os.Stdin,
		Out:     os.Stdout,
		NoColor: noColor,
		Logger:  a.logger,
	})
	if err != nil {
		handle.Close()
		return fmt.Errorf("chat startup failed: %w", err)
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			repl.Interrupt()
		}
	}()

	return repl.Run(ctx)
}
