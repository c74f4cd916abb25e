package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/minicode/internal/headless"
	"github.com/opencode-ai/minicode/pkg/types"
)

var (
	runSession      string
	runNew          bool
	runProvider     string
	runModel        string
	runContinue     bool
	runStdin        bool
	runFiles        []string
	runOutputFormat string
	runTimeout      string
	runQuiet        bool
	runVerbose      bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run a single prompt and exit",
	Long: `Run a single prompt against a session and print the streamed turn.

Examples:
  minicode run "Fix the bug in main.go"
  minicode run --provider openai --model gpt-4o "Explain this code"
  minicode run -c "Now add tests for what you just implemented"
  minicode run --session refactor --new "Start the refactor"
  echo "Fix linting errors" | minicode run --stdin
  minicode run -o jsonl "Implement feature X" | jq -r '.type'`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session id to continue")
	runCmd.Flags().BoolVar(&runNew, "new", false, "Create the --session id when it does not exist")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Provider for a new session")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")

	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read prompt from stdin")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach as context")

	runCmd.Flags().StringVarP(&runOutputFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	runCmd.Flags().StringVarP(&runTimeout, "timeout", "t", "30m", "Maximum execution time (e.g., 5m, 1h)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print assistant text")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show reasoning and step events")
}

func runRun(cmd *cobra.Command, args []string) error {
	timeout, err := time.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	format, ok := headless.ParseOutputFormat(strings.ToLower(runOutputFormat))
	if !ok {
		return fmt.Errorf("invalid output format: %s (must be text, json, or jsonl)", runOutputFormat)
	}

	provider, err := parseProvider(runProvider)
	if err != nil {
		return err
	}
	if runNew && runSession == "" {
		return fmt.Errorf("--new requires --session")
	}

	prompt := strings.Join(args, " ")
	if prompt == "" && !runStdin {
		return fmt.Errorf("prompt required. Provide it as arguments or with --stdin")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	cfg := &headless.Config{
		Prompt:        prompt,
		WorkDir:       a.cwd,
		OutputFormat:  format,
		Timeout:       timeout,
		ReadStdin:     runStdin,
		SessionID:     runSession,
		CreateSession: runNew,
		ContinueLast:  runContinue,
		Files:         runFiles,
		Quiet:         runQuiet,
		Verbose:       runVerbose,
		NoColor:       noColor,
		Runtime:       types.RuntimeSelection{Provider: provider, Model: runModel},
	}

	result, err := headless.NewRunner(cfg, a.service).Run(ctx, os.Stdout)
	a.Close()

	if result != nil && result.ExitCode != headless.ExitSuccess {
		if err != nil && format == headless.OutputText {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(int(result.ExitCode))
	}
	return err
}

// parseProvider validates an optional --provider value.
func parseProvider(value string) (types.ProviderID, error) {
	if value == "" {
		return "", nil
	}
	id := types.ProviderID(strings.TrimSpace(value))
	if !id.Valid() {
		return "", fmt.Errorf("unknown provider '%s'", value)
	}
	return id, nil
}
