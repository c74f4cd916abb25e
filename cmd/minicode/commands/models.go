package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/minicode/internal/config"
	"github.com/opencode-ai/minicode/internal/provider"
	"github.com/opencode-ai/minicode/pkg/types"
)

var modelsCmd = &cobra.Command{
	Use:   "models [provider]",
	Short: "List configured providers and models",
	Long: `List the providers and models from configuration. The default
runtime is marked with *.

Examples:
  minicode models              # List all models
  minicode models anthropic    # List only Anthropic models`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(cwdFlag)
	if err != nil {
		return err
	}

	cfg, _, err := config.Load(config.Options{CWD: workDir})
	if err != nil {
		return err
	}

	var providerFilter types.ProviderID
	if len(args) > 0 {
		if providerFilter, err = parseProvider(args[0]); err != nil {
			return err
		}
	}

	catalog := provider.Catalog(cfg)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tMODEL\tDEFAULT\t")
	for _, p := range catalog.Providers {
		if providerFilter != "" && p.ID != providerFilter {
			continue
		}
		for _, m := range p.Models {
			mark := ""
			if p.ID == catalog.Default.Provider && m == catalog.Default.Model {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", p.ID, m, mark)
		}
	}
	return w.Flush()
}
