package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List loaded plugins, tools and actions",
	Args:  cobra.NoArgs,
	RunE:  runPlugins,
}

func runPlugins(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	plugins := a.service.Plugins()
	fmt.Fprintln(w, "PLUGIN\tVERSION\tREFERENCE\t")
	if len(plugins) == 0 {
		fmt.Fprintln(w, "(none)\t\t\t")
	}
	for _, p := range plugins {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", p.ID, p.Version, p.NormalizedReference)
	}

	fmt.Fprintln(w, "\t\t\t")
	fmt.Fprintln(w, "TOOL\tDESCRIPTION\t\t")
	tools := a.service.Tools()
	for _, name := range tools.Names() {
		fmt.Fprintf(w, "%s\t%s\t\t\n", name, firstLine(tools[name].Description()))
	}

	fmt.Fprintln(w, "\t\t\t")
	fmt.Fprintln(w, "ACTION\tALIASES\tSOURCE\t")
	for _, action := range a.service.Actions() {
		fmt.Fprintf(w, "/%s\t%s\t%s\t\n", action.ID, strings.Join(action.Aliases, ","), action.SourcePluginID)
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
