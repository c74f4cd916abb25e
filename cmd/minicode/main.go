// Package main provides the entry point for the minicode CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/minicode/cmd/minicode/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
