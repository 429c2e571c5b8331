// Command speccompiler is the CLI entrypoint (§6): it wires the config
// loader, Spec-IR store, build cache, type registry, and pipeline
// orchestrator together behind three subcommands — build, verify, and
// clean-cache.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// rootOpts holds the persistent flags shared by every subcommand.
type rootOpts struct {
	configPath string
	verbose    bool
}

func main() {
	opts := &rootOpts{}

	root := &cobra.Command{
		Use:   "speccompiler",
		Short: "Compile Markdown specification documents into a validated, multi-format output set",
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "speccompiler.yaml", "project configuration file path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "force debug-level logging")

	root.AddCommand(newBuildCmd(opts), newVerifyCmd(opts), newCleanCacheCmd(opts))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
