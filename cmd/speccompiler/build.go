package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/logging"
	"github.com/oxspec/speccompiler/internal/orchestrator"
)

func newBuildCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the full five-phase pipeline and emit configured output formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(opts.configPath, opts.verbose, true)
			if err != nil {
				return err
			}
			defer e.Close()

			contexts, err := ingestDocuments(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			reportIngest(e, contexts)

			if err := e.orch.RunBuild(e.store, contexts, e.diags); err != nil {
				reportDiagnostics(e.diags)
				return err
			}
			reportDiagnostics(e.diags)
			if code := e.diags.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func reportIngest(e *engine, contexts []*orchestrator.Context) {
	e.logger.Info("documents discovered", logging.PhaseFields("INGEST", "", 0, 0)...)
	if !isTTY() {
		return
	}
	bar := progressbar.Default(int64(len(contexts)), "ingesting")
	for range contexts {
		_ = bar.Add(1)
	}
	_ = bar.Finish()
}

func reportDiagnostics(diags *diagnostics.Collector) {
	for _, d := range diags.All() {
		fmt.Fprintln(os.Stderr, d.String())
	}
}
