package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oxspec/speccompiler/internal/orchestrator"
)

// verifyPhases are every phase verify runs, fixed order, stopping before
// EMIT — no output writer is registered for this subcommand at all, so
// running EMIT here would be a silent no-op rather than a meaningful skip.
var verifyPhases = []orchestrator.Phase{
	orchestrator.PhaseInitialize,
	orchestrator.PhaseAnalyze,
	orchestrator.PhaseTransform,
	orchestrator.PhaseVerify,
}

func newVerifyCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run INITIALIZE through VERIFY and report diagnostics without writing output",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(opts.configPath, opts.verbose, false)
			if err != nil {
				return err
			}
			defer e.Close()

			contexts, err := ingestDocuments(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			reportIngest(e, contexts)

			for _, phase := range verifyPhases {
				if err := e.orch.RunPhase(phase, e.store, contexts, e.diags); err != nil {
					reportDiagnostics(e.diags)
					return err
				}
			}

			reportDiagnostics(e.diags)
			if code := e.diags.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}
