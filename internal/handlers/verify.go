package handlers

import (
	"fmt"

	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/proof"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Verifier runs every registered proof view and maps its violation rows to
// diagnostics via the configured validation policy (§4.8). Proofs and the
// severity policy are resolved once per model/config load, so this is a
// constructor closing over them rather than a zero-argument handler — the
// orchestrator's Hook signature carries no slot for either.
func Verifier(proofs *proof.Registry, cfg *config.Config) orchestrator.Handler {
	return orchestrator.Handler{
		Name: "verifier",
		OnVerify: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			for _, p := range proofs.All() {
				severity := cfg.SeverityFor(p.PolicyKey)
				if severity == diagnostics.SeverityIgnore {
					continue
				}

				rows, err := store.QueryAll(p.Query)
				if err != nil {
					return fmt.Errorf("verifier: running proof %q: %w", p.PolicyKey, err)
				}

				for _, row := range rows {
					diags.Add(diagnostics.Diagnostic{
						Severity:  severity,
						PolicyKey: p.PolicyKey,
						Phase:     "VERIFY",
						Handler:   "verifier",
						Message:   row.String("message"),
						File:      row.String("file"),
						Line:      int(row.Int64("line")),
					})
				}
			}
			return nil
		},
	}
}
