package main

import (
	"context"
	"fmt"

	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/renderer"
	"github.com/oxspec/speccompiler/internal/specir"
)

// renderTarget is the kind of row a render task was collected from, needed
// to decide which table the task's result is written back into.
type renderTarget struct {
	kind string // "float" or "view"
}

// ExternalRenderHandler wires internal/renderer into TRANSFORM (§4.9):
// it collects every float and view whose type requires external render,
// dispatches them through a bounded worker pool, and writes the resulting
// artifact path back into resolved_ast. It lives here rather than in
// internal/handlers because it is the only TRANSFORM participant with a
// dependency on an OS-process worker pool, resolved once per build by this
// command (§9 "attach per-build state to the build engine instance" — the
// target index below is local to one OnTransform call, never package
// state, so re-entrant builds within one process stay clean).
func ExternalRenderHandler(cfg *config.Config, pool *renderer.Pool) orchestrator.Handler {
	return orchestrator.Handler{
		Name: "external-renderer",
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tasks, targets, err := collectRenderTasks(store, cfg)
			if err != nil {
				return fmt.Errorf("external-renderer: %w", err)
			}
			if len(tasks) == 0 {
				return nil
			}

			results := pool.Run(context.Background(), tasks)

			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, res := range results {
				if res.Err != nil {
					diags.Add(diagnostics.Diagnostic{
						Severity: diagnostics.SeverityError,
						Phase:    "TRANSFORM",
						Handler:  "external-renderer",
						Message:  fmt.Sprintf("rendering %s (task %d): %v", res.Task.TypeRef, res.Task.ID, res.Err),
					})
					continue
				}
				if err := applyRenderResult(tx, res, targets[res.Task.ID]); err != nil {
					return fmt.Errorf("external-renderer: %w", err)
				}
			}

			return tx.Commit()
		},
	}
}

// collectRenderTasks gathers every float/view row whose type requires
// external render and has not yet been resolved, pairing each with a
// renderer.Descriptor resolved from cfg.Renderers by type_ref. Rows for a
// type with no configured descriptor are left for float_render_failure to
// catch in VERIFY rather than silently skipped here.
func collectRenderTasks(store *specir.Store, cfg *config.Config) ([]renderer.Task, map[int64]renderTarget, error) {
	var tasks []renderer.Task
	targets := make(map[int64]renderTarget)

	floatRows, err := store.QueryAll(`
		SELECT f.id, f.type_ref, f.raw_content
		FROM spec_floats f
		JOIN float_types ft ON f.type_ref = ft.id
		WHERE ft.needs_external_render = 1 AND f.resolved_ast IS NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("collecting float render tasks: %w", err)
	}
	for _, row := range floatRows {
		typeRef := row.String("type_ref")
		descriptor, ok := cfg.Renderers[typeRef]
		if !ok {
			continue
		}
		id := row.Int64("id")
		targets[id] = renderTarget{kind: "float"}
		tasks = append(tasks, renderer.Task{
			ID:         id,
			TypeRef:    typeRef,
			RawContent: row.String("raw_content"),
			Descriptor: descriptor,
		})
	}

	viewRows, err := store.QueryAll(`
		SELECT v.id, v.view_type_ref, v.raw_ast
		FROM spec_views v
		JOIN view_types vt ON v.view_type_ref = vt.id
		WHERE vt.needs_external_render = 1 AND v.resolved_ast IS NULL`)
	if err != nil {
		return nil, nil, fmt.Errorf("collecting view render tasks: %w", err)
	}
	for _, row := range viewRows {
		typeRef := row.String("view_type_ref")
		descriptor, ok := cfg.Renderers[typeRef]
		if !ok {
			continue
		}
		id := row.Int64("id")
		targets[id] = renderTarget{kind: "view"}
		tasks = append(tasks, renderer.Task{
			ID:         id,
			TypeRef:    typeRef,
			RawContent: row.String("raw_ast"),
			Descriptor: descriptor,
		})
	}

	return tasks, targets, nil
}

func applyRenderResult(tx *specir.Tx, res renderer.Result, target renderTarget) error {
	switch target.kind {
	case "float":
		return tx.UpdateFloatResolvedAST(res.Task.ID, res.OutputPath)
	case "view":
		return tx.UpdateViewResolved(res.Task.ID, res.OutputPath, "")
	default:
		return fmt.Errorf("no render target recorded for task %d", res.Task.ID)
	}
}
