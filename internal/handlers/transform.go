package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/pandocast"
	"github.com/oxspec/speccompiler/internal/specir"
)

// NewTransformHandlers returns the built-in TRANSFORM-phase handlers
// (§4.7). External render dispatch is registered separately by the
// command that wires internal/renderer, since TRANSFORM's in-process
// handlers have no dependency on the external worker pool.
func NewTransformHandlers() []orchestrator.Handler {
	return []orchestrator.Handler{
		FloatNumberer(),
		InternalFloatTransformer(),
		ViewMaterializer(),
		ObjectRenderer(),
		SpecificationHeaderRenderer(),
		LinkRewriter(),
	}
}

// FloatNumberer assigns sequential numbers to floats, scoped per
// (specification, counter_group) in document order (§4.7 "Float
// numbering").
func FloatNumberer() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "float-numberer",
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT f.id, ft.counter_group
					 FROM spec_floats f
					 JOIN float_types ft ON ft.id = f.type_ref
					 WHERE f.specification_id = ?
					 ORDER BY f.from_file, f.file_seq`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("float-numberer: %w", err)
				}

				counters := map[string]int{}
				for _, row := range rows {
					group := row.String("counter_group")
					counters[group]++
					if err := tx.UpdateFloatNumber(row.Int64("id"), counters[group]); err != nil {
						return fmt.Errorf("float-numberer: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// InternalFloatTransformer builds a resolved AST (a caption line wrapping
// the raw content) for every float type that does not require an external
// renderer (§4.7 "Internal float transformer"). Externally-rendered
// floats (needs_external_render = true) are left for the renderer
// pipeline to fill resolved_ast once a render completes.
func InternalFloatTransformer() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "internal-float-transformer",
		Prerequisites: []string{"float-numberer"},
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT f.id, f.number, f.label, f.raw_content, ft.caption_prefix
					 FROM spec_floats f
					 JOIN float_types ft ON ft.id = f.type_ref
					 WHERE f.specification_id = ? AND ft.needs_external_render = 0`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("internal-float-transformer: %w", err)
				}

				for _, row := range rows {
					caption := fmt.Sprintf("%s %d", row.String("caption_prefix"), row.Int64("number"))
					resolved := []pandocast.Node{
						{Type: pandocast.Para, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: caption}}},
						{Type: pandocast.CodeBlock, Text: row.String("raw_content")},
					}
					astBytes, err := pandocast.MarshalBlocks(resolved)
					if err != nil {
						return fmt.Errorf("internal-float-transformer: %w", err)
					}
					if err := tx.UpdateFloatResolvedAST(row.Int64("id"), string(astBytes)); err != nil {
						return fmt.Errorf("internal-float-transformer: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// tocEntry, traceEntry, and abbrevEntry are the JSON shapes each
// materializer writes into spec_views.resolved_data — plain structs so
// EMIT can unmarshal and render them without re-deriving the query.
type tocEntry struct {
	Label string `json:"label"`
	PID   string `json:"pid"`
	Title string `json:"title"`
	Level int    `json:"level"`
}

type floatListEntry struct {
	Label   string `json:"label"`
	Number  int    `json:"number"`
	Caption string `json:"caption"`
}

type traceEntry struct {
	SourcePID string `json:"source_pid"`
	TargetPID string `json:"target_pid"`
	Relation  string `json:"relation"`
}

type abbrevEntry struct {
	PID   string `json:"pid"`
	Title string `json:"title"`
	Value string `json:"value"`
}

// ViewMaterializer dispatches each view instance to its type's
// materializer (§4.7 "View materializer"), matching the kinds
// models/default/default.go already names: toc, list_by_counter_group,
// abbrevs, trace_matrix.
func ViewMaterializer() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "view-materializer",
		Prerequisites: []string{"float-numberer"},
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT v.id, vt.materializer, vt.subtype_ref
					 FROM spec_views v
					 JOIN view_types vt ON vt.id = v.view_type_ref
					 WHERE v.specification_id = ?`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("view-materializer: %w", err)
				}

				for _, row := range rows {
					var data []byte
					var buildErr error
					switch row.String("materializer") {
					case "toc":
						data, buildErr = materializeTOC(store, ctx.SpecificationID)
					case "list_by_counter_group":
						data, buildErr = materializeFloatList(store, ctx.SpecificationID, row.String("subtype_ref"))
					case "abbrevs":
						data, buildErr = materializeAbbrevs(store, ctx.SpecificationID)
					case "trace_matrix":
						data, buildErr = materializeTraceMatrix(store, ctx.SpecificationID)
					default:
						diags.Add(diagnostics.Diagnostic{
							Severity: diagnostics.SeverityWarn, PolicyKey: "view_materialization_failure",
							Phase: "TRANSFORM", Handler: "view-materializer",
							Message: fmt.Sprintf("unknown materializer %q", row.String("materializer")),
						})
						continue
					}
					if buildErr != nil {
						diags.Add(diagnostics.Diagnostic{
							Severity: diagnostics.SeverityWarn, PolicyKey: "view_materialization_failure",
							Phase: "TRANSFORM", Handler: "view-materializer", Message: buildErr.Error(),
						})
						continue
					}
					if err := tx.UpdateViewResolved(row.Int64("id"), "", string(data)); err != nil {
						return fmt.Errorf("view-materializer: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

func materializeTOC(store *specir.Store, specificationID int64) ([]byte, error) {
	rows, err := store.QueryAll(
		`SELECT label, pid, title, level FROM spec_objects
		 WHERE specification_id = ? ORDER BY from_file, file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, err
	}
	entries := make([]tocEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, tocEntry{
			Label: row.String("label"), PID: row.String("pid"),
			Title: row.String("title"), Level: int(row.Int64("level")),
		})
	}
	return json.Marshal(entries)
}

func materializeFloatList(store *specir.Store, specificationID int64, subtypeRef string) ([]byte, error) {
	counterGroupRow, err := store.QueryOne(`SELECT counter_group FROM float_types WHERE id = ?`, subtypeRef)
	if err != nil {
		return nil, err
	}
	if counterGroupRow == nil {
		return nil, fmt.Errorf("list_by_counter_group: unknown float type %q", subtypeRef)
	}
	counterGroup := counterGroupRow.String("counter_group")

	rows, err := store.QueryAll(
		`SELECT f.label, f.number, ft.caption_prefix
		 FROM spec_floats f
		 JOIN float_types ft ON ft.id = f.type_ref
		 WHERE f.specification_id = ? AND ft.counter_group = ?
		 ORDER BY f.from_file, f.file_seq`,
		specificationID, counterGroup,
	)
	if err != nil {
		return nil, err
	}
	entries := make([]floatListEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, floatListEntry{
			Label:   row.String("label"),
			Number:  int(row.Int64("number")),
			Caption: fmt.Sprintf("%s %d", row.String("caption_prefix"), row.Int64("number")),
		})
	}
	return json.Marshal(entries)
}

// materializeAbbrevs collects every object carrying an `abbr` attribute
// (§3.1 defines no fixed abbreviation attribute name; this is a
// resolution of that silence, not a literal spec requirement — see
// DESIGN.md's Open Question resolutions).
func materializeAbbrevs(store *specir.Store, specificationID int64) ([]byte, error) {
	rows, err := store.QueryAll(
		`SELECT o.pid, o.title, av.raw_value
		 FROM spec_attribute_values av
		 JOIN spec_objects o ON o.id = av.owner_object_id
		 WHERE av.specification_id = ? AND av.name = 'abbr'
		 ORDER BY o.from_file, o.file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, err
	}
	entries := make([]abbrevEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, abbrevEntry{PID: row.String("pid"), Title: row.String("title"), Value: row.String("raw_value")})
	}
	return json.Marshal(entries)
}

func materializeTraceMatrix(store *specir.Store, specificationID int64) ([]byte, error) {
	rows, err := store.QueryAll(
		`SELECT so.pid AS source_pid, to_.pid AS target_pid, r.type_ref
		 FROM spec_relations r
		 JOIN spec_objects so ON so.id = r.source_object_id
		 JOIN spec_objects to_ ON to_.id = r.target_object_id
		 WHERE r.specification_id = ? AND r.target_object_id IS NOT NULL
		 ORDER BY so.from_file, so.file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, err
	}
	entries := make([]traceEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, traceEntry{
			SourcePID: row.String("source_pid"), TargetPID: row.String("target_pid"), Relation: row.String("type_ref"),
		})
	}
	return json.Marshal(entries)
}

// ObjectRenderer runs each object type's render callback, merging header
// and body AST into the object's `ast` column (§4.7 "Object renderer").
// Lacking a per-model render-callback registry (no SPEC_FULL.md model
// contributes one yet), this built-in default simply re-serializes the
// already-parsed header node unchanged. The orchestrator rejects a second
// handler registered under the name "object-renderer", so this handler
// cannot be replaced by registering another one with the same name.
func ObjectRenderer() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "object-renderer",
		Prerequisites: []string{"internal-float-transformer"},
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(`SELECT id, ast FROM spec_objects WHERE specification_id = ?`, ctx.SpecificationID)
				if err != nil {
					return fmt.Errorf("object-renderer: %w", err)
				}
				for _, row := range rows {
					if err := tx.UpdateObjectAST(row.Int64("id"), row.String("ast")); err != nil {
						return fmt.Errorf("object-renderer: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// SpecificationHeaderRenderer writes the specification's title AST into
// header_ast (§4.7 "Specification header renderer"). INITIALIZE's
// specification parser already captured it; TRANSFORM re-persists it
// unchanged. As with ObjectRenderer, the orchestrator rejects a second
// handler registered under this name.
func SpecificationHeaderRenderer() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "specification-header-renderer",
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				row, err := store.QueryOne(`SELECT header_ast FROM specifications WHERE id = ?`, ctx.SpecificationID)
				if err != nil {
					return fmt.Errorf("specification-header-renderer: %w", err)
				}
				if row == nil {
					continue
				}
				if err := tx.UpdateSpecificationHeaderAST(ctx.SpecificationID, row.String("header_ast")); err != nil {
					return fmt.Errorf("specification-header-renderer: %w", err)
				}
			}
			return tx.Commit()
		},
	}
}

// LinkRewriter rewrites every resolved relation's raw link target into its
// anchor — `#<object label>` for an object, `#<float label>` for a float — back
// into the owning object's AST (§4.7 "Link rewriter"). Unresolved or
// ambiguous relations are left untouched; VERIFY reports those
// separately via `relation_unresolved`/`relation_ambiguous`.
func LinkRewriter() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "link-rewriter",
		Prerequisites: []string{"object-renderer"},
		OnTransform: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT r.id, r.source_object_id, r.raw_target, o.ast,
					        r.target_object_id, r.target_float_id, r.is_ambiguous,
					        tobj.pid AS target_pid, tobj.label AS target_object_label,
					        tf.label AS target_float_label
					 FROM spec_relations r
					 JOIN spec_objects o ON o.id = r.source_object_id
					 LEFT JOIN spec_objects tobj ON tobj.id = r.target_object_id
					 LEFT JOIN spec_floats tf ON tf.id = r.target_float_id
					 WHERE r.specification_id = ? AND r.is_ambiguous = 0
					   AND (r.target_object_id IS NOT NULL OR r.target_float_id IS NOT NULL)`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("link-rewriter: %w", err)
				}

				byObject := map[int64][]specir.Row{}
				for _, row := range rows {
					id := row.Int64("source_object_id")
					byObject[id] = append(byObject[id], row)
				}

				for objectID, objRows := range byObject {
					blocks, err := pandocast.ParseBlocks([]byte(objRows[0].String("ast")))
					if err != nil {
						continue
					}
					anchors := map[string]string{}
					for _, row := range objRows {
						rawTarget := row.String("raw_target")
						if row.Int64("target_object_id") != 0 {
							anchors[rawTarget] = "#" + row.String("target_object_label")
						}
						if row.Int64("target_float_id") != 0 {
							anchors[rawTarget] = "#" + row.String("target_float_label")
						}
					}
					rewriteLinks(blocks, anchors)
					astBytes, err := pandocast.MarshalBlocks(blocks)
					if err != nil {
						return fmt.Errorf("link-rewriter: %w", err)
					}
					if err := tx.UpdateObjectAST(objectID, string(astBytes)); err != nil {
						return fmt.Errorf("link-rewriter: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// rewriteLinks mutates every Link node in blocks whose selector-stripped
// text matches a key in anchors to point at that anchor instead.
func rewriteLinks(blocks []pandocast.Node, anchors map[string]string) {
	var walk func([]pandocast.Node)
	walk = func(nodes []pandocast.Node) {
		for i := range nodes {
			if nodes[i].Type == pandocast.Link {
				_, text := SplitSelector(nodes[i].Target)
				if anchor, ok := anchors[text]; ok {
					nodes[i].Target = anchor
				}
			}
			if len(nodes[i].Inlines) > 0 {
				walk(nodes[i].Inlines)
			}
		}
	}
	for i := range blocks {
		walk(blocks[i].Inlines)
		if len(blocks[i].Blocks) > 0 {
			rewriteLinks(blocks[i].Blocks, anchors)
		}
	}
}
