// Package emit implements the EMIT-phase assembler (§4.10): walking a
// specification's objects, floats, and views back into one ordered Pandoc
// block list, resolving inline elements, and delegating to external writer
// processes per configured output format.
package emit

import (
	"fmt"
	"sort"

	"github.com/oxspec/speccompiler/internal/pandocast"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Document is the fully assembled output for one specification: the merged
// block list plus the metadata an output writer needs for a title page or
// front matter.
type Document struct {
	SpecificationID int64
	RootPath        string
	LongName        string
	PID             string
	TypeRef         string
	Blocks          []pandocast.Node
}

// entry is one positioned unit (object, float, or view) the assembler
// merges into document order. Objects, floats, and views each carry their
// own file_seq counter (scoped to the handler that assigned it), so
// StartLine — not FileSeq — is the only field all three share that
// reflects true source position within a file; FromFile orders the
// handful of include files relative to each other, matching the ordering
// TRANSFORM's view materializers already use (§4.7's `ORDER BY from_file,
// file_seq` convention, here refined to from_file/start_line because this
// merge interleaves three independently-sequenced tables).
type entry struct {
	fromFile  string
	startLine int
	block     pandocast.Node
}

// Assemble builds one specification's output document (spec.md §4.10 steps
// 1-4): queries the complete assembled IR, decodes every object's AST,
// wraps every float and view into a semantic container, and merges all
// three in source order.
func Assemble(store *specir.Store, specificationID int64) (*Document, error) {
	specRow, err := store.QueryOne(`SELECT root_path, long_name, pid, type_ref FROM specifications WHERE id = ?`, specificationID)
	if err != nil {
		return nil, fmt.Errorf("emit: loading specification %d: %w", specificationID, err)
	}
	if specRow == nil {
		return nil, fmt.Errorf("emit: specification %d not found", specificationID)
	}

	entries, err := objectEntries(store, specificationID)
	if err != nil {
		return nil, err
	}
	floatEntries, err := floatEntries(store, specificationID)
	if err != nil {
		return nil, err
	}
	viewEntries, err := viewEntries(store, specificationID)
	if err != nil {
		return nil, err
	}
	entries = append(entries, floatEntries...)
	entries = append(entries, viewEntries...)

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].fromFile != entries[j].fromFile {
			return entries[i].fromFile < entries[j].fromFile
		}
		return entries[i].startLine < entries[j].startLine
	})

	blocks := make([]pandocast.Node, len(entries))
	for i, e := range entries {
		blocks[i] = e.block
	}

	return &Document{
		SpecificationID: specificationID,
		RootPath:        specRow.String("root_path"),
		LongName:        specRow.String("long_name"),
		PID:             specRow.String("pid"),
		TypeRef:         specRow.String("type_ref"),
		Blocks:          blocks,
	}, nil
}

// objectEntries decodes every object's rendered AST (step 2).
func objectEntries(store *specir.Store, specificationID int64) ([]entry, error) {
	rows, err := store.QueryAll(
		`SELECT ast, from_file, start_line FROM spec_objects WHERE specification_id = ? ORDER BY from_file, file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("emit: loading objects: %w", err)
	}
	var out []entry
	for _, row := range rows {
		astText := row.String("ast")
		if astText == "" {
			continue
		}
		blocks, err := pandocast.ParseBlocks([]byte(astText))
		if err != nil || len(blocks) == 0 {
			continue
		}
		out = append(out, entry{fromFile: row.String("from_file"), startLine: int(row.Int64("start_line")), block: blocks[0]})
	}
	return out, nil
}

// floatEntries wraps every float's resolved AST into a semantic container
// carrying its caption and number (step 3).
func floatEntries(store *specir.Store, specificationID int64) ([]entry, error) {
	rows, err := store.QueryAll(
		`SELECT type_ref, from_file, start_line, label, number, caption, resolved_ast, anchor
		 FROM spec_floats WHERE specification_id = ? ORDER BY from_file, file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("emit: loading floats: %w", err)
	}
	var out []entry
	for _, row := range rows {
		out = append(out, entry{
			fromFile:  row.String("from_file"),
			startLine: int(row.Int64("start_line")),
			block:     floatContainer(row),
		})
	}
	return out, nil
}

func floatContainer(row specir.Row) pandocast.Node {
	caption := row.String("caption")
	if caption == "" {
		caption = fmt.Sprintf("%s %d", row.String("type_ref"), row.Int64("number"))
	}
	var inner []pandocast.Node
	if resolved := row.String("resolved_ast"); resolved != "" {
		if blocks, err := pandocast.ParseBlocks([]byte(resolved)); err == nil {
			inner = blocks
		}
	}
	blocks := append([]pandocast.Node{{
		Type:    pandocast.Para,
		Inlines: []pandocast.Node{{Type: pandocast.Str, Text: caption}},
	}}, inner...)
	return pandocast.Node{
		Type:   pandocast.BlockQuote,
		Attr:   &pandocast.Attr{ID: row.String("anchor"), Classes: []string{"float", row.String("type_ref")}},
		Blocks: blocks,
	}
}

// viewEntries wraps every view's resolved content into a semantic
// container (step 4). A view with structured resolved_data but no
// resolved_ast (the TOC/trace-matrix/abbrevs materializers all produce
// resolved_data only, per TRANSFORM's ViewMaterializer) is carried as a
// CodeBlock holding the raw JSON. A view whose resolved_ast is set (for
// example by a domain model's own TRANSFORM handler) is emitted from those
// blocks instead of this placeholder.
func viewEntries(store *specir.Store, specificationID int64) ([]entry, error) {
	rows, err := store.QueryAll(
		`SELECT view_type_ref, from_file, start_line, resolved_ast, resolved_data
		 FROM spec_views WHERE specification_id = ? ORDER BY from_file, file_seq`,
		specificationID,
	)
	if err != nil {
		return nil, fmt.Errorf("emit: loading views: %w", err)
	}
	var out []entry
	for _, row := range rows {
		out = append(out, entry{
			fromFile:  row.String("from_file"),
			startLine: int(row.Int64("start_line")),
			block:     viewContainer(row),
		})
	}
	return out, nil
}

func viewContainer(row specir.Row) pandocast.Node {
	typeRef := row.String("view_type_ref")
	if resolved := row.String("resolved_ast"); resolved != "" {
		if blocks, err := pandocast.ParseBlocks([]byte(resolved)); err == nil && len(blocks) > 0 {
			return pandocast.Node{Type: pandocast.BlockQuote, Attr: &pandocast.Attr{Classes: []string{"view", typeRef}}, Blocks: blocks}
		}
	}
	return pandocast.Node{
		Type: pandocast.CodeBlock,
		Attr: &pandocast.Attr{Classes: []string{"view-data", typeRef}},
		Text: row.String("resolved_data"),
	}
}
