package handlers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/pandocast"
	"github.com/oxspec/speccompiler/internal/specir"
)

func newInitializeTestStore(t *testing.T) *specir.Store {
	t.Helper()
	s, err := specir.Open(filepath.Join(t.TempDir(), "specir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.RegisterSpecificationType(specir.SpecificationType{ID: "spec", IsDefault: true}))
	require.NoError(t, s.RegisterObjectType(specir.ObjectType{ID: "req", IsDefault: true, Prefix: "REQ"}))
	require.NoError(t, s.RegisterObjectType(specir.ObjectType{ID: "section", Aliases: []string{"section"}}))
	require.NoError(t, s.RegisterFloatType(specir.FloatType{ID: "figure", CaptionPrefix: "Figure", CounterGroup: "figure", Aliases: []string{"fig"}}))
	require.NoError(t, s.RegisterViewType(specir.ViewType{ID: "toc", Materializer: "toc", Aliases: []string{"toc"}}))
	return s
}

func runInitializeChain(t *testing.T, store *specir.Store, ctx *orchestrator.Context) *diagnostics.Collector {
	t.Helper()
	diags := diagnostics.NewCollector()
	contexts := []*orchestrator.Context{ctx}
	for _, h := range NewInitializeHandlers() {
		require.NoError(t, h.OnInitialize(store, contexts, diags))
	}
	return diags
}

func blockJSON(t *testing.T, blocks []pandocast.Node) []byte {
	t.Helper()
	data, err := pandocast.MarshalBlocks(blocks)
	require.NoError(t, err)
	return data
}

func TestSpecificationParserUsesFirstH1AsLongName(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "My Spec"}}},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	diags := runInitializeChain(t, store, ctx)

	assert.False(t, diags.HasErrors())
	assert.NotZero(t, ctx.SpecificationID)

	row, err := store.QueryOne(`SELECT long_name, type_ref FROM specifications WHERE id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "My Spec", row.String("long_name"))
	assert.Equal(t, "spec", row.String("type_ref"))
}

func TestSpecificationParserFallsBackToSourceFileWhenNoH1(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Para, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "no header here"}}},
	})
	ctx := &orchestrator.Context{SourceFile: "untitled.md", AST: ast}
	runInitializeChain(t, store, ctx)

	row, err := store.QueryOne(`SELECT long_name FROM specifications WHERE id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "untitled.md", row.String("long_name"))
}

func TestObjectParserInfersTypeTitleAndPID(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.Header, Level: 2, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Parse the input @PID:REQ-001"}}},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	diags := runInitializeChain(t, store, ctx)
	require.False(t, diags.HasErrors())

	row, err := store.QueryOne(`SELECT title, pid, type_ref, label FROM spec_objects WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Parse the input", row.String("title"))
	assert.Equal(t, "REQ-001", row.String("pid"))
	assert.Equal(t, "req", row.String("type_ref"))
	assert.Equal(t, "req:parse-the-input", row.String("label"))
}

func TestObjectParserResolvesTypeAliasFromPrefix(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.Header, Level: 2, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "section: Overview"}}},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	runInitializeChain(t, store, ctx)

	row, err := store.QueryOne(`SELECT type_ref, title FROM spec_objects WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "section", row.String("type_ref"))
	assert.Equal(t, "Overview", row.String("title"))
}

func TestFloatParserMatchesClassAndExplicitLabel(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.CodeBlock, Attr: &pandocast.Attr{Classes: []string{"fig:overview"}}, Text: "diagram data"},
		{Type: pandocast.CodeBlock, Attr: &pandocast.Attr{Classes: []string{"unrelated"}}, Text: "ignored"},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	diags := runInitializeChain(t, store, ctx)
	require.False(t, diags.HasErrors())

	row, err := store.QueryOne(`SELECT type_ref, label, raw_content FROM spec_floats WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "figure", row.String("type_ref"))
	assert.Equal(t, "overview", row.String("label"))
	assert.Equal(t, "diagram data", row.String("raw_content"))
}

func TestViewParserMatchesAliasClass(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.CodeBlock, Attr: &pandocast.Attr{Classes: []string{"toc"}}, Text: ""},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	runInitializeChain(t, store, ctx)

	row, err := store.QueryOne(`SELECT view_type_ref FROM spec_views WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "toc", row.String("view_type_ref"))
}

func TestAttributeParserReadsBlockQuoteFollowingHeader(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.Header, Level: 2, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Parse the input"}}},
		{Type: pandocast.BlockQuote, Blocks: []pandocast.Node{
			{Type: pandocast.Para, Inlines: []pandocast.Node{
				{Type: pandocast.Str, Text: "status:"}, {Type: pandocast.Space}, {Type: pandocast.Str, Text: "approved"},
			}},
		}},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	diags := runInitializeChain(t, store, ctx)
	require.False(t, diags.HasErrors())

	row, err := store.QueryOne(`SELECT name, raw_value FROM spec_attribute_values WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "status", row.String("name"))
	assert.Equal(t, "approved", row.String("raw_value"))
}

func TestRelationParserRecordsRawTargetWithoutResolving(t *testing.T) {
	store := newInitializeTestStore(t)
	ast := blockJSON(t, []pandocast.Node{
		{Type: pandocast.Header, Level: 1, Inlines: []pandocast.Node{{Type: pandocast.Str, Text: "Doc"}}},
		{Type: pandocast.Header, Level: 2, Inlines: []pandocast.Node{
			{Type: pandocast.Str, Text: "Parse the input, see"}, {Type: pandocast.Space},
			{Type: pandocast.Link, Target: "#req:other"},
		}},
	})
	ctx := &orchestrator.Context{SourceFile: "doc.md", AST: ast}
	diags := runInitializeChain(t, store, ctx)
	require.False(t, diags.HasErrors())

	row, err := store.QueryOne(`SELECT raw_target, link_selector, type_ref FROM spec_relations WHERE specification_id = ?`, ctx.SpecificationID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "req:other", row.String("raw_target"))
	assert.Equal(t, "#", row.String("link_selector"))
	assert.Equal(t, "", row.String("type_ref"))
}

func TestSplitAttributeLineRejectsMultiWordName(t *testing.T) {
	_, _, ok := splitAttributeLine("not a name: value")
	assert.False(t, ok)

	name, value, ok := splitAttributeLine("owner: jane doe")
	require.True(t, ok)
	assert.Equal(t, "owner", name)
	assert.Equal(t, "jane doe", value)
}
