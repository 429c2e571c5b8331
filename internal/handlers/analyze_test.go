package handlers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/specir"
)

func newAnalyzeTestStore(t *testing.T) *specir.Store {
	t.Helper()
	s, err := specir.Open(filepath.Join(t.TempDir(), "specir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.RegisterObjectType(specir.ObjectType{ID: "req", IsDefault: true}))
	require.NoError(t, s.RegisterAttributeType(specir.AttributeType{OwnerKind: specir.OwnerObject, OwnerTypeID: "req", Name: "priority", Datatype: specir.DatatypeInt}))
	require.NoError(t, s.RegisterAttributeType(specir.AttributeType{OwnerKind: specir.OwnerObject, OwnerTypeID: "req", Name: "approved", Datatype: specir.DatatypeBool}))
	return s
}

func seedAnalyzeSpec(t *testing.T, store *specir.Store) int64 {
	t.Helper()
	tx, err := store.Begin()
	require.NoError(t, err)
	id, err := tx.InsertSpecification(&specir.Specification{RootPath: "doc.md", LongName: "doc.md"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestPIDAssignmentFollowsDominantPrefixAndFormat(t *testing.T) {
	store := newAnalyzeTestStore(t)
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	withPID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1, PID: "REQ-001"})
	require.NoError(t, err)
	autoID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := PIDAssignment()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT pid, pid_auto FROM spec_objects WHERE id = ?`, autoID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "REQ-002", row.String("pid"))
	assert.Equal(t, int64(1), row.Int64("pid_auto"))

	row, err = store.QueryOne(`SELECT pid_auto FROM spec_objects WHERE id = ?`, withPID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(0), row.Int64("pid_auto"))
}

func TestPIDAssignmentUsesTypeRefFallbackWithNoExistingPID(t *testing.T) {
	store := newAnalyzeTestStore(t)
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	id, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := PIDAssignment()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT pid FROM spec_objects WHERE id = ?`, id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "req-0", row.String("pid"))
}

func TestPreAnalysisCleanupClearsDanglingTargets(t *testing.T) {
	store := newAnalyzeTestStore(t)
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "xref"}))
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	src, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	target, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2})
	require.NoError(t, err)
	relID, err := tx.InsertRelation(&specir.SpecRelation{SpecificationID: specID, SourceObjectID: src, RawTarget: "req-2", TargetObjectID: target, TypeRef: "xref", FromFile: "doc.md"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = store.Begin()
	require.NoError(t, err)
	_, err = tx.Raw().Exec(`DELETE FROM spec_objects WHERE id = ?`, target)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := PreAnalysisCleanup()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT target_object_id, type_ref FROM spec_relations WHERE id = ?`, relID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row["target_object_id"])
	assert.Nil(t, row["type_ref"])
}

func TestFloatParentAssignmentAssignsNearestPrecedingObject(t *testing.T) {
	store := newAnalyzeTestStore(t)
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	first, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1, StartLine: 1})
	require.NoError(t, err)
	second, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2, StartLine: 10})
	require.NoError(t, err)
	nearFirst, err := tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 5, Label: "near-first"})
	require.NoError(t, err)
	nearSecond, err := tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 2, StartLine: 20, Label: "near-second"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := FloatParentAssignment()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT parent_object_id FROM spec_floats WHERE id = ?`, nearFirst)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, first, row.Int64("parent_object_id"))

	row, err = store.QueryOne(`SELECT parent_object_id FROM spec_floats WHERE id = ?`, nearSecond)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, second, row.Int64("parent_object_id"))
}

func TestFloatParentAssignmentLeavesOrphanWhenNoPrecedingObject(t *testing.T) {
	store := newAnalyzeTestStore(t)
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	_, err = tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1, StartLine: 10})
	require.NoError(t, err)
	orphan, err := tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 1, Label: "before-everything"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := FloatParentAssignment()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT parent_object_id FROM spec_floats WHERE id = ?`, orphan)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row["parent_object_id"])
}

func TestRelationAnalyzerResolvesSingleWinner(t *testing.T) {
	store := newAnalyzeTestStore(t)
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "xref", Selector: "#"}))
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	src, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	target, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2, Label: "req:target"})
	require.NoError(t, err)
	relID, err := tx.InsertRelation(&specir.SpecRelation{SpecificationID: specID, SourceObjectID: src, RawTarget: "req:target", FromFile: "doc.md", LinkSelector: "#"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	store.Resolvers().RegisterResolver("xref", func(s *specir.Store, specificationID int64, targetText string, sourceObjectID int64) (specir.ResolvedTarget, bool) {
		row, err := s.QueryOne(`SELECT id FROM spec_objects WHERE label = ?`, targetText)
		if err != nil || row == nil {
			return specir.ResolvedTarget{}, false
		}
		return specir.ResolvedTarget{ID: row.Int64("id"), Kind: specir.TargetObject, TypeRef: "req"}, true
	})

	handler := RelationAnalyzer()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT target_object_id, type_ref, is_ambiguous FROM spec_relations WHERE id = ?`, relID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, target, row.Int64("target_object_id"))
	assert.Equal(t, "xref", row.String("type_ref"))
	assert.Equal(t, int64(0), row.Int64("is_ambiguous"))
}

func TestRelationAnalyzerPicksMoreSpecificCandidateOverLessSpecific(t *testing.T) {
	store := newAnalyzeTestStore(t)
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "ref", Selector: "#"}))
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "ref-req", Selector: "#", SourceTypes: []string{"req"}}))
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	src, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	target, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2, Label: "req:target"})
	require.NoError(t, err)
	relID, err := tx.InsertRelation(&specir.SpecRelation{SpecificationID: specID, SourceObjectID: src, RawTarget: "req:target", FromFile: "doc.md", LinkSelector: "#"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	lookupByLabel := func(s *specir.Store, specificationID int64, targetText string, sourceObjectID int64) (specir.ResolvedTarget, bool) {
		row, err := s.QueryOne(`SELECT id FROM spec_objects WHERE label = ?`, targetText)
		if err != nil || row == nil {
			return specir.ResolvedTarget{}, false
		}
		return specir.ResolvedTarget{ID: row.Int64("id"), Kind: specir.TargetObject, TypeRef: "req"}, true
	}
	store.Resolvers().RegisterResolver("ref", lookupByLabel)
	store.Resolvers().RegisterResolver("ref-req", lookupByLabel)

	handler := RelationAnalyzer()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT target_object_id, type_ref, is_ambiguous FROM spec_relations WHERE id = ?`, relID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, target, row.Int64("target_object_id"))
	assert.Equal(t, "ref-req", row.String("type_ref"))
	assert.Equal(t, int64(0), row.Int64("is_ambiguous"))
}

func TestRelationAnalyzerFlagsAmbiguousOnSpecificityTie(t *testing.T) {
	store := newAnalyzeTestStore(t)
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "see-a", SourceAttribute: "see-also"}))
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "see-b", SourceAttribute: "see-also"}))
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	src, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	_, err = tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 2, Label: "req:target"})
	require.NoError(t, err)
	relID, err := tx.InsertRelation(&specir.SpecRelation{SpecificationID: specID, SourceObjectID: src, RawTarget: "req:target", FromFile: "doc.md", SourceAttribute: "see-also"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	lookupByLabel := func(s *specir.Store, specificationID int64, targetText string, sourceObjectID int64) (specir.ResolvedTarget, bool) {
		row, err := s.QueryOne(`SELECT id FROM spec_objects WHERE label = ?`, targetText)
		if err != nil || row == nil {
			return specir.ResolvedTarget{}, false
		}
		return specir.ResolvedTarget{ID: row.Int64("id"), Kind: specir.TargetObject, TypeRef: "req"}, true
	}
	store.Resolvers().RegisterResolver("see-a", lookupByLabel)
	store.Resolvers().RegisterResolver("see-b", lookupByLabel)

	handler := RelationAnalyzer()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT is_ambiguous FROM spec_relations WHERE id = ?`, relID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.Int64("is_ambiguous"))
}

func TestRelationAnalyzerLeavesUnresolvedWhenNoCandidate(t *testing.T) {
	store := newAnalyzeTestStore(t)
	require.NoError(t, store.RegisterRelationType(specir.RelationType{ID: "cite", Selector: "@cite"}))
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	src, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	relID, err := tx.InsertRelation(&specir.SpecRelation{SpecificationID: specID, SourceObjectID: src, RawTarget: "req:nowhere", FromFile: "doc.md", LinkSelector: "#"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := RelationAnalyzer()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))

	row, err := store.QueryOne(`SELECT target_object_id, type_ref FROM spec_relations WHERE id = ?`, relID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row["target_object_id"])
	assert.Nil(t, row["type_ref"])
}

func TestAttributeCasterFillsTypedColumnsByDatatype(t *testing.T) {
	store := newAnalyzeTestStore(t)
	specID := seedAnalyzeSpec(t, store)

	tx, err := store.Begin()
	require.NoError(t, err)
	owner, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1})
	require.NoError(t, err)
	goodID, err := tx.InsertAttributeValue(&specir.SpecAttributeValue{SpecificationID: specID, OwnerObjectID: owner, Name: "priority", RawValue: "3"})
	require.NoError(t, err)
	badID, err := tx.InsertAttributeValue(&specir.SpecAttributeValue{SpecificationID: specID, OwnerObjectID: owner, Name: "priority", RawValue: "not-a-number"})
	require.NoError(t, err)
	boolID, err := tx.InsertAttributeValue(&specir.SpecAttributeValue{SpecificationID: specID, OwnerObjectID: owner, Name: "approved", RawValue: "true"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	handler := AttributeCaster()
	diags := diagnostics.NewCollector()
	ctx := []*orchestrator.Context{{SourceFile: "doc.md", SpecificationID: specID}}
	require.NoError(t, handler.OnAnalyze(store, ctx, diags))
	assert.False(t, diags.HasErrors())

	row, err := store.QueryOne(`SELECT int_value FROM spec_attribute_values WHERE id = ?`, goodID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(3), row.Int64("int_value"))

	row, err = store.QueryOne(`SELECT int_value FROM spec_attribute_values WHERE id = ?`, badID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row["int_value"])

	row, err = store.QueryOne(`SELECT bool_value FROM spec_attribute_values WHERE id = ?`, boolID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row.Int64("bool_value"))
}

func TestPreMatchCandidatesFiltersByConstraint(t *testing.T) {
	types := []relationTypeConstraint{
		{specir.RelationType{ID: "xref", Selector: "#"}},
		{specir.RelationType{ID: "cite", Selector: "@cite"}},
		{specir.RelationType{ID: "typed-xref", Selector: "#", SourceTypes: []string{"req"}}},
		{specir.RelationType{ID: "attr-only", SourceAttribute: "see-also"}},
	}

	got := preMatchCandidates(types, "#", "req", "")
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"xref", "typed-xref"}, ids)

	got = preMatchCandidates(types, "#", "section", "")
	ids = nil
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"xref"}, ids)

	got = preMatchCandidates(types, "", "section", "see-also")
	require.Len(t, got, 1)
	assert.Equal(t, "attr-only", got[0].ID)
}

func TestTargetTypeMatches(t *testing.T) {
	unconstrained := relationTypeConstraint{specir.RelationType{ID: "xref"}}
	assert.True(t, targetTypeMatches(unconstrained, "anything"))

	constrained := relationTypeConstraint{specir.RelationType{ID: "xref", TargetTypes: []string{"req", "section"}}}
	assert.True(t, targetTypeMatches(constrained, "req"))
	assert.False(t, targetTypeMatches(constrained, "figure"))
}

func TestSpecificityOf(t *testing.T) {
	unconstrained := relationTypeConstraint{specir.RelationType{ID: "xref"}}
	assert.Equal(t, 0, specificityOf(unconstrained, "req"))

	selectorOnly := relationTypeConstraint{specir.RelationType{ID: "xref", Selector: "#"}}
	assert.Equal(t, 1, specificityOf(selectorOnly, "req"))

	selectorAndSourceType := relationTypeConstraint{specir.RelationType{ID: "xref", Selector: "#", SourceTypes: []string{"req"}}}
	assert.Equal(t, 2, specificityOf(selectorAndSourceType, "req"))

	everything := relationTypeConstraint{specir.RelationType{
		ID: "xref", Selector: "#", SourceTypes: []string{"req"}, SourceAttribute: "see-also", TargetTypes: []string{"req"},
	}}
	assert.Equal(t, 4, specificityOf(everything, "req"))

	targetTypeUnmatched := relationTypeConstraint{specir.RelationType{ID: "xref", TargetTypes: []string{"section"}}}
	assert.Equal(t, 0, specificityOf(targetTypeUnmatched, "req"))
}

func TestCastAttributeValue(t *testing.T) {
	v := &specir.SpecAttributeValue{}
	castAttributeValue(v, "42", specir.DatatypeInt)
	require.NotNil(t, v.IntValue)
	assert.Equal(t, int64(42), *v.IntValue)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "not-a-number", specir.DatatypeInt)
	assert.Nil(t, v.IntValue)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "3.14", specir.DatatypeReal)
	require.NotNil(t, v.RealValue)
	assert.InDelta(t, 3.14, *v.RealValue, 0.0001)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "true", specir.DatatypeBool)
	require.NotNil(t, v.BoolValue)
	assert.True(t, *v.BoolValue)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "2026-07-30", specir.DatatypeDate)
	require.NotNil(t, v.DateValue)
	assert.Equal(t, "2026-07-30", *v.DateValue)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "07/30/2026", specir.DatatypeDate)
	assert.Nil(t, v.DateValue)

	v = &specir.SpecAttributeValue{}
	castAttributeValue(v, "approved", specir.DatatypeEnum)
	require.NotNil(t, v.EnumValue)
	assert.Equal(t, "approved", *v.EnumValue)
}

func TestIsValidDate(t *testing.T) {
	assert.True(t, isValidDate("2026-07-30"))
	assert.False(t, isValidDate("2026/07/30"))
	assert.False(t, isValidDate("not a date"))
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains([]string{"a", "b"}, "c"))
	assert.False(t, contains(nil, "a"))
}
