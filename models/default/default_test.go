package defaultmodel

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxspec/speccompiler/internal/specir"
)

func newTestStore(t *testing.T) *specir.Store {
	t.Helper()
	s, err := specir.Open(filepath.Join(t.TempDir(), "specir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSpec(t *testing.T, store *specir.Store, rootPath string) int64 {
	t.Helper()
	tx, err := store.Begin()
	require.NoError(t, err)
	id, err := tx.InsertSpecification(&specir.Specification{RootPath: rootPath, LongName: rootPath})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func TestBuildDeclaresExpectedTypes(t *testing.T) {
	m := build()

	assert.Len(t, m.Objects, 2)
	assert.Len(t, m.Floats, 4)
	assert.Len(t, m.Relations, 2)
	assert.Len(t, m.Views, 4)

	var sawSection, sawReq bool
	for _, o := range m.Objects {
		switch o.Type.ID {
		case "section":
			sawSection = true
			assert.True(t, o.Type.IsComposite)
		case "req":
			sawReq = true
			assert.Equal(t, "REQ", o.Type.Prefix)
			require.Len(t, o.Attributes, 1)
			assert.Equal(t, "status", o.Attributes[0].Name)
		}
	}
	assert.True(t, sawSection)
	assert.True(t, sawReq)
}

func TestResolveByLabelStepOneMatchesChildFloat(t *testing.T) {
	store := newTestStore(t)
	specID := seedSpec(t, store, "doc.md")

	tx, err := store.Begin()
	require.NoError(t, err)
	parentID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "section", FromFile: "doc.md", FileSeq: 1, Level: 2, StartLine: 1, Label: "sec:intro"})
	require.NoError(t, err)
	floatID, err := tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 2, Label: "fig:arch", ParentObjectID: parentID})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	target, ok := resolveByLabel(store, specID, "fig:arch", parentID)
	require.True(t, ok)
	assert.False(t, target.IsAmbiguous)
	assert.Equal(t, floatID, target.ID)
	assert.Equal(t, specir.TargetFloat, target.Kind)
}

func TestResolveByLabelEscalatesToSpecificationScope(t *testing.T) {
	store := newTestStore(t)
	specID := seedSpec(t, store, "doc.md")

	tx, err := store.Begin()
	require.NoError(t, err)
	otherParentID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "section", FromFile: "doc.md", FileSeq: 1, Level: 2, StartLine: 1, Label: "sec:a"})
	require.NoError(t, err)
	sourceID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "section", FromFile: "doc.md", FileSeq: 2, Level: 2, StartLine: 5, Label: "sec:b"})
	require.NoError(t, err)
	reqID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 3, Level: 2, StartLine: 9, Label: "req:target"})
	require.NoError(t, err)
	_ = otherParentID
	require.NoError(t, tx.Commit())

	target, ok := resolveByLabel(store, specID, "req:target", sourceID)
	require.True(t, ok)
	assert.False(t, target.IsAmbiguous)
	assert.Equal(t, reqID, target.ID)
	assert.Equal(t, specir.TargetObject, target.Kind)
}

func TestResolveByLabelAmbiguousWhenTwoMatchesAtSameStep(t *testing.T) {
	store := newTestStore(t)
	specID := seedSpec(t, store, "doc.md")

	tx, err := store.Begin()
	require.NoError(t, err)
	_, err = tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1, Level: 2, StartLine: 1, Label: "req:dup"})
	require.NoError(t, err)
	_, err = tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 5, Label: "req:dup"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	target, ok := resolveByLabel(store, specID, "req:dup", 0)
	require.True(t, ok)
	assert.True(t, target.IsAmbiguous)
}

func TestResolveByLabelNoMatchAtAnyStep(t *testing.T) {
	store := newTestStore(t)
	specID := seedSpec(t, store, "doc.md")

	_, ok := resolveByLabel(store, specID, "nope", 0)
	assert.False(t, ok)
}

func TestResolveByPIDMatchesWithinSpecification(t *testing.T) {
	store := newTestStore(t)
	specID := seedSpec(t, store, "doc.md")

	tx, err := store.Begin()
	require.NoError(t, err)
	reqID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specID, TypeRef: "req", FromFile: "doc.md", FileSeq: 1, Level: 2, StartLine: 1, PID: "REQ-0001"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	target, ok := resolveByPID(store, specID, "REQ-0001", 0)
	require.True(t, ok)
	assert.Equal(t, reqID, target.ID)
	assert.Equal(t, specir.TargetObject, target.Kind)
}

func TestResolveByPIDEscalatesAcrossSpecifications(t *testing.T) {
	store := newTestStore(t)
	specA := seedSpec(t, store, "a.md")
	specB := seedSpec(t, store, "b.md")

	tx, err := store.Begin()
	require.NoError(t, err)
	reqID, err := tx.InsertObject(&specir.SpecObject{SpecificationID: specB, TypeRef: "req", FromFile: "b.md", FileSeq: 1, Level: 2, StartLine: 1, PID: "REQ-0099"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	target, ok := resolveByPID(store, specA, "REQ-0099", 0)
	require.True(t, ok)
	assert.Equal(t, reqID, target.ID)
}
