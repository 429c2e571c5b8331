package handlers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxspec/speccompiler/internal/config"
	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/proof"
	"github.com/oxspec/speccompiler/internal/specir"
)

func newVerifyTestStore(t *testing.T) *specir.Store {
	t.Helper()
	s, err := specir.Open(filepath.Join(t.TempDir(), "specir.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVerifierReportsBaselineProofViolation(t *testing.T) {
	store := newVerifyTestStore(t)
	require.NoError(t, store.RegisterFloatType(specir.FloatType{ID: "figure"}))

	tx, err := store.Begin()
	require.NoError(t, err)
	specID, err := tx.InsertSpecification(&specir.Specification{RootPath: "doc.md", LongName: "doc.md"})
	require.NoError(t, err)
	_, err = tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 1, Label: "fig:orphan"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	registry := proof.NewRegistry()
	for _, p := range proof.BaselineProofs {
		registry.Register(p)
	}
	cfg := &config.Config{ValidationPolicy: config.DefaultValidationPolicy()}

	handler := Verifier(registry, cfg)
	diags := diagnostics.NewCollector()
	require.NoError(t, handler.OnVerify(store, nil, diags))

	assert.True(t, diags.HasErrors())
	found := false
	for _, d := range diags.All() {
		if d.PolicyKey == "float_orphan" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestVerifierSkipsIgnoredPolicyKeys(t *testing.T) {
	store := newVerifyTestStore(t)
	require.NoError(t, store.RegisterFloatType(specir.FloatType{ID: "figure"}))

	tx, err := store.Begin()
	require.NoError(t, err)
	specID, err := tx.InsertSpecification(&specir.Specification{RootPath: "doc.md", LongName: "doc.md"})
	require.NoError(t, err)
	_, err = tx.InsertFloat(&specir.SpecFloat{SpecificationID: specID, TypeRef: "figure", FromFile: "doc.md", FileSeq: 1, StartLine: 1, Label: "fig:orphan"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	registry := proof.NewRegistry()
	for _, p := range proof.BaselineProofs {
		registry.Register(p)
	}
	policy := config.DefaultValidationPolicy()
	policy["float_orphan"] = diagnostics.SeverityIgnore
	cfg := &config.Config{ValidationPolicy: policy}

	handler := Verifier(registry, cfg)
	diags := diagnostics.NewCollector()
	require.NoError(t, handler.OnVerify(store, nil, diags))

	for _, d := range diags.All() {
		assert.NotEqual(t, "float_orphan", d.PolicyKey)
	}
}
