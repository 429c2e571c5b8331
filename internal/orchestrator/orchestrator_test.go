package orchestrator

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/specir"
)

func noopHook(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
	return nil
}

func recordingHook(order *[]string, name string) Hook {
	return func(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
		*order = append(*order, name)
		return nil
	}
}

func TestRegisterRejectsEmptyNameAndDuplicates(t *testing.T) {
	o := New(nil)
	err := o.Register(Handler{Name: "", OnInitialize: noopHook})
	assert.Error(t, err)

	require.NoError(t, o.Register(Handler{Name: "specification-parser", OnInitialize: noopHook}))
	err = o.Register(Handler{Name: "specification-parser", OnInitialize: noopHook})
	assert.Error(t, err, "duplicate handler name must be rejected")
}

func TestRegisterRejectsSelfPrerequisite(t *testing.T) {
	o := New(nil)
	err := o.Register(Handler{Name: "a", Prerequisites: []string{"a"}, OnInitialize: noopHook})
	assert.Error(t, err)
}

func TestRunPhaseOrdersByPrerequisiteThenAlphabetical(t *testing.T) {
	var order []string
	o := New(nil)
	require.NoError(t, o.Register(Handler{Name: "view-parser", Prerequisites: []string{"specification-parser"}, OnInitialize: recordingHook(&order, "view-parser")}))
	require.NoError(t, o.Register(Handler{Name: "object-parser", Prerequisites: []string{"specification-parser"}, OnInitialize: recordingHook(&order, "object-parser")}))
	require.NoError(t, o.Register(Handler{Name: "specification-parser", OnInitialize: recordingHook(&order, "specification-parser")}))

	diags := diagnostics.NewCollector()
	err := o.RunPhase(PhaseInitialize, nil, nil, diags)
	require.NoError(t, err)
	assert.Equal(t, []string{"specification-parser", "object-parser", "view-parser"}, order)
	assert.False(t, diags.HasErrors())
}

func TestRunPhaseIgnoresPrerequisiteOutsideParticipantSet(t *testing.T) {
	var order []string
	o := New(nil)
	require.NoError(t, o.Register(Handler{
		Name:          "object-parser",
		Prerequisites: []string{"render-only-handler"}, // never participates in INITIALIZE
		OnInitialize:  recordingHook(&order, "object-parser"),
	}))
	require.NoError(t, o.Register(Handler{Name: "render-only-handler", OnTransform: noopHook}))

	diags := diagnostics.NewCollector()
	err := o.RunPhase(PhaseInitialize, nil, nil, diags)
	require.NoError(t, err)
	assert.Equal(t, []string{"object-parser"}, order)
}

func TestRunPhaseSkipsHandlersNotParticipating(t *testing.T) {
	var order []string
	o := New(nil)
	require.NoError(t, o.Register(Handler{Name: "a", OnInitialize: recordingHook(&order, "a")}))
	require.NoError(t, o.Register(Handler{Name: "b", OnTransform: recordingHook(&order, "b")}))

	diags := diagnostics.NewCollector()
	require.NoError(t, o.RunPhase(PhaseInitialize, nil, nil, diags))
	assert.Equal(t, []string{"a"}, order)
}

func TestRunPhaseReportsDependencyCycle(t *testing.T) {
	o := New(nil)
	require.NoError(t, o.Register(Handler{Name: "a", Prerequisites: []string{"b"}, OnInitialize: noopHook}))
	require.NoError(t, o.Register(Handler{Name: "b", Prerequisites: []string{"a"}, OnInitialize: noopHook}))

	diags := diagnostics.NewCollector()
	err := o.RunPhase(PhaseInitialize, nil, nil, diags)
	assert.Error(t, err)
	assert.True(t, diags.HasErrors())
}

func TestRunPhaseRecordsHandlerErrorButContinuesPhase(t *testing.T) {
	var order []string
	o := New(nil)
	require.NoError(t, o.Register(Handler{
		Name: "failing-handler",
		OnInitialize: func(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
			order = append(order, "failing-handler")
			return fmt.Errorf("parse error")
		},
	}))
	require.NoError(t, o.Register(Handler{Name: "later-handler", Prerequisites: []string{"failing-handler"}, OnInitialize: recordingHook(&order, "later-handler")}))

	diags := diagnostics.NewCollector()
	require.NoError(t, o.RunPhase(PhaseInitialize, nil, nil, diags))
	assert.Equal(t, []string{"failing-handler", "later-handler"}, order)
	assert.True(t, diags.HasErrors())
}

func TestRunBuildSkipsEmitAfterVerifyError(t *testing.T) {
	var ran []string
	o := New(nil)
	require.NoError(t, o.Register(Handler{
		Name: "verify-proof",
		OnVerify: func(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
			ran = append(ran, "verify")
			diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, PolicyKey: "object_invalid_enum", Message: "bad enum"})
			return nil
		},
	}))
	require.NoError(t, o.Register(Handler{
		Name: "emit-writer",
		OnEmit: func(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error {
			ran = append(ran, "emit")
			return nil
		},
	}))

	diags := diagnostics.NewCollector()
	err := o.RunBuild(nil, nil, diags)
	require.Error(t, err)
	assert.Equal(t, []string{"verify"}, ran, "EMIT must be skipped once VERIFY recorded an error diagnostic")
}

func TestWithLoggerAcceptsNilAndRealLogger(t *testing.T) {
	o := New(nil)
	require.NoError(t, o.Register(Handler{Name: "a", OnInitialize: noopHook}))

	o.WithLogger(nil)
	diags := diagnostics.NewCollector()
	require.NoError(t, o.RunPhase(PhaseInitialize, nil, nil, diags))

	o.WithLogger(zaptest.NewLogger(t))
	diags = diagnostics.NewCollector()
	require.NoError(t, o.RunPhase(PhaseInitialize, nil, nil, diags))
}

func TestMetricsObserveHandlerAndPhase(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := New(metrics)
	require.NoError(t, o.Register(Handler{Name: "a", OnInitialize: noopHook}))

	diags := diagnostics.NewCollector()
	require.NoError(t, o.RunPhase(PhaseInitialize, nil, nil, diags))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
