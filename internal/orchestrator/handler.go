package orchestrator

import (
	"encoding/json"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/specir"
)

// Phase is one of the five fixed pipeline phases (§4.4), always run in this
// order.
type Phase string

const (
	PhaseInitialize Phase = "INITIALIZE"
	PhaseAnalyze    Phase = "ANALYZE"
	PhaseTransform  Phase = "TRANSFORM"
	PhaseVerify     Phase = "VERIFY"
	PhaseEmit       Phase = "EMIT"
)

// Phases is the fixed execution order.
var Phases = []Phase{PhaseInitialize, PhaseAnalyze, PhaseTransform, PhaseVerify, PhaseEmit}

// Context is the per-input-document unit of work threaded through every
// phase (§4.5): the parsed AST, its source path, the specification row it
// belongs to once INITIALIZE's specification parser has run, and a scratch
// map handlers may use to stash walker state between their own phase hooks.
type Context struct {
	SourceFile      string
	AST             json.RawMessage
	SpecificationID int64
	Scratch         map[string]any
}

// Hook is a phase callback. Handlers iterate contexts themselves — the
// orchestrator dispatches the handler once per phase, not once per context
// (§4.4 Dispatch).
type Hook func(store *specir.Store, contexts []*Context, diags *diagnostics.Collector) error

// Handler is one participant in the pipeline, contributed by a loaded type
// model (§4.3) or built into the engine. A handler may implement any subset
// of the five phase hooks.
type Handler struct {
	Name          string
	Prerequisites []string

	OnInitialize Hook
	OnAnalyze    Hook
	OnTransform  Hook
	OnVerify     Hook
	OnEmit       Hook
}

func (h Handler) hookFor(phase Phase) Hook {
	switch phase {
	case PhaseInitialize:
		return h.OnInitialize
	case PhaseAnalyze:
		return h.OnAnalyze
	case PhaseTransform:
		return h.OnTransform
	case PhaseVerify:
		return h.OnVerify
	case PhaseEmit:
		return h.OnEmit
	default:
		return nil
	}
}

// participatesIn reports whether this handler implements the given phase's
// hook.
func (h Handler) participatesIn(phase Phase) bool {
	return h.hookFor(phase) != nil
}
