// Package typeregistry implements the type registry loader (§4.3): it
// resolves named models to their exported type declarations, handlers,
// resolvers, and proofs, registers everything into the Spec-IR store, the
// pipeline orchestrator, and the proof registry in declared order (store
// and proof registrations from later models override earlier ones by
// identifier; the orchestrator rejects a handler name that is already
// registered), then runs the two post-load
// propagations to a fixed point.
package typeregistry

import (
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/specir"
)

// AttributeDef is an attribute slot exported alongside the type that owns
// it, grouping a declaration with its enum values in one struct so model
// packages can build them as composite literals.
type AttributeDef struct {
	Name       string
	Datatype   specir.Datatype
	MinOccurs  int
	MaxOccurs  int
	MinValue   *float64
	MaxValue   *float64
	EnumValues []string
}

// SpecificationTypeDef is one specification-type export from a model.
type SpecificationTypeDef struct {
	Type       specir.SpecificationType
	Attributes []AttributeDef
	Handler    *orchestrator.Handler
}

// ObjectTypeDef is one object-type export from a model.
type ObjectTypeDef struct {
	Type       specir.ObjectType
	Attributes []AttributeDef
	Handler    *orchestrator.Handler
}

// FloatTypeDef is one float-type export from a model.
type FloatTypeDef struct {
	Type       specir.FloatType
	Attributes []AttributeDef
	Handler    *orchestrator.Handler
}

// RelationTypeDef is one relation-type export from a model. Resolver is
// non-nil only on a resolver-root declaration — the base of an `extends`
// chain — per §3.1/§4.1; subtypes extending it leave Resolver nil and
// inherit the root's callable at resolution time (§4.6 step 2).
type RelationTypeDef struct {
	Type     specir.RelationType
	Resolver specir.Resolver
}

// ViewTypeDef is one view-type export from a model.
type ViewTypeDef struct {
	Type       specir.ViewType
	Attributes []AttributeDef
	Handler    *orchestrator.Handler
}

// Model is everything one named model directory exports (§4.3 Category
// scan): zero or more type declarations in each of the five categories,
// implicit aliases, and free-standing handlers not tied to a single type
// (e.g. the PID assigner, the unified relation analyzer).
type Model struct {
	Name string

	Specifications []SpecificationTypeDef
	Objects        []ObjectTypeDef
	Floats         []FloatTypeDef
	Relations      []RelationTypeDef
	Views          []ViewTypeDef

	ImplicitObjectAliases        map[string]string // alias -> object type id
	ImplicitSpecificationAliases map[string]string // alias -> specification type id

	Handlers []orchestrator.Handler
}

// Factory builds a fresh Model value. Models are compiled-in Go packages
// rather than files loaded at runtime (§9 Design Notes; see DESIGN.md for
// why the teacher's `.so`-plugin loading path was dropped) — a package
// registers its factory in init() via RegisterModel.
type Factory func() Model

var factories = make(map[string]Factory)

// RegisterModel registers a compiled-in model package under name, callable
// later by Load. Call from a model package's init().
func RegisterModel(name string, f Factory) {
	factories[name] = f
}
