// Package proof implements the VERIFY-phase proof view registry (§4.8): a
// proof is a SQL query whose result rows are constraint violations, keyed
// by a stable policy key.
package proof

import "sort"

// Proof pairs a policy key with the SQL query that detects its violations.
// Every result row must project at least `entity_id` and `message` columns;
// additional columns (e.g. `file`, `line`) are passed through when present.
type Proof struct {
	PolicyKey string
	Query     string
}

// Registry holds one proof per policy key, discovered at model-load time
// from `<model>/proofs/*.sql` (§4.8). Later-loaded models override earlier
// ones by policy key, matching the type registry's own override rule.
type Registry struct {
	proofs map[string]Proof
}

func NewRegistry() *Registry {
	return &Registry{proofs: make(map[string]Proof)}
}

// Register adds or overrides the proof for p.PolicyKey.
func (r *Registry) Register(p Proof) {
	r.proofs[p.PolicyKey] = p
}

// Lookup returns the proof registered for a policy key, if any.
func (r *Registry) Lookup(policyKey string) (Proof, bool) {
	p, ok := r.proofs[policyKey]
	return p, ok
}

// All returns every registered proof sorted by policy key, so VERIFY runs
// them in a deterministic order (§5 Determinism requirements).
func (r *Registry) All() []Proof {
	keys := make([]string, 0, len(r.proofs))
	for k := range r.proofs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Proof, len(keys))
	for i, k := range keys {
		out[i] = r.proofs[k]
	}
	return out
}

// BaselineProofs is the required taxonomy every build carries before any
// domain proof is layered over it (§4.8's table). Domain models register
// additional proofs, or override one of these by reusing its policy key.
var BaselineProofs = []Proof{
	{PolicyKey: "spec_missing_required", Query: `
		SELECT s.id AS entity_id,
		       'specification ' || s.root_path || ' is missing required attribute ' || at.name AS message
		FROM specifications s
		JOIN attribute_types at ON at.owner_kind = 'specification' AND at.owner_type_id = s.type_ref
		WHERE at.min_occurs > 0
		  AND NOT EXISTS (
		    SELECT 1 FROM spec_attribute_values av
		    WHERE av.specification_id = s.id AND av.name = at.name AND av.raw_value IS NOT NULL
		  )`},
	{PolicyKey: "spec_invalid_type", Query: `
		SELECT s.id AS entity_id, 'specification ' || s.root_path || ' has unknown type ' || s.type_ref AS message
		FROM specifications s
		WHERE NOT EXISTS (SELECT 1 FROM specification_types st WHERE st.id = s.type_ref)`},
	{PolicyKey: "object_missing_required", Query: `
		SELECT o.id AS entity_id, 'object ' || coalesce(o.pid, o.label, o.id) || ' is missing required attribute ' || at.name AS message
		FROM spec_objects o
		JOIN attribute_types at ON at.owner_kind = 'object' AND at.owner_type_id = o.type_ref
		WHERE at.min_occurs > 0
		  AND NOT EXISTS (
		    SELECT 1 FROM spec_attribute_values av
		    WHERE av.owner_object_id = o.id AND av.name = at.name AND av.raw_value IS NOT NULL
		  )`},
	{PolicyKey: "object_cardinality_over", Query: `
		SELECT o.id AS entity_id, 'object ' || coalesce(o.pid, o.label, o.id) || ' exceeds max_occurs for ' || av.name AS message
		FROM spec_objects o
		JOIN attribute_types at ON at.owner_kind = 'object' AND at.owner_type_id = o.type_ref
		JOIN (
		  SELECT owner_object_id, name, count(*) AS n FROM spec_attribute_values
		  WHERE owner_object_id IS NOT NULL GROUP BY owner_object_id, name
		) av ON av.owner_object_id = o.id AND av.name = at.name
		WHERE at.max_occurs > 0 AND av.n > at.max_occurs`},
	{PolicyKey: "object_cast_failures", Query: `
		SELECT av.id AS entity_id, 'attribute ' || av.name || ' on object ' || av.owner_object_id || ' failed to cast' AS message
		FROM spec_attribute_values av
		WHERE av.owner_object_id IS NOT NULL AND av.raw_value IS NOT NULL
		  AND av.string_value IS NULL AND av.int_value IS NULL AND av.real_value IS NULL
		  AND av.bool_value IS NULL AND av.date_value IS NULL AND av.enum_value IS NULL`},
	{PolicyKey: "object_invalid_enum", Query: `
		SELECT av.id AS entity_id, 'attribute ' || av.name || ' value ' || coalesce(av.raw_value, '') || ' is not a valid enum value' AS message
		FROM spec_attribute_values av
		JOIN attribute_types at ON at.owner_kind = 'object' AND at.name = av.name
		  AND at.owner_type_id = (SELECT type_ref FROM spec_objects WHERE id = av.owner_object_id)
		WHERE at.datatype = 'enum' AND av.raw_value IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM enum_values ev WHERE ev.attribute_type_id = at.id AND ev.value = av.raw_value)`},
	{PolicyKey: "object_invalid_date", Query: `
		SELECT av.id AS entity_id, 'attribute ' || av.name || ' value ' || coalesce(av.raw_value, '') || ' is not a valid date' AS message
		FROM spec_attribute_values av
		WHERE av.datatype = 'date' AND av.raw_value IS NOT NULL AND av.date_value IS NULL`},
	{PolicyKey: "object_bounds_violation", Query: `
		SELECT av.id AS entity_id, 'attribute ' || av.name || ' value out of bounds' AS message
		FROM spec_attribute_values av
		JOIN attribute_types at ON at.owner_kind = 'object' AND at.name = av.name
		  AND at.owner_type_id = (SELECT type_ref FROM spec_objects WHERE id = av.owner_object_id)
		WHERE av.real_value IS NOT NULL
		  AND ((at.min_value IS NOT NULL AND av.real_value < at.min_value)
		    OR (at.max_value IS NOT NULL AND av.real_value > at.max_value))`},
	{PolicyKey: "object_duplicate_pid", Query: `
		SELECT o.id AS entity_id, 'duplicate pid ' || o.pid AS message
		FROM spec_objects o
		WHERE o.pid IS NOT NULL AND (SELECT count(*) FROM spec_objects o2 WHERE o2.pid = o.pid) > 1`},
	{PolicyKey: "float_orphan", Query: `
		SELECT f.id AS entity_id, 'float ' || coalesce(f.label, f.id) || ' has no parent object' AS message
		FROM spec_floats f WHERE f.parent_object_id IS NULL`},
	{PolicyKey: "float_duplicate_label", Query: `
		SELECT f.id AS entity_id, 'duplicate float label ' || f.label AS message
		FROM spec_floats f
		WHERE f.label IS NOT NULL
		  AND (SELECT count(*) FROM spec_floats f2 WHERE f2.specification_id = f.specification_id AND f2.label = f.label) > 1`},
	{PolicyKey: "float_render_failure", Query: `
		SELECT f.id AS entity_id, 'float ' || coalesce(f.label, f.id) || ' failed to render' AS message
		FROM spec_floats f
		JOIN float_types ft ON ft.id = f.type_ref
		WHERE ft.needs_external_render = 1 AND f.resolved_ast IS NULL`},
	{PolicyKey: "float_invalid_type", Query: `
		SELECT f.id AS entity_id, 'float ' || coalesce(f.label, f.id) || ' has unknown type ' || f.type_ref AS message
		FROM spec_floats f WHERE NOT EXISTS (SELECT 1 FROM float_types ft WHERE ft.id = f.type_ref)`},
	{PolicyKey: "relation_unresolved", Query: `
		SELECT r.id AS entity_id, 'relation target ' || r.raw_target || ' did not resolve' AS message
		FROM spec_relations r
		WHERE r.raw_target IS NOT NULL AND r.raw_target != ''
		  AND r.target_object_id IS NULL AND r.target_float_id IS NULL`},
	{PolicyKey: "relation_dangling", Query: `
		SELECT r.id AS entity_id, 'relation target no longer exists' AS message
		FROM spec_relations r
		WHERE (r.target_object_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM spec_objects o WHERE o.id = r.target_object_id))
		   OR (r.target_float_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM spec_floats f WHERE f.id = r.target_float_id))`},
	{PolicyKey: "relation_ambiguous", Query: `
		SELECT r.id AS entity_id, 'relation target ' || r.raw_target || ' is ambiguous' AS message
		FROM spec_relations r WHERE r.is_ambiguous = 1`},
	{PolicyKey: "view_materialization_failure", Query: `
		SELECT v.id AS entity_id, 'view failed to materialize' AS message
		FROM spec_views v WHERE v.resolved_ast IS NULL AND v.resolved_data IS NULL`},
}

// NewRegistryWithBaseline returns a Registry pre-loaded with the required
// proof taxonomy (§4.8's table), ready for domain models to override or add
// to by policy key.
func NewRegistryWithBaseline() *Registry {
	r := NewRegistry()
	for _, p := range BaselineProofs {
		r.Register(p)
	}
	return r
}
