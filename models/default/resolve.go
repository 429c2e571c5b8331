package defaultmodel

import (
	"github.com/oxspec/speccompiler/internal/specir"
)

// resolveByLabel implements the default `#` resolver (§4.6 step 2,
// "Scoped-resolution policy"): step 1 looks at the source object's own
// child floats, step 2 widens to the whole specification (objects and
// floats unified), step 3 widens to every specification in the store. The
// first step to produce any match wins; two or more matches at a step
// resolve ambiguous without escalating further.
func resolveByLabel(store *specir.Store, specificationID int64, targetText string, sourceObjectID int64) (specir.ResolvedTarget, bool) {
	if sourceObjectID != 0 {
		if t, ok := matchOne(store,
			`SELECT id, 'float' AS kind, type_ref FROM spec_floats WHERE parent_object_id = ? AND label = ?`,
			sourceObjectID, targetText,
		); ok {
			return t, true
		}
	}

	if t, ok := matchOne(store,
		`SELECT id, 'object' AS kind, type_ref FROM spec_objects WHERE specification_id = ? AND label = ?
		 UNION ALL
		 SELECT id, 'float' AS kind, type_ref FROM spec_floats WHERE specification_id = ? AND label = ?`,
		specificationID, targetText, specificationID, targetText,
	); ok {
		return t, true
	}

	return matchOne(store,
		`SELECT id, 'object' AS kind, type_ref FROM spec_objects WHERE label = ?
		 UNION ALL
		 SELECT id, 'float' AS kind, type_ref FROM spec_floats WHERE label = ?`,
		targetText, targetText,
	)
}

// resolveByPID implements the default `@cite` resolver: citations target
// a PID-addressed object, never a float, so there is no child-floats step
// to run — resolution starts at specification scope and widens to every
// specification in the store, mirroring steps 2 and 3 of resolveByLabel.
func resolveByPID(store *specir.Store, specificationID int64, targetText string, _ int64) (specir.ResolvedTarget, bool) {
	if t, ok := matchOne(store,
		`SELECT id, 'object' AS kind, type_ref FROM spec_objects WHERE specification_id = ? AND pid = ?`,
		specificationID, targetText,
	); ok {
		return t, true
	}

	return matchOne(store,
		`SELECT id, 'object' AS kind, type_ref FROM spec_objects WHERE pid = ?`,
		targetText,
	)
}

// matchOne runs query and reduces its rows to a single ResolvedTarget: no
// rows means no match at this step, exactly one row is a clean resolution,
// two or more rows resolve ambiguous.
func matchOne(store *specir.Store, query string, args ...any) (specir.ResolvedTarget, bool) {
	rows, err := store.QueryAll(query, args...)
	if err != nil || len(rows) == 0 {
		return specir.ResolvedTarget{}, false
	}
	first := rows[0]
	target := specir.ResolvedTarget{
		ID:      first.Int64("id"),
		Kind:    specir.TargetKind(first.String("kind")),
		TypeRef: first.String("type_ref"),
	}
	if len(rows) > 1 {
		target.IsAmbiguous = true
	}
	return target, true
}
