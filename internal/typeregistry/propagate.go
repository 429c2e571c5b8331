package typeregistry

import (
	"fmt"

	"github.com/oxspec/speccompiler/internal/specir"
)

// propagateFixedPoint runs the two post-load propagations required by
// §4.3 until neither makes further changes: attribute inheritance down the
// `extends` chain, and relation-type property inheritance.
func propagateFixedPoint(store *specir.Store) error {
	for {
		attrChanged, err := propagateAttributeInheritance(store)
		if err != nil {
			return err
		}
		relChanged, err := propagateRelationProperties(store)
		if err != nil {
			return err
		}
		if !attrChanged && !relChanged {
			return nil
		}
	}
}

var typeTables = map[specir.OwnerKind]string{
	specir.OwnerObject:        "object_types",
	specir.OwnerFloat:         "float_types",
	specir.OwnerSpecification: "specification_types",
}

// propagateAttributeInheritance copies each parent type's attribute
// declarations down to children that do not already declare an
// attribute of the same name — "override" wins over inheritance (§4.3a).
func propagateAttributeInheritance(store *specir.Store) (bool, error) {
	changed := false
	for kind, table := range typeTables {
		pairs, err := childParentPairs(store, table)
		if err != nil {
			return false, err
		}
		for child, parent := range pairs {
			if parent == "" {
				continue
			}
			parentAttrs, err := attributesOf(store, kind, parent)
			if err != nil {
				return false, err
			}
			childNames, err := attributeNamesOf(store, kind, child)
			if err != nil {
				return false, err
			}
			for _, a := range parentAttrs {
				if childNames[a.Name] {
					continue
				}
				if err := store.RegisterAttributeType(specir.AttributeType{
					OwnerKind:   kind,
					OwnerTypeID: child,
					Name:        a.Name,
					Datatype:    a.Datatype,
					MinOccurs:   a.MinOccurs,
					MaxOccurs:   a.MaxOccurs,
					MinValue:    a.MinValue,
					MaxValue:    a.MaxValue,
					EnumValues:  a.EnumValues,
				}); err != nil {
					return false, err
				}
				changed = true
			}
		}
	}
	return changed, nil
}

// propagateRelationProperties inherits a relation type's selector,
// source/target constraints, and source attribute from its parent when the
// child leaves that property unset (§4.3b).
func propagateRelationProperties(store *specir.Store) (bool, error) {
	rows, err := store.QueryAll(`SELECT id, parent_id, source_types, target_types, selector, source_attribute FROM relation_types`)
	if err != nil {
		return false, fmt.Errorf("propagate relation properties: %w", err)
	}

	type relRow struct {
		id, parentID, sourceTypes, targetTypes, selector, sourceAttr string
	}
	byID := make(map[string]relRow, len(rows))
	for _, r := range rows {
		byID[r.String("id")] = relRow{
			id:          r.String("id"),
			parentID:    r.String("parent_id"),
			sourceTypes: r.String("source_types"),
			targetTypes: r.String("target_types"),
			selector:    r.String("selector"),
			sourceAttr:  r.String("source_attribute"),
		}
	}

	changed := false
	for id, row := range byID {
		if row.parentID == "" {
			continue
		}
		parent, ok := byID[row.parentID]
		if !ok {
			continue
		}
		next := row
		if next.sourceTypes == "" {
			next.sourceTypes = parent.sourceTypes
		}
		if next.targetTypes == "" {
			next.targetTypes = parent.targetTypes
		}
		if next.selector == "" {
			next.selector = parent.selector
		}
		if next.sourceAttr == "" {
			next.sourceAttr = parent.sourceAttr
		}
		if next == row {
			continue
		}
		sourceTypes, _ := specir.SplitCSVConstraint(strPtr(next.sourceTypes))
		targetTypes, _ := specir.SplitCSVConstraint(strPtr(next.targetTypes))
		if err := store.RegisterRelationType(specir.RelationType{
			ID:              id,
			ParentID:        row.parentID,
			SourceTypes:     sourceTypes,
			TargetTypes:     targetTypes,
			Selector:        next.selector,
			SourceAttribute: next.sourceAttr,
		}); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// childParentPairs returns child type id -> parent type id (empty string
// if the type has no parent) for every row in a *_types table.
func childParentPairs(store *specir.Store, table string) (map[string]string, error) {
	rows, err := store.QueryAll(fmt.Sprintf(`SELECT id, parent_id FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.String("id")] = r.String("parent_id")
	}
	return out, nil
}

type attrRow struct {
	Name       string
	Datatype   specir.Datatype
	MinOccurs  int
	MaxOccurs  int
	MinValue   *float64
	MaxValue   *float64
	EnumValues []string
}

func attributesOf(store *specir.Store, kind specir.OwnerKind, typeID string) ([]attrRow, error) {
	rows, err := store.QueryAll(
		`SELECT id, name, datatype, min_occurs, max_occurs, min_value, max_value
		 FROM attribute_types WHERE owner_kind = ? AND owner_type_id = ?`,
		string(kind), typeID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s %q: %w", kind, typeID, err)
	}
	out := make([]attrRow, 0, len(rows))
	for _, r := range rows {
		a := attrRow{
			Name:      r.String("name"),
			Datatype:  specir.Datatype(r.String("datatype")),
			MinOccurs: int(r.Int64("min_occurs")),
			MaxOccurs: int(r.Int64("max_occurs")),
		}
		if v, ok := r["min_value"].(float64); ok {
			a.MinValue = &v
		}
		if v, ok := r["max_value"].(float64); ok {
			a.MaxValue = &v
		}
		enumRows, err := store.QueryAll(
			`SELECT value FROM enum_values WHERE attribute_type_id = ? ORDER BY ord`, r.Int64("id"),
		)
		if err != nil {
			return nil, fmt.Errorf("listing enum values: %w", err)
		}
		for _, er := range enumRows {
			a.EnumValues = append(a.EnumValues, er.String("value"))
		}
		out = append(out, a)
	}
	return out, nil
}

func attributeNamesOf(store *specir.Store, kind specir.OwnerKind, typeID string) (map[string]bool, error) {
	rows, err := store.QueryAll(
		`SELECT name FROM attribute_types WHERE owner_kind = ? AND owner_type_id = ?`,
		string(kind), typeID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attribute names of %s %q: %w", kind, typeID, err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.String("name")] = true
	}
	return out, nil
}
