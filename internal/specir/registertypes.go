package specir

import (
	"fmt"
	"strings"
)

// RegisterSpecificationType upserts a specification type (§4.3 Registration:
// "identifier collisions across models yield override; later-loaded models
// win" — a plain REPLACE gives us that for free since models load in order).
func (s *Store) RegisterSpecificationType(t SpecificationType) error {
	_, err := s.db.Exec(
		`INSERT INTO specification_types (id, name, parent_id, is_default)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, parent_id = excluded.parent_id, is_default = excluded.is_default`,
		t.ID, t.Name, nullStr(t.ParentID), t.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("register specification type %q: %w", t.ID, err)
	}
	return nil
}

func (s *Store) RegisterObjectType(t ObjectType) error {
	_, err := s.db.Exec(
		`INSERT INTO object_types (id, parent_id, is_composite, is_default, prefix, pid_format)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id, is_composite = excluded.is_composite,
			is_default = excluded.is_default, prefix = excluded.prefix, pid_format = excluded.pid_format`,
		t.ID, nullStr(t.ParentID), t.IsComposite, t.IsDefault, t.Prefix, t.PIDFormat,
	)
	if err != nil {
		return fmt.Errorf("register object type %q: %w", t.ID, err)
	}
	for _, alias := range t.Aliases {
		if _, err := s.db.Exec(
			`INSERT INTO object_type_aliases (alias, object_type_id) VALUES (?, ?)
			 ON CONFLICT(alias) DO UPDATE SET object_type_id = excluded.object_type_id`,
			alias, t.ID,
		); err != nil {
			return fmt.Errorf("register object type alias %q: %w", alias, err)
		}
	}
	return nil
}

func (s *Store) RegisterFloatType(t FloatType) error {
	_, err := s.db.Exec(
		`INSERT INTO float_types (id, caption_prefix, counter_group, needs_external_render)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			caption_prefix = excluded.caption_prefix, counter_group = excluded.counter_group,
			needs_external_render = excluded.needs_external_render`,
		t.ID, t.CaptionPrefix, t.CounterGroup, t.NeedsExternalRender,
	)
	if err != nil {
		return fmt.Errorf("register float type %q: %w", t.ID, err)
	}
	for _, alias := range t.Aliases {
		if _, err := s.db.Exec(
			`INSERT INTO float_type_aliases (alias, float_type_id) VALUES (?, ?)
			 ON CONFLICT(alias) DO UPDATE SET float_type_id = excluded.float_type_id`,
			alias, t.ID,
		); err != nil {
			return fmt.Errorf("register float type alias %q: %w", alias, err)
		}
	}
	return nil
}

func (s *Store) RegisterRelationType(t RelationType) error {
	_, err := s.db.Exec(
		`INSERT INTO relation_types (id, parent_id, source_types, target_types, selector, source_attribute)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id, source_types = excluded.source_types,
			target_types = excluded.target_types, selector = excluded.selector,
			source_attribute = excluded.source_attribute`,
		t.ID, nullStr(t.ParentID), csvOrNil(t.SourceTypes), csvOrNil(t.TargetTypes),
		nullStr(t.Selector), nullStr(t.SourceAttribute),
	)
	if err != nil {
		return fmt.Errorf("register relation type %q: %w", t.ID, err)
	}
	return nil
}

func (s *Store) RegisterViewType(t ViewType) error {
	_, err := s.db.Exec(
		`INSERT INTO view_types (id, counter_group, inline_prefix, materializer, subtype_ref, needs_external_render)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			counter_group = excluded.counter_group, inline_prefix = excluded.inline_prefix,
			materializer = excluded.materializer, subtype_ref = excluded.subtype_ref,
			needs_external_render = excluded.needs_external_render`,
		t.ID, nullStr(t.CounterGroup), t.InlinePrefix, t.Materializer, nullStr(t.SubtypeRef),
		t.NeedsExternalRender,
	)
	if err != nil {
		return fmt.Errorf("register view type %q: %w", t.ID, err)
	}
	for _, alias := range t.Aliases {
		if _, err := s.db.Exec(
			`INSERT INTO view_type_aliases (alias, view_type_id) VALUES (?, ?)
			 ON CONFLICT(alias) DO UPDATE SET view_type_id = excluded.view_type_id`,
			alias, t.ID,
		); err != nil {
			return fmt.Errorf("register view type alias %q: %w", alias, err)
		}
	}
	return nil
}

// RegisterAttributeType registers (or overrides) one attribute slot on an
// object/float/specification type, replacing any prior enum values.
func (s *Store) RegisterAttributeType(a AttributeType) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO attribute_types (owner_kind, owner_type_id, name, datatype, min_occurs, max_occurs, min_value, max_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_kind, owner_type_id, name) DO UPDATE SET
			datatype = excluded.datatype, min_occurs = excluded.min_occurs,
			max_occurs = excluded.max_occurs, min_value = excluded.min_value, max_value = excluded.max_value`,
		string(a.OwnerKind), a.OwnerTypeID, a.Name, string(a.Datatype), a.MinOccurs, a.MaxOccurs,
		a.MinValue, a.MaxValue,
	)
	if err != nil {
		return fmt.Errorf("register attribute type %s.%s: %w", a.OwnerTypeID, a.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if id == 0 {
		row := tx.QueryRow(
			`SELECT id FROM attribute_types WHERE owner_kind = ? AND owner_type_id = ? AND name = ?`,
			string(a.OwnerKind), a.OwnerTypeID, a.Name,
		)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("resolve attribute type id: %w", err)
		}
	}

	if len(a.EnumValues) > 0 {
		if _, err := tx.Exec(`DELETE FROM enum_values WHERE attribute_type_id = ?`, id); err != nil {
			return fmt.Errorf("clear enum values: %w", err)
		}
		for i, v := range a.EnumValues {
			if _, err := tx.Exec(
				`INSERT INTO enum_values (attribute_type_id, value, ord) VALUES (?, ?, ?)`,
				id, v, i,
			); err != nil {
				return fmt.Errorf("insert enum value %q: %w", v, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store) RegisterImplicitObjectAlias(alias, objectTypeID string) error {
	_, err := s.db.Exec(
		`INSERT INTO implicit_object_aliases (alias, object_type_id) VALUES (?, ?)
		 ON CONFLICT(alias) DO UPDATE SET object_type_id = excluded.object_type_id`,
		alias, objectTypeID,
	)
	return err
}

func (s *Store) RegisterImplicitSpecificationAlias(alias, specTypeID string) error {
	_, err := s.db.Exec(
		`INSERT INTO implicit_specification_aliases (alias, specification_type_id) VALUES (?, ?)
		 ON CONFLICT(alias) DO UPDATE SET specification_type_id = excluded.specification_type_id`,
		alias, specTypeID,
	)
	return err
}

func csvOrNil(items []string) any {
	if len(items) == 0 {
		return nil
	}
	return strings.Join(items, ",")
}

// SplitCSVConstraint parses a comma-separated constraint column back into
// its accepted values; a null/empty column means "unconstrained" and
// returns (nil, false).
func SplitCSVConstraint(raw *string) ([]string, bool) {
	if raw == nil || *raw == "" {
		return nil, false
	}
	parts := strings.Split(*raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, true
}
