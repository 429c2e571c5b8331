package specir

import (
	"fmt"
	"strings"
)

// sanitizeIdent lowercases s and replaces every character outside [a-z0-9]
// with '_', so the result is safe to use unescaped inside a generated
// SQL identifier (view name, column name): after loading, type and
// attribute identifiers come from trusted model files, not user input, but
// we still defensively restrict the character set used to build view DDL.
func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// GeneratePivotViews creates one SQL view per non-composite object type,
// pivoting its EAV attribute rows into typed columns (§4.1 "Dynamic pivot
// views"). Must run after all type loading completes so every attribute
// type is known. Re-running (e.g. after a domain model override changes an
// attribute's datatype) drops and recreates each view.
func (s *Store) GeneratePivotViews() error {
	rows, err := s.db.Query(`SELECT id FROM object_types WHERE is_composite = 0`)
	if err != nil {
		return fmt.Errorf("listing non-composite object types: %w", err)
	}
	var typeIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan object type id: %w", err)
		}
		typeIDs = append(typeIDs, id)
	}
	rows.Close()

	for _, typeID := range typeIDs {
		if err := s.generatePivotView(typeID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) generatePivotView(typeID string) error {
	attrRows, err := s.db.Query(
		`SELECT name, datatype FROM attribute_types WHERE owner_kind = 'object' AND owner_type_id = ?`,
		typeID,
	)
	if err != nil {
		return fmt.Errorf("listing attribute types for %q: %w", typeID, err)
	}
	type col struct{ name, column string }
	var cols []col
	for attrRows.Next() {
		var name, datatype string
		if err := attrRows.Scan(&name, &datatype); err != nil {
			attrRows.Close()
			return fmt.Errorf("scan attribute type: %w", err)
		}
		cols = append(cols, col{name: name, column: typedColumnFor(datatype)})
	}
	attrRows.Close()

	viewName := fmt.Sprintf("view_%s_objects", sanitizeIdent(typeID))

	var b strings.Builder
	fmt.Fprintf(&b, "DROP VIEW IF EXISTS %s;\n", viewName)
	fmt.Fprintf(&b, "CREATE VIEW %s AS\nSELECT o.id AS object_id, o.pid, o.label, o.title", viewName)
	for _, c := range cols {
		colIdent := sanitizeIdent(c.name)
		fmt.Fprintf(&b, ",\n  MAX(CASE WHEN av.name = '%s' THEN av.%s END) AS %s",
			escapeSQLLiteral(c.name), c.column, colIdent)
	}
	fmt.Fprintf(&b, "\nFROM spec_objects o\nLEFT JOIN spec_attribute_values av ON av.owner_object_id = o.id\n")
	fmt.Fprintf(&b, "WHERE o.type_ref = '%s'\nGROUP BY o.id;", escapeSQLLiteral(typeID))

	if _, err := s.db.Exec(b.String()); err != nil {
		return fmt.Errorf("creating pivot view %q: %w", viewName, err)
	}
	return nil
}

func typedColumnFor(datatype string) string {
	switch Datatype(datatype) {
	case DatatypeInt:
		return "int_value"
	case DatatypeReal:
		return "real_value"
	case DatatypeBool:
		return "bool_value"
	case DatatypeDate:
		return "date_value"
	case DatatypeEnum:
		return "enum_value"
	case DatatypeXHTML:
		return "xhtml_value"
	default:
		return "string_value"
	}
}

func escapeSQLLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
