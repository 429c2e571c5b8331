package specir

import (
	"database/sql"
	"fmt"
)

// Tx wraps a *sql.Tx with the canonical content-table CRUD used by phase
// handlers. Every multi-row mutation in the pipeline runs inside a Tx; each
// handler begins its own and commits it when its hook finishes (§4.4, §5).
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction. The caller must Commit or Rollback.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Raw exposes the underlying *sql.Tx for ad-hoc statements (proof-view
// DDL-free queries never need this; handlers writing bespoke SQL do).
func (t *Tx) Raw() *sql.Tx { return t.tx }

// --- Specification ---------------------------------------------------------

func (t *Tx) InsertSpecification(sp *Specification) (int64, error) {
	_, err := t.tx.Exec(
		`INSERT INTO specifications (root_path, long_name, type_ref, pid, header_ast, body_ast)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(root_path) DO UPDATE SET
			long_name = excluded.long_name,
			type_ref = excluded.type_ref,
			pid = excluded.pid,
			header_ast = excluded.header_ast,
			body_ast = excluded.body_ast`,
		sp.RootPath, sp.LongName, sp.TypeRef, sp.PID, sp.HeaderAST, sp.BodyAST,
	)
	if err != nil {
		return 0, fmt.Errorf("insert specification: %w", err)
	}
	// Look the row back up by root_path: when the upsert updated an existing
	// row, LastInsertId does not report that row's id.
	var id int64
	row := t.tx.QueryRow(`SELECT id FROM specifications WHERE root_path = ?`, sp.RootPath)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("resolve specification id: %w", scanErr)
	}
	return id, nil
}

// DeleteSpecificationContent deletes-and-recreates content rows for a
// document on rebuild (§3.5 Lifecycle): cascades to objects, floats,
// relations, views, attribute values via ON DELETE CASCADE once the
// specification row itself is not deleted — so this targets the child
// tables directly, leaving the specification row (and its id) stable.
func (t *Tx) DeleteSpecificationContent(specID int64) error {
	stmts := []string{
		`DELETE FROM spec_attribute_values WHERE specification_id = ?`,
		`DELETE FROM spec_relations WHERE specification_id = ?`,
		`DELETE FROM spec_views WHERE specification_id = ?`,
		`DELETE FROM spec_floats WHERE specification_id = ?`,
		`DELETE FROM spec_objects WHERE specification_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := t.tx.Exec(stmt, specID); err != nil {
			return fmt.Errorf("delete specification content: %w", err)
		}
	}
	return nil
}

// --- Spec Object -------------------------------------------------------------

func (t *Tx) InsertObject(o *SpecObject) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO spec_objects
			(specification_id, type_ref, from_file, file_seq, pid, pid_prefix, pid_seq,
			 pid_format, pid_auto, title, label, level, start_line, end_line, ast,
			 content_hash, alt_repr)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.SpecificationID, o.TypeRef, o.FromFile, o.FileSeq, nullStr(o.PID), nullStr(o.PIDPrefix),
		nullIntPos(o.PIDSeq), nullStr(o.PIDFormat), o.PIDAuto, o.Title, nullStr(o.Label), o.Level,
		o.StartLine, nullIntPos(o.EndLine), o.AST, o.ContentHash, nullStr(o.AltRepr),
	)
	if err != nil {
		return 0, fmt.Errorf("insert object: %w", err)
	}
	return res.LastInsertId()
}

func (t *Tx) UpdateObjectPID(id int64, pid, prefix string, seq int, format string, auto bool) error {
	_, err := t.tx.Exec(
		`UPDATE spec_objects SET pid = ?, pid_prefix = ?, pid_seq = ?, pid_format = ?, pid_auto = ?
		 WHERE id = ?`,
		pid, prefix, seq, format, auto, id,
	)
	if err != nil {
		return fmt.Errorf("update object pid: %w", err)
	}
	return nil
}

// UpdateObjectAST overwrites an object's rendered AST (§4.7 Object
// renderer: "per-type render callback producing header/body AST merged
// into `ast`").
func (t *Tx) UpdateObjectAST(id int64, ast string) error {
	_, err := t.tx.Exec(`UPDATE spec_objects SET ast = ? WHERE id = ?`, ast, id)
	if err != nil {
		return fmt.Errorf("update object ast: %w", err)
	}
	return nil
}

// UpdateSpecificationHeaderAST overwrites a specification's title AST
// (§4.7 Specification header renderer).
func (t *Tx) UpdateSpecificationHeaderAST(id int64, headerAST string) error {
	_, err := t.tx.Exec(`UPDATE specifications SET header_ast = ? WHERE id = ?`, headerAST, id)
	if err != nil {
		return fmt.Errorf("update specification header_ast: %w", err)
	}
	return nil
}

// --- Spec Float --------------------------------------------------------------

func (t *Tx) InsertFloat(f *SpecFloat) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO spec_floats
			(specification_id, type_ref, from_file, file_seq, start_line, label, number,
			 caption, pandoc_attrs, raw_content, raw_ast, resolved_ast, parent_object_id,
			 anchor, syntax_key)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.SpecificationID, f.TypeRef, f.FromFile, f.FileSeq, f.StartLine, nullStr(f.Label),
		nullIntPos(f.Number), f.Caption, f.PandocAttrs, f.RawContent, f.RawAST,
		nullStr(f.ResolvedAST), nullIntPos64(f.ParentObjectID), nullStr(f.Anchor), f.SyntaxKey,
	)
	if err != nil {
		return 0, fmt.Errorf("insert float: %w", err)
	}
	return res.LastInsertId()
}

func (t *Tx) UpdateFloatResolvedAST(id int64, resolvedAST string) error {
	_, err := t.tx.Exec(`UPDATE spec_floats SET resolved_ast = ? WHERE id = ?`, resolvedAST, id)
	if err != nil {
		return fmt.Errorf("update float resolved_ast: %w", err)
	}
	return nil
}

func (t *Tx) UpdateFloatNumber(id int64, number int) error {
	_, err := t.tx.Exec(`UPDATE spec_floats SET number = ? WHERE id = ?`, number, id)
	if err != nil {
		return fmt.Errorf("update float number: %w", err)
	}
	return nil
}

func (t *Tx) UpdateFloatParentObjectID(id int64, parentObjectID int64) error {
	_, err := t.tx.Exec(`UPDATE spec_floats SET parent_object_id = ? WHERE id = ?`, nullIntPos64(parentObjectID), id)
	if err != nil {
		return fmt.Errorf("update float parent_object_id: %w", err)
	}
	return nil
}

func (t *Tx) OrphanFloatsWithDeletedParent(specID int64) error {
	_, err := t.tx.Exec(
		`UPDATE spec_floats SET parent_object_id = NULL
		 WHERE specification_id = ? AND parent_object_id IS NOT NULL
		   AND parent_object_id NOT IN (SELECT id FROM spec_objects)`,
		specID,
	)
	if err != nil {
		return fmt.Errorf("orphan floats with deleted parent: %w", err)
	}
	return nil
}

// --- Spec Relation -------------------------------------------------------------

func (t *Tx) InsertRelation(r *SpecRelation) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO spec_relations
			(specification_id, source_object_id, raw_target, target_object_id, target_float_id,
			 type_ref, is_ambiguous, from_file, link_line, source_attribute, link_selector)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.SpecificationID, r.SourceObjectID, r.RawTarget, nullIntPos64(r.TargetObjectID),
		nullIntPos64(r.TargetFloatID), nullStr(r.TypeRef), r.IsAmbiguous, r.FromFile,
		r.LinkLine, nullStr(r.SourceAttribute), r.LinkSelector,
	)
	if err != nil {
		return 0, fmt.Errorf("insert relation: %w", err)
	}
	return res.LastInsertId()
}

func (t *Tx) ResolveRelation(id int64, targetObjectID, targetFloatID int64, typeRef string, ambiguous bool) error {
	_, err := t.tx.Exec(
		`UPDATE spec_relations
		 SET target_object_id = ?, target_float_id = ?, type_ref = ?, is_ambiguous = ?
		 WHERE id = ?`,
		nullIntPos64(targetObjectID), nullIntPos64(targetFloatID), nullStr(typeRef), ambiguous, id,
	)
	if err != nil {
		return fmt.Errorf("resolve relation: %w", err)
	}
	return nil
}

// ClearDanglingRelationTargets nulls out target_object_id/target_float_id
// (and type_ref, forcing re-analysis) for any relation whose resolved
// target no longer exists — e.g. after a re-parse deleted the target row
// (§4.6 Pre-analysis cleanup).
func (t *Tx) ClearDanglingRelationTargets() (int, error) {
	res, err := t.tx.Exec(
		`UPDATE spec_relations SET target_object_id = NULL, type_ref = NULL
		 WHERE target_object_id IS NOT NULL
		   AND target_object_id NOT IN (SELECT id FROM spec_objects)`,
	)
	if err != nil {
		return 0, fmt.Errorf("clear dangling object targets: %w", err)
	}
	n1, _ := res.RowsAffected()

	res, err = t.tx.Exec(
		`UPDATE spec_relations SET target_float_id = NULL, type_ref = NULL
		 WHERE target_float_id IS NOT NULL
		   AND target_float_id NOT IN (SELECT id FROM spec_floats)`,
	)
	if err != nil {
		return 0, fmt.Errorf("clear dangling float targets: %w", err)
	}
	n2, _ := res.RowsAffected()

	// The target foreign keys are ON DELETE SET NULL, so deleting a target
	// row usually nulls the id before this runs; such a relation still
	// carries its type_ref, which is cleared here.
	res, err = t.tx.Exec(
		`UPDATE spec_relations SET type_ref = NULL
		 WHERE type_ref IS NOT NULL
		   AND target_object_id IS NULL AND target_float_id IS NULL`,
	)
	if err != nil {
		return 0, fmt.Errorf("clear relations with deleted targets: %w", err)
	}
	n3, _ := res.RowsAffected()
	return int(n1 + n2 + n3), nil
}

// --- Spec View -----------------------------------------------------------------

func (t *Tx) InsertView(v *SpecView) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO spec_views
			(specification_id, view_type_ref, from_file, file_seq, start_line, raw_ast,
			 resolved_ast, resolved_data)
		 VALUES (?,?,?,?,?,?,?,?)`,
		v.SpecificationID, v.ViewTypeRef, v.FromFile, v.FileSeq, v.StartLine, v.RawAST,
		nullStr(v.ResolvedAST), nullStr(v.ResolvedData),
	)
	if err != nil {
		return 0, fmt.Errorf("insert view: %w", err)
	}
	return res.LastInsertId()
}

func (t *Tx) UpdateViewResolved(id int64, resolvedAST, resolvedData string) error {
	_, err := t.tx.Exec(
		`UPDATE spec_views SET resolved_ast = ?, resolved_data = ? WHERE id = ?`,
		nullStr(resolvedAST), nullStr(resolvedData), id,
	)
	if err != nil {
		return fmt.Errorf("update view resolved state: %w", err)
	}
	return nil
}

// --- Spec Attribute Value --------------------------------------------------------

func (t *Tx) InsertAttributeValue(a *SpecAttributeValue) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO spec_attribute_values
			(specification_id, owner_object_id, owner_float_id, name, raw_value,
			 string_value, int_value, real_value, bool_value, date_value, enum_value,
			 ast_value, xhtml_value, datatype)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.SpecificationID, nullIntPos64(a.OwnerObjectID), nullIntPos64(a.OwnerFloatID),
		a.Name, a.RawValue, a.StringValue, a.IntValue, a.RealValue, a.BoolValue,
		a.DateValue, a.EnumValue, a.ASTValue, a.XHTMLValue, string(a.Datatype),
	)
	if err != nil {
		return 0, fmt.Errorf("insert attribute value: %w", err)
	}
	return res.LastInsertId()
}

func (t *Tx) CastAttributeValue(id int64, a *SpecAttributeValue) error {
	_, err := t.tx.Exec(
		`UPDATE spec_attribute_values
		 SET string_value = ?, int_value = ?, real_value = ?, bool_value = ?,
		     date_value = ?, enum_value = ?
		 WHERE id = ?`,
		a.StringValue, a.IntValue, a.RealValue, a.BoolValue, a.DateValue, a.EnumValue, id,
	)
	if err != nil {
		return fmt.Errorf("cast attribute value: %w", err)
	}
	return nil
}

// --- Search index (§3.4, populated by EMIT step 8) --------------------------

// IndexObject replaces fts_objects' row for id with title/body/raw_source
// plain text, derived from the object's rendered AST by the caller
// (pandocast.PlainText). Delete-then-insert works for both the FTS5 virtual
// table and the fallback plain table.
func (t *Tx) IndexObject(id int64, title, body, rawSource string) error {
	if _, err := t.tx.Exec(`DELETE FROM fts_objects WHERE object_id = ?`, id); err != nil {
		return fmt.Errorf("clearing object search index: %w", err)
	}
	_, err := t.tx.Exec(
		`INSERT INTO fts_objects (object_id, title, body, raw_source) VALUES (?,?,?,?)`,
		id, title, body, rawSource,
	)
	if err != nil {
		return fmt.Errorf("indexing object: %w", err)
	}
	return nil
}

// IndexAttributeValue replaces fts_attributes' row for id.
func (t *Tx) IndexAttributeValue(id int64, value string) error {
	if _, err := t.tx.Exec(`DELETE FROM fts_attributes WHERE attribute_value_id = ?`, id); err != nil {
		return fmt.Errorf("clearing attribute search index: %w", err)
	}
	_, err := t.tx.Exec(`INSERT INTO fts_attributes (attribute_value_id, value) VALUES (?,?)`, id, value)
	if err != nil {
		return fmt.Errorf("indexing attribute value: %w", err)
	}
	return nil
}

// IndexFloat replaces fts_floats' row for id.
func (t *Tx) IndexFloat(id int64, caption, rawSource string) error {
	if _, err := t.tx.Exec(`DELETE FROM fts_floats WHERE float_id = ?`, id); err != nil {
		return fmt.Errorf("clearing float search index: %w", err)
	}
	_, err := t.tx.Exec(`INSERT INTO fts_floats (float_id, caption, raw_source) VALUES (?,?,?)`, id, caption, rawSource)
	if err != nil {
		return fmt.Errorf("indexing float: %w", err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIntPos(n int) any {
	if n <= 0 {
		return nil
	}
	return n
}

func nullIntPos64(n int64) any {
	if n <= 0 {
		return nil
	}
	return n
}
