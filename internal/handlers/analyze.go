package handlers

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/specir"
)

// NewAnalyzeHandlers returns the five built-in ANALYZE-phase handlers
// (§4.6), in the prerequisite order the spec names.
func NewAnalyzeHandlers() []orchestrator.Handler {
	return []orchestrator.Handler{
		PreAnalysisCleanup(),
		PIDAssignment(),
		FloatParentAssignment(),
		RelationAnalyzer(),
		AttributeCaster(),
	}
}

// PreAnalysisCleanup nulls out dangling relation targets left over from a
// re-parse that deleted their former target row and clears their type_ref,
// so the relation analyzer, which walks every specification holding an
// unresolved relation, analyzes them again (§4.6 "Pre-analysis cleanup").
func PreAnalysisCleanup() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "pre-analysis-cleanup",
		OnAnalyze: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()
			if _, err := tx.ClearDanglingRelationTargets(); err != nil {
				return fmt.Errorf("pre-analysis-cleanup: %w", err)
			}
			return tx.Commit()
		},
	}
}

var pidSeqPattern = regexp.MustCompile(`^(.*?)(\d+)$`)

// PIDAssignment walks unpidded objects in document order and assigns the
// next sequence number in their type's dominant PID prefix/format (the
// prefix and zero-padded width of the highest-numbered existing PID of
// that type in the specification), per
// §4.6 "PID assignment": "examine same-type siblings that already carry a
// PID... determine the dominant prefix and numeric format... assign the
// next sequence number... flag the assignment as auto-generated".
func PIDAssignment() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "pid-assignment",
		OnAnalyze: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT id, type_ref, pid FROM spec_objects
					 WHERE specification_id = ?
					 ORDER BY from_file, file_seq`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("pid-assignment: %w", err)
				}

				nextSeq := map[string]int{}  // type_ref -> next sequence
				prefixes := map[string]string{}
				formats := map[string]string{}
				seen := map[string]bool{}

				for _, row := range rows {
					typeRef := row.String("type_ref")
					pid := row.String("pid")
					if pid == "" {
						continue
					}
					m := pidSeqPattern.FindStringSubmatch(pid)
					if m == nil {
						continue
					}
					prefix, numStr := m[1], m[2]
					n, err := strconv.Atoi(numStr)
					if err != nil {
						continue
					}
					if !seen[typeRef] || n >= nextSeq[typeRef] {
						prefixes[typeRef] = prefix
						formats[typeRef] = fmt.Sprintf("%%0%dd", len(numStr))
						seen[typeRef] = true
					}
					if n >= nextSeq[typeRef] {
						nextSeq[typeRef] = n + 1
					}
				}

				for _, row := range rows {
					id := row.Int64("id")
					typeRef := row.String("type_ref")
					pid := row.String("pid")
					if pid != "" {
						continue
					}

					prefix, ok := prefixes[typeRef]
					format := formats[typeRef]
					if !ok {
						prefix = typeRef + "-"
						format = "%d"
					}
					seq := nextSeq[typeRef]
					nextSeq[typeRef] = seq + 1

					newPID := prefix + fmt.Sprintf(format, seq)
					if err := tx.UpdateObjectPID(id, newPID, prefix, seq, format, true); err != nil {
						return fmt.Errorf("pid-assignment: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// FloatParentAssignment assigns each float's parent_object_id to the
// nearest preceding spec object in document order of the same source
// file (§3.2): "A float's parent_object_id is the nearest preceding
// spec object in document order of the same source file." A float with
// no preceding object in its file is left parentless.
func FloatParentAssignment() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "float-parent-assignment",
		OnAnalyze: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				objRows, err := store.QueryAll(
					`SELECT id, from_file, start_line FROM spec_objects
					 WHERE specification_id = ? ORDER BY from_file, start_line`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("float-parent-assignment: %w", err)
				}

				type objectMark struct {
					id        int64
					startLine int64
				}
				objectsByFile := map[string][]objectMark{}
				for _, row := range objRows {
					fromFile := row.String("from_file")
					objectsByFile[fromFile] = append(objectsByFile[fromFile], objectMark{
						id:        row.Int64("id"),
						startLine: row.Int64("start_line"),
					})
				}

				floatRows, err := store.QueryAll(
					`SELECT id, from_file, start_line FROM spec_floats
					 WHERE specification_id = ? ORDER BY from_file, start_line`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("float-parent-assignment: %w", err)
				}

				for _, row := range floatRows {
					startLine := row.Int64("start_line")
					var parentID int64
					for _, obj := range objectsByFile[row.String("from_file")] {
						if obj.startLine > startLine {
							break
						}
						parentID = obj.id
					}
					if parentID == 0 {
						continue
					}
					if err := tx.UpdateFloatParentObjectID(row.Int64("id"), parentID); err != nil {
						return fmt.Errorf("float-parent-assignment: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// RelationAnalyzer implements §4.6's unified relation analyzer: for every
// unresolved relation, pre-match candidate relation types against three
// dimensions (selector, source object type, source attribute), resolve the
// candidate set's resolver roots via the scoped-resolution policy, then
// score surviving candidates on a fourth dimension (does the resolved
// target's type match the candidate's target-type constraint). Each
// surviving candidate's specificity is the count of its matched
// non-null constraints (selector, source type, source attribute, plus
// the fourth target-type dimension when matched); the highest-scoring
// candidate wins. A tie for the top score is recorded ambiguous; no
// candidate leaves the relation unresolved.
func RelationAnalyzer() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "relation-analyzer",
		Prerequisites: []string{"pre-analysis-cleanup", "float-parent-assignment"},
		OnAnalyze: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			relTypes, err := loadRelationTypes(store)
			if err != nil {
				return fmt.Errorf("relation-analyzer: %w", err)
			}

			specRows, err := store.QueryAll(
				`SELECT DISTINCT specification_id FROM spec_relations
				 WHERE type_ref IS NULL ORDER BY specification_id`,
			)
			if err != nil {
				return fmt.Errorf("relation-analyzer: %w", err)
			}

			for _, specRow := range specRows {
				specID := specRow.Int64("specification_id")
				rows, err := store.QueryAll(
					`SELECT r.id, r.source_object_id, r.raw_target, r.link_selector,
					        r.source_attribute, o.type_ref AS source_type_ref
					 FROM spec_relations r
					 JOIN spec_objects o ON o.id = r.source_object_id
					 WHERE r.specification_id = ? AND r.type_ref IS NULL`,
					specID,
				)
				if err != nil {
					return fmt.Errorf("relation-analyzer: %w", err)
				}

				for _, row := range rows {
					relID := row.Int64("id")
					sourceObjectID := row.Int64("source_object_id")
					rawTarget := row.String("raw_target")
					selector := row.String("link_selector")
					sourceAttr := row.String("source_attribute")
					sourceType := row.String("source_type_ref")

					candidates := preMatchCandidates(relTypes, selector, sourceType, sourceAttr)
					if len(candidates) == 0 {
						continue
					}

					type scored struct {
						typeRef     string
						target      specir.ResolvedTarget
						specificity int
					}
					var winners []scored
					seenRoot := map[string]bool{}

					for _, cand := range candidates {
						root, err := store.ResolverRootOf(cand.ID)
						if err != nil {
							return fmt.Errorf("relation-analyzer: %w", err)
						}
						if seenRoot[root] {
							continue
						}
						seenRoot[root] = true

						resolver, ok := store.Resolvers().Lookup(root)
						if !ok {
							continue
						}
						target, ok := resolver(store, specID, rawTarget, sourceObjectID)
						if !ok {
							continue
						}

						for _, c2 := range candidates {
							r2, err := store.ResolverRootOf(c2.ID)
							if err != nil {
								return fmt.Errorf("relation-analyzer: %w", err)
							}
							if r2 != root {
								continue
							}
							if targetTypeMatches(c2, target.TypeRef) {
								winners = append(winners, scored{
									typeRef:     c2.ID,
									target:      target,
									specificity: specificityOf(c2, target.TypeRef),
								})
							}
						}
					}

					if len(winners) == 0 {
						continue
					}

					best := winners[0]
					ties := 1
					for _, w := range winners[1:] {
						switch {
						case w.specificity > best.specificity:
							best = w
							ties = 1
						case w.specificity == best.specificity:
							ties++
						}
					}

					ambiguous := ties > 1 || best.target.IsAmbiguous
					var targetObjectID, targetFloatID int64
					switch best.target.Kind {
					case specir.TargetObject:
						targetObjectID = best.target.ID
					case specir.TargetFloat:
						targetFloatID = best.target.ID
					}
					if err := tx.ResolveRelation(relID, targetObjectID, targetFloatID, best.typeRef, ambiguous); err != nil {
						return fmt.Errorf("relation-analyzer: %w", err)
					}
				}
			}
			return tx.Commit()
		},
	}
}

// relationTypeConstraint is a relation type's matching constraints, loaded
// once per ANALYZE run.
type relationTypeConstraint struct {
	specir.RelationType
}

func loadRelationTypes(store *specir.Store) ([]relationTypeConstraint, error) {
	rows, err := store.QueryAll(`SELECT id, parent_id, source_types, target_types, selector, source_attribute FROM relation_types`)
	if err != nil {
		return nil, err
	}
	var out []relationTypeConstraint
	for _, row := range rows {
		var sourceTypesPtr, targetTypesPtr *string
		if v := row.String("source_types"); v != "" {
			sourceTypesPtr = &v
		}
		if v := row.String("target_types"); v != "" {
			targetTypesPtr = &v
		}
		sourceTypes, _ := specir.SplitCSVConstraint(sourceTypesPtr)
		targetTypes, _ := specir.SplitCSVConstraint(targetTypesPtr)
		out = append(out, relationTypeConstraint{specir.RelationType{
			ID:              row.String("id"),
			ParentID:        row.String("parent_id"),
			SourceTypes:     sourceTypes,
			TargetTypes:     targetTypes,
			Selector:        row.String("selector"),
			SourceAttribute: row.String("source_attribute"),
		}})
	}
	return out, nil
}

// preMatchCandidates implements §4.6's "3-dimension pre-match": a relation
// type matches if its selector, source-type, and source-attribute
// constraints are each either unconstrained or satisfied.
func preMatchCandidates(types []relationTypeConstraint, selector, sourceType, sourceAttr string) []relationTypeConstraint {
	var out []relationTypeConstraint
	for _, t := range types {
		if t.Selector != "" && t.Selector != selector {
			continue
		}
		if len(t.SourceTypes) > 0 && !contains(t.SourceTypes, sourceType) {
			continue
		}
		if t.SourceAttribute != "" && t.SourceAttribute != sourceAttr {
			continue
		}
		out = append(out, t)
	}
	return out
}

// targetTypeMatches implements the 4th scoring dimension: an unconstrained
// target-type list matches anything.
func targetTypeMatches(t relationTypeConstraint, targetTypeRef string) bool {
	if len(t.TargetTypes) == 0 {
		return true
	}
	return contains(t.TargetTypes, targetTypeRef)
}

// specificityOf scores a candidate's match: one point per matched
// non-null constraint among selector, source types, and source
// attribute, plus one more when the candidate also constrains the
// target type (§4.6 step 4 scoring). The pre-match already guarantees
// each counted constraint is satisfied, not merely present.
func specificityOf(t relationTypeConstraint, targetTypeRef string) int {
	score := 0
	if t.Selector != "" {
		score++
	}
	if len(t.SourceTypes) > 0 {
		score++
	}
	if t.SourceAttribute != "" {
		score++
	}
	if len(t.TargetTypes) > 0 && targetTypeMatches(t, targetTypeRef) {
		score++
	}
	return score
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// AttributeCaster casts every attribute value's raw string into its typed
// column per the attribute type's datatype (§4.6 "Attribute casting");
// a value that fails to parse leaves its typed column null rather than
// aborting the build — the proof view engine reports it (§4.8
// `object_cast_failures`).
func AttributeCaster() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "attribute-caster",
		OnAnalyze: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT av.id, av.raw_value, av.name, at.datatype AS datatype
					 FROM spec_attribute_values av
					 LEFT JOIN spec_objects o ON o.id = av.owner_object_id
					 LEFT JOIN spec_floats f ON f.id = av.owner_float_id
					 LEFT JOIN attribute_types at ON at.name = av.name AND (
					     (o.id IS NOT NULL AND at.owner_kind = 'object' AND at.owner_type_id = o.type_ref) OR
					     (f.id IS NOT NULL AND at.owner_kind = 'float' AND at.owner_type_id = f.type_ref)
					 )
					 WHERE av.specification_id = ?`,
					ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("attribute-caster: %w", err)
				}

				for _, row := range rows {
					id := row.Int64("id")
					raw := row.String("raw_value")
					datatype := specir.Datatype(row.String("datatype"))
					if datatype == "" {
						continue
					}

					value := &specir.SpecAttributeValue{}
					castAttributeValue(value, raw, datatype)
					if err := tx.CastAttributeValue(id, value); err != nil {
						diags.Add(diagnostics.Diagnostic{
							Severity: diagnostics.SeverityError, PolicyKey: "object_cast_failures",
							Phase: "ANALYZE", Handler: "attribute-caster", Message: fmt.Sprintf("casting attribute %d: %v", id, err),
						})
					}
				}
			}
			return tx.Commit()
		},
	}
}

// castAttributeValue fills exactly one typed field of value from raw,
// per datatype (§3.1 Datatype primitives). Parse failures are silent —
// the typed column stays nil and a proof view reports it later.
func castAttributeValue(value *specir.SpecAttributeValue, raw string, datatype specir.Datatype) {
	switch datatype {
	case specir.DatatypeString, specir.DatatypeXHTML:
		s := raw
		value.StringValue = &s
	case specir.DatatypeInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			value.IntValue = &n
		}
	case specir.DatatypeReal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			value.RealValue = &f
		}
	case specir.DatatypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			value.BoolValue = &b
		}
	case specir.DatatypeDate:
		if isValidDate(raw) {
			s := raw
			value.DateValue = &s
		}
	case specir.DatatypeEnum:
		s := raw
		value.EnumValue = &s
	}
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// isValidDate checks the ISO-8601 `YYYY-MM-DD` shape §3.1 names for the
// date datatype.
func isValidDate(raw string) bool {
	return datePattern.MatchString(raw)
}
