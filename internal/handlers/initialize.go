package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oxspec/speccompiler/internal/diagnostics"
	"github.com/oxspec/speccompiler/internal/orchestrator"
	"github.com/oxspec/speccompiler/internal/pandocast"
	"github.com/oxspec/speccompiler/internal/specir"
)

// NewInitializeHandlers returns the six built-in INITIALIZE-phase handlers
// (§4.5), wired with the prerequisite ordering the spec names explicitly.
func NewInitializeHandlers() []orchestrator.Handler {
	return []orchestrator.Handler{
		SpecificationParser(),
		ObjectParser(),
		FloatParser(),
		ViewParser(),
		AttributeParser(),
		RelationParser(),
	}
}

// SpecificationParser walks the first-level header and upserts the
// specification row, stamping each context's SpecificationID.
func SpecificationParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name: "specification-parser",
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				blocks, err := pandocast.ParseBlocks(ctx.AST)
				if err != nil {
					diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "specification-parser", File: ctx.SourceFile, Message: fmt.Sprintf("parsing AST: %v", err)})
					continue
				}

				var longName, typeAlias string
				var headerAST []byte
				for _, b := range blocks {
					if b.Type == pandocast.Header && b.Level == 1 {
						title, alias, _ := ExtractTitleAnnotations(pandocast.PlainText(b.Inlines))
						longName, typeAlias = title, alias
						headerAST, _ = pandocast.MarshalBlocks([]pandocast.Node{b})
						break
					}
				}
				if longName == "" {
					longName = ctx.SourceFile
				}

				typeRef, err := ResolveSpecificationType(store, typeAlias)
				if err != nil {
					return fmt.Errorf("specification-parser: resolving type for %q: %w", ctx.SourceFile, err)
				}

				id, err := tx.InsertSpecification(&specir.Specification{
					RootPath: ctx.SourceFile,
					LongName: longName,
					TypeRef:  typeRef,
					HeaderAST: string(headerAST),
				})
				if err != nil {
					return fmt.Errorf("specification-parser: %w", err)
				}
				ctx.SpecificationID = id
				if ctx.Scratch == nil {
					ctx.Scratch = map[string]any{}
				}
			}
			return tx.Commit()
		},
	}
}

// ObjectParser walks every header at depth >= 2, inferring type, title,
// and PID, and computing a unique label.
func ObjectParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "object-parser",
		Prerequisites: []string{"specification-parser"},
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				if err := tx.DeleteSpecificationContent(ctx.SpecificationID); err != nil {
					return err
				}

				blocks, err := pandocast.ParseBlocks(ctx.AST)
				if err != nil {
					continue // specification-parser already recorded a diagnostic
				}

				used := map[string]bool{}
				seq := 0
				var insertedIDs []int64
				pandocast.WalkHeaders(blocks, func(index int, h pandocast.Node) {
					if h.Level < 2 {
						return
					}
					rawTitle := pandocast.PlainText(h.Inlines)
					title, typeAlias, explicitPID := ExtractTitleAnnotations(rawTitle)

					typeRef, err := ResolveObjectType(store, typeAlias)
					if err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "object-parser", File: ctx.SourceFile, Message: err.Error()})
						return
					}

					prefix := typeRef
					if row, err := store.QueryOne(`SELECT prefix FROM object_types WHERE id = ?`, typeRef); err == nil && row != nil && row.String("prefix") != "" {
						prefix = row.String("prefix")
					}
					label := UniqueLabel(strings.ToLower(prefix)+":"+Slugify(title), used)

					astBytes, _ := pandocast.MarshalBlocks([]pandocast.Node{h})
					seq++
					id, err := tx.InsertObject(&specir.SpecObject{
						SpecificationID: ctx.SpecificationID,
						TypeRef:         typeRef,
						FromFile:        ctx.SourceFile,
						FileSeq:         seq,
						PID:             explicitPID,
						Title:           title,
						Label:           label,
						Level:           h.Level,
						StartLine:       h.Line,
						AST:             string(astBytes),
					})
					if err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "object-parser", File: ctx.SourceFile, Message: err.Error()})
						return
					}
					insertedIDs = append(insertedIDs, id)
				})
				ctx.Scratch["object_ids"] = insertedIDs
			}
			return tx.Commit()
		},
	}
}

// FloatParser walks fenced code blocks whose first class aliases a float
// type, creating a float row per match.
func FloatParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "float-parser",
		Prerequisites: []string{"specification-parser"},
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				blocks, err := pandocast.ParseBlocks(ctx.AST)
				if err != nil {
					continue
				}
				used := map[string]bool{}
				var floatIDs []int64
				pandocast.WalkCodeBlocks(blocks, func(index int, c pandocast.Node) {
					typeAlias, explicitLabel := SplitClassLabel(c.FirstClass())
					typeRef, ok, err := ResolveFloatType(store, typeAlias)
					if err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "float-parser", File: ctx.SourceFile, Message: err.Error()})
						return
					}
					if !ok {
						return
					}

					label := explicitLabel
					if label == "" && c.Attr != nil {
						label = c.Attr.ID
					}
					if label != "" {
						label = UniqueLabel(label, used)
					}

					rawAST, _ := pandocast.MarshalBlocks([]pandocast.Node{c})
					id, err := tx.InsertFloat(&specir.SpecFloat{
						SpecificationID: ctx.SpecificationID,
						TypeRef:         typeRef,
						FromFile:        ctx.SourceFile,
						FileSeq:         index,
						StartLine:       c.Line,
						Label:           label,
						RawContent:      c.Text,
						RawAST:          string(rawAST),
						SyntaxKey:       typeAlias,
					})
					if err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "float-parser", File: ctx.SourceFile, Message: err.Error()})
						return
					}
					floatIDs = append(floatIDs, id)
				})
				ctx.Scratch["float_ids"] = floatIDs
			}
			return tx.Commit()
		},
	}
}

// ViewParser walks code blocks whose first class aliases a view type,
// creating a view row per match (§4.5).
func ViewParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "view-parser",
		Prerequisites: []string{"specification-parser"},
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				blocks, err := pandocast.ParseBlocks(ctx.AST)
				if err != nil {
					continue
				}
				pandocast.WalkCodeBlocks(blocks, func(index int, c pandocast.Node) {
					typeAlias, _ := SplitClassLabel(c.FirstClass())
					typeRef, ok, err := ResolveViewType(store, typeAlias)
					if err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "view-parser", File: ctx.SourceFile, Message: err.Error()})
						return
					}
					if !ok {
						return
					}
					rawAST, _ := pandocast.MarshalBlocks([]pandocast.Node{c})
					if _, err := tx.InsertView(&specir.SpecView{
						SpecificationID: ctx.SpecificationID,
						ViewTypeRef:     typeRef,
						FromFile:        ctx.SourceFile,
						FileSeq:         index,
						StartLine:       c.Line,
						RawAST:          string(rawAST),
					}); err != nil {
						diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "view-parser", File: ctx.SourceFile, Message: err.Error()})
					}
				})
			}
			return tx.Commit()
		},
	}
}

// AttributeParser walks block quotes immediately following a header or
// float and records `name: value` paragraphs as attribute rows on the
// nearest preceding owner.
func AttributeParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "attribute-parser",
		Prerequisites: []string{"object-parser", "float-parser"},
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				blocks, err := pandocast.ParseBlocks(ctx.AST)
				if err != nil {
					continue
				}
				objectIDs, _ := ctx.Scratch["object_ids"].([]int64)
				floatIDs, _ := ctx.Scratch["float_ids"].([]int64)
				objIdx, floatIdx := 0, 0

				var lastObjectID, lastFloatID int64
				lastIsFloat := false
				afterOwner := false

				for _, b := range blocks {
					followsOwner := afterOwner
					afterOwner = false
					switch b.Type {
					case pandocast.Header:
						if b.Level >= 2 && objIdx < len(objectIDs) {
							lastObjectID = objectIDs[objIdx]
							lastIsFloat = false
							objIdx++
							afterOwner = true
						}
					case pandocast.CodeBlock:
						typeAlias, _ := SplitClassLabel(b.FirstClass())
						if _, ok, _ := ResolveFloatType(store, typeAlias); ok && floatIdx < len(floatIDs) {
							lastFloatID = floatIDs[floatIdx]
							lastIsFloat = true
							floatIdx++
							afterOwner = true
						}
					case pandocast.BlockQuote:
						if !followsOwner || (lastObjectID == 0 && lastFloatID == 0) {
							continue
						}
						for _, para := range b.Blocks {
							if para.Type != pandocast.Para && para.Type != pandocast.Plain {
								continue
							}
							text := pandocast.PlainText(para.Inlines)
							name, value, ok := splitAttributeLine(text)
							if !ok {
								continue
							}
							astBytes, _ := json.Marshal(para.Inlines)
							av := &specir.SpecAttributeValue{
								SpecificationID: ctx.SpecificationID,
								Name:            name,
								RawValue:        value,
							}
							astStr := string(astBytes)
							av.ASTValue = &astStr
							if lastIsFloat {
								av.OwnerFloatID = lastFloatID
							} else {
								av.OwnerObjectID = lastObjectID
							}
							if _, err := tx.InsertAttributeValue(av); err != nil {
								diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "attribute-parser", File: ctx.SourceFile, Message: err.Error()})
							}
						}
					}
				}
			}
			return tx.Commit()
		},
	}
}

// splitAttributeLine parses a `name: value` paragraph (§4.5 "each
// paragraph of the form `name: value`"). Multi-line values collapse onto
// one line, since the AST's inline text already lost the original line
// breaks by the time PlainText runs.
func splitAttributeLine(text string) (name, value string, ok bool) {
	idx := strings.Index(text, ":")
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(text[:idx])
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", "", false
	}
	value = strings.TrimSpace(text[idx+1:])
	return name, value, true
}

// RelationParser walks inline links inside object ASTs and attribute-value
// ASTs, recording raw target text without resolving it (§4.5).
func RelationParser() orchestrator.Handler {
	return orchestrator.Handler{
		Name:          "relation-parser",
		Prerequisites: []string{"object-parser"},
		OnInitialize: func(store *specir.Store, contexts []*orchestrator.Context, diags *diagnostics.Collector) error {
			tx, err := store.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()

			for _, ctx := range contexts {
				rows, err := store.QueryAll(
					`SELECT id, ast, 0 AS is_attr, '' AS attr_name FROM spec_objects WHERE specification_id = ?
					 UNION ALL
					 SELECT owner_object_id AS id, ast_value AS ast, 1 AS is_attr, name AS attr_name
					 FROM spec_attribute_values WHERE specification_id = ? AND owner_object_id IS NOT NULL AND ast_value IS NOT NULL`,
					ctx.SpecificationID, ctx.SpecificationID,
				)
				if err != nil {
					return fmt.Errorf("relation-parser: %w", err)
				}
				for _, row := range rows {
					sourceObjectID := row.Int64("id")
					isAttr := row.Int64("is_attr") == 1
					attrName := row.String("attr_name")
					astText := row.String("ast")
					if astText == "" {
						continue
					}

					var blocks []pandocast.Node
					var inlines []pandocast.Node
					if isAttr {
						if err := json.Unmarshal([]byte(astText), &inlines); err != nil {
							continue
						}
						blocks = []pandocast.Node{{Type: pandocast.Para, Inlines: inlines}}
					} else {
						blocks, err = pandocast.ParseBlocks([]byte(astText))
						if err != nil {
							continue
						}
					}

					pandocast.WalkLinks(blocks, func(l pandocast.Node) {
						selector, text := SplitSelector(l.Target)
						sourceAttr := ""
						if isAttr {
							sourceAttr = attrName
						}
						if _, err := tx.InsertRelation(&specir.SpecRelation{
							SpecificationID: ctx.SpecificationID,
							SourceObjectID:  sourceObjectID,
							RawTarget:       text,
							FromFile:        ctx.SourceFile,
							SourceAttribute: sourceAttr,
							LinkSelector:    selector,
						}); err != nil {
							diags.Add(diagnostics.Diagnostic{Severity: diagnostics.SeverityError, Phase: "INITIALIZE", Handler: "relation-parser", File: ctx.SourceFile, Message: err.Error()})
						}
					})
				}
			}
			return tx.Commit()
		},
	}
}
