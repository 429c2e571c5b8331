// Package defaultmodel is the `models/default` type model (§4.3 "Layering":
// loaded first, before any domain model). It supplies a minimal object,
// float, relation, and view surface sufficient to compile a document with
// no domain model configured: a composite `section` type, a generic `req`
// requirement type, the four common float kinds, the two common link
// selectors, and the four common view kinds.
package defaultmodel

import (
	"github.com/oxspec/speccompiler/internal/specir"
	"github.com/oxspec/speccompiler/internal/typeregistry"
)

const Name = "default"

func init() {
	typeregistry.RegisterModel(Name, build)
}

func build() typeregistry.Model {
	return typeregistry.Model{
		Name: Name,

		Objects: []typeregistry.ObjectTypeDef{
			{
				Type: specir.ObjectType{
					ID:          "section",
					IsComposite: true,
					IsDefault:   false,
					Aliases:     []string{"section", "sec"},
				},
			},
			{
				Type: specir.ObjectType{
					ID:        "req",
					IsDefault: true,
					Prefix:    "REQ",
					PIDFormat: "REQ-%04d",
					Aliases:   []string{"req", "requirement"},
				},
				Attributes: []typeregistry.AttributeDef{
					{Name: "status", Datatype: specir.DatatypeEnum, MinOccurs: 0, MaxOccurs: 1,
						EnumValues: []string{"draft", "approved", "rejected", "obsolete"}},
				},
			},
		},

		Floats: []typeregistry.FloatTypeDef{
			{Type: specir.FloatType{ID: "figure", CaptionPrefix: "Figure", CounterGroup: "figure", Aliases: []string{"figure", "fig"}}},
			{Type: specir.FloatType{ID: "table", CaptionPrefix: "Table", CounterGroup: "table", Aliases: []string{"table", "tbl"}}},
			{Type: specir.FloatType{ID: "listing", CaptionPrefix: "Listing", CounterGroup: "listing", Aliases: []string{"listing", "code"}}},
			{Type: specir.FloatType{ID: "equation", CaptionPrefix: "Equation", CounterGroup: "equation", Aliases: []string{"equation", "eq"}}},
		},

		Relations: []typeregistry.RelationTypeDef{
			{
				Type:     specir.RelationType{ID: "xref", Selector: "#"},
				Resolver: resolveByLabel,
			},
			{
				Type:     specir.RelationType{ID: "cite", Selector: "@cite"},
				Resolver: resolveByPID,
			},
		},

		Views: []typeregistry.ViewTypeDef{
			{Type: specir.ViewType{ID: "toc", InlinePrefix: "toc", Materializer: "toc", Aliases: []string{"toc"}}},
			{Type: specir.ViewType{ID: "lof", InlinePrefix: "lof", Materializer: "list_by_counter_group", SubtypeRef: "figure", Aliases: []string{"lof"}}},
			{Type: specir.ViewType{ID: "abbrevs", InlinePrefix: "abbrevs", Materializer: "abbrevs", Aliases: []string{"abbrevs", "abbreviations"}}},
			{Type: specir.ViewType{ID: "trace-matrix", CounterGroup: "", InlinePrefix: "trace-matrix", Materializer: "trace_matrix", Aliases: []string{"trace-matrix", "tracematrix"}}},
		},
	}
}
