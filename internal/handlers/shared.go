// Package handlers implements the five phases' built-in handlers (§4.5–§4.10):
// parsing the external AST into the Spec-IR, resolving and casting content,
// materializing views and running external renders, checking proof views,
// and assembling EMIT output. Each handler is a plain function returning an
// orchestrator.Handler, registered alongside whatever a loaded type model
// contributes (§4.3).
package handlers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/oxspec/speccompiler/internal/specir"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses anything outside [a-z0-9] into single
// hyphens, trimming leading/trailing hyphens — used for the object label
// computation (§4.5 "slugified title").
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

var typeSuffixPattern = regexp.MustCompile(`@([A-Za-z][A-Za-z0-9_-]*)\s*$`)
var typePrefixPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*):\s*`)
var pidSuffixPattern = regexp.MustCompile(`(?i)@PID:([A-Za-z0-9_-]+)\s*$`)

// ExtractTitleAnnotations implements §4.5's object-parser title grammar:
// an explicit PID is taken from a trailing `@PID:<value>` annotation, the
// type alias from a trailing `@alias` annotation or else a leading
// `ALIAS: ` prefix, and whatever remains (trimmed) is the title text.
func ExtractTitleAnnotations(raw string) (title, typeAlias, explicitPID string) {
	title = raw

	if m := pidSuffixPattern.FindStringSubmatchIndex(title); m != nil {
		explicitPID = title[m[2]:m[3]]
		title = strings.TrimSpace(title[:m[0]])
	}

	if m := typeSuffixPattern.FindStringSubmatchIndex(title); m != nil {
		typeAlias = title[m[2]:m[3]]
		title = strings.TrimSpace(title[:m[0]])
	} else if m := typePrefixPattern.FindStringSubmatchIndex(title); m != nil {
		typeAlias = title[m[2]:m[3]]
		title = strings.TrimSpace(title[m[1]:])
	}

	return title, typeAlias, explicitPID
}

// ResolveObjectType looks up an alias against object_type_aliases first,
// then implicit_object_aliases (a model's implicit-aliases table, §4.3), and
// falls back to the registry's single default object type (§4.5 "falls back
// to the default object type"). An empty alias goes straight to the default.
func ResolveObjectType(store *specir.Store, alias string) (string, error) {
	if alias != "" {
		if row, err := store.QueryOne(`SELECT object_type_id FROM object_type_aliases WHERE alias = ?`, alias); err != nil {
			return "", err
		} else if row != nil {
			return row.String("object_type_id"), nil
		}
		if row, err := store.QueryOne(`SELECT object_type_id FROM implicit_object_aliases WHERE alias = ?`, alias); err != nil {
			return "", err
		} else if row != nil {
			return row.String("object_type_id"), nil
		}
	}
	row, err := store.QueryOne(`SELECT id FROM object_types WHERE is_default = 1 LIMIT 1`)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.String("id"), nil
}

// ResolveSpecificationType mirrors ResolveObjectType for specification
// types, via implicit_specification_aliases and the registry's default
// specification type.
func ResolveSpecificationType(store *specir.Store, alias string) (string, error) {
	if alias != "" {
		if row, err := store.QueryOne(`SELECT specification_type_id FROM implicit_specification_aliases WHERE alias = ?`, alias); err != nil {
			return "", err
		} else if row != nil {
			return row.String("specification_type_id"), nil
		}
	}
	row, err := store.QueryOne(`SELECT id FROM specification_types WHERE is_default = 1 LIMIT 1`)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.String("id"), nil
}

// ResolveFloatType looks up a float type alias, returning ("", false) if
// unknown — there is no default float type (§4.5 "fenced code blocks whose
// first class is a float-type alias"; an unknown class is simply not a
// float).
func ResolveFloatType(store *specir.Store, alias string) (string, bool, error) {
	row, err := store.QueryOne(`SELECT float_type_id FROM float_type_aliases WHERE alias = ?`, alias)
	if err != nil {
		return "", false, err
	}
	if row == nil {
		return "", false, nil
	}
	return row.String("float_type_id"), true, nil
}

// ResolveViewType looks up a view type by alias or inline prefix.
func ResolveViewType(store *specir.Store, alias string) (string, bool, error) {
	row, err := store.QueryOne(`SELECT view_type_id FROM view_type_aliases WHERE alias = ?`, alias)
	if err != nil {
		return "", false, err
	}
	if row == nil && alias != "" {
		row, err = store.QueryOne(`SELECT id AS view_type_id FROM view_types WHERE inline_prefix = ?`, alias)
		if err != nil {
			return "", false, err
		}
	}
	if row == nil {
		return "", false, nil
	}
	return row.String("view_type_id"), true, nil
}

// SplitSelector splits a raw link target into its observed selector and
// remaining text (§4.5 "the observed selector (`@`, `#`, or extended forms
// like `@cite`)"): `#label` -> ("#", "label"); `@cite:key` -> ("@cite",
// "key"); `@PID-1` -> ("@", "PID-1").
func SplitSelector(target string) (selector, text string) {
	switch {
	case strings.HasPrefix(target, "#"):
		return "#", strings.TrimPrefix(target, "#")
	case strings.HasPrefix(target, "@"):
		rest := target[1:]
		if idx := strings.Index(rest, ":"); idx >= 0 {
			return "@" + rest[:idx], rest[idx+1:]
		}
		return "@", rest
	default:
		return "", target
	}
}

// SplitClassLabel splits a CodeBlock/Attr first-class string of the form
// `type:label` (§4.5 "possibly with `:label` suffix") into its type alias
// and optional label.
func SplitClassLabel(class string) (typeAlias, label string) {
	if idx := strings.Index(class, ":"); idx >= 0 {
		return class[:idx], class[idx+1:]
	}
	return class, ""
}

// UniqueLabel appends "-N" to base until it is not present in used,
// matching §4.5's "made unique within the specification by appending -N".
func UniqueLabel(base string, used map[string]bool) string {
	if !used[base] {
		used[base] = true
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}
