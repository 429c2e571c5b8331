package cache

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffSourceSlices compares two builds' per-component IR-slice hash maps
// and writes one "component: before -> after" line for each component
// whose hash differs (in map iteration order), surfaced in --verbose cache-decision logging so a
// stale output cache entry can be explained ("floats hash changed,
// specification hash did not").
func DiffSourceSlices(previous, current map[string]string) string {
	var b strings.Builder
	keys := mergedKeys(previous, current)
	for _, k := range keys {
		before, after := previous[k], current[k]
		if before == after {
			continue
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(before)
		b.WriteString(" -> ")
		b.WriteString(after)
		b.WriteString("\n")
	}
	return b.String()
}

// UnifiedDiff renders a unified diff of two text blobs (e.g. two
// serializations of a document's resolved AST across builds).
func UnifiedDiff(before, after, label string, context int) string {
	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: label,
		ToFile:   label + " (current)",
		Context:  context,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return "(diff error: " + err.Error() + ")"
	}
	return text
}

func mergedKeys(a, b map[string]string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
