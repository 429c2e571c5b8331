package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hello-world", Slugify("Hello, World!"))
	assert.Equal(t, "a-b-c", Slugify("  A::B--C  "))
	assert.Equal(t, "", Slugify("***"))
}

func TestExtractTitleAnnotations(t *testing.T) {
	cases := []struct {
		name         string
		raw          string
		title        string
		typeAlias    string
		explicitPID  string
	}{
		{"plain", "Parse the input", "Parse the input", "", ""},
		{"trailing alias", "Parse the input @req", "Parse the input", "req", ""},
		{"leading prefix", "req: Parse the input", "Parse the input", "req", ""},
		{"explicit pid", "Parse the input @PID:REQ-001", "Parse the input", "", "REQ-001"},
		{"pid and alias", "Parse the input @req @PID:REQ-001", "Parse the input", "req", "REQ-001"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			title, alias, pid := ExtractTitleAnnotations(tc.raw)
			assert.Equal(t, tc.title, title)
			assert.Equal(t, tc.typeAlias, alias)
			assert.Equal(t, tc.explicitPID, pid)
		})
	}
}

func TestSplitSelector(t *testing.T) {
	cases := []struct {
		target   string
		selector string
		text     string
	}{
		{"#fig-1", "#", "fig-1"},
		{"@cite:key1", "@cite", "key1"},
		{"@REQ-1", "@", "REQ-1"},
		{"plain-text", "", "plain-text"},
	}
	for _, tc := range cases {
		selector, text := SplitSelector(tc.target)
		assert.Equal(t, tc.selector, selector)
		assert.Equal(t, tc.text, text)
	}
}

func TestSplitClassLabel(t *testing.T) {
	typeAlias, label := SplitClassLabel("figure:fig-overview")
	assert.Equal(t, "figure", typeAlias)
	assert.Equal(t, "fig-overview", label)

	typeAlias, label = SplitClassLabel("figure")
	assert.Equal(t, "figure", typeAlias)
	assert.Equal(t, "", label)
}

func TestUniqueLabel(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "req-a", UniqueLabel("req-a", used))
	assert.Equal(t, "req-a-2", UniqueLabel("req-a", used))
	assert.Equal(t, "req-a-3", UniqueLabel("req-a", used))
	assert.Equal(t, "req-b", UniqueLabel("req-b", used))
}
