package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIsSourceTentativelyReusableFalseWhenUnknown(t *testing.T) {
	c := openTestCache(t)
	reusable, err := c.IsSourceTentativelyReusable("doc.md", "sha-1")
	require.NoError(t, err)
	assert.False(t, reusable)
}

func TestRecordBuildThenReusableOnMatchingHash(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.RecordBuild("doc.md", "sha-1", map[string]string{"inc.md": "sha-inc-1"}))

	reusable, err := c.IsSourceTentativelyReusable("doc.md", "sha-1")
	require.NoError(t, err)
	assert.True(t, reusable)

	reusable, err = c.IsSourceTentativelyReusable("doc.md", "sha-2")
	require.NoError(t, err)
	assert.False(t, reusable)
}

func TestValidateIncludeGraphDetectsChangedHash(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.RecordBuild("doc.md", "sha-1", map[string]string{"inc.md": "sha-inc-1"}))

	ok, err := c.ValidateIncludeGraph("doc.md", map[string]string{"inc.md": "sha-inc-1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ValidateIncludeGraph("doc.md", map[string]string{"inc.md": "sha-inc-2"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateIncludeGraphDetectsMissingFile(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.RecordBuild("doc.md", "sha-1", map[string]string{"inc.md": "sha-inc-1"}))

	ok, err := c.ValidateIncludeGraph("doc.md", map[string]string{"inc.md": ""})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateIncludeGraphDetectsChangedIncludeSet(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.RecordBuild("doc.md", "sha-1", map[string]string{"inc.md": "sha-inc-1"}))

	ok, err := c.ValidateIncludeGraph("doc.md", map[string]string{"inc.md": "sha-inc-1", "new.md": "sha-new"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOutputCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)

	cached, err := c.IsOutputCached(1, "out.docx", "irhash-1")
	require.NoError(t, err)
	assert.False(t, cached)

	require.NoError(t, c.RecordOutput(1, "out.docx", "irhash-1", map[string]string{"specification": "s1", "objects": "o1"}))

	cached, err = c.IsOutputCached(1, "out.docx", "irhash-1")
	require.NoError(t, err)
	assert.True(t, cached)

	cached, err = c.IsOutputCached(1, "out.docx", "irhash-2")
	require.NoError(t, err)
	assert.False(t, cached)

	slices, err := c.SourceSlicesOf(1, "out.docx")
	require.NoError(t, err)
	assert.Equal(t, "s1", slices["specification"])
	assert.Equal(t, "o1", slices["objects"])
}

func TestDiffSourceSlicesOnlyReportsChangedComponents(t *testing.T) {
	diff := DiffSourceSlices(
		map[string]string{"specification": "s1", "objects": "o1"},
		map[string]string{"specification": "s1", "objects": "o2"},
	)
	assert.Contains(t, diff, "objects: o1 -> o2")
	assert.NotContains(t, diff, "specification:")
}

func TestUnifiedDiffRendersHunk(t *testing.T) {
	out := UnifiedDiff("line1\nline2\n", "line1\nline3\n", "doc.md", 1)
	assert.Contains(t, out, "-line2")
	assert.Contains(t, out, "+line3")
}
