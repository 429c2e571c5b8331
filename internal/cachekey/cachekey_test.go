package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderKeyIsDeterministic(t *testing.T) {
	a := RenderKey("figure", "raw content", "v1.2.3")
	b := RenderKey("figure", "raw content", "v1.2.3")
	assert.Equal(t, a, b)
}

func TestRenderKeyChangesWithAnyComponent(t *testing.T) {
	base := RenderKey("figure", "raw content", "v1.2.3")
	assert.NotEqual(t, base, RenderKey("table", "raw content", "v1.2.3"))
	assert.NotEqual(t, base, RenderKey("figure", "other content", "v1.2.3"))
	assert.NotEqual(t, base, RenderKey("figure", "raw content", "v1.2.4"))
}

func TestOutputKeyChangesWithFilterSetIdentity(t *testing.T) {
	a := OutputKey("irhash", "out.docx", "docx+no-appendix")
	b := OutputKey("irhash", "out.docx", "docx")
	assert.NotEqual(t, a, b)
}
