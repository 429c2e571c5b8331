// Package cachekey computes the external-render cache key (§4.9): a
// non-cryptographic hash of a float's type, raw content, and the renderer
// binary's version, looked up on every incremental build. Speed matters
// more than collision resistance here, unlike the SHA-256 content hash
// used for document reproducibility (internal/ioutil), so this uses
// xxhash rather than a cryptographic digest.
package cachekey

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// RenderKey returns the cache key for one external-render invocation.
func RenderKey(typeRef, rawContent, rendererVersion string) string {
	d := xxhash.New()
	_, _ = d.WriteString(typeRef)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(rawContent)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(rendererVersion)
	return strconv.FormatUint(d.Sum64(), 16)
}

// OutputKey returns the output-cache key for one (specification, output
// path) pair, folding in the enabled output-filter set identity (§C.2
// Open Question resolution: "folds in the enabled output-filter set
// identity") so toggling filters invalidates stale cached output.
func OutputKey(irSliceHash, outputPath, filterSetIdentity string) string {
	d := xxhash.New()
	_, _ = d.WriteString(irSliceHash)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(outputPath)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(filterSetIdentity)
	return strconv.FormatUint(d.Sum64(), 16)
}
