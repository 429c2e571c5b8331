// Package ioutil collects the filesystem and hashing helpers shared by the
// cache layer and the CLI: atomic file writes, glob expansion, and content
// hashing (§3.2, §4.2).
package ioutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileAtomic writes data to path via a temp file in the same
// directory, then renames over the destination, so a crash mid-write never
// leaves a partially-written output file.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	defer func() { _ = tmp.Close() }()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ExpandGlobs expands glob patterns in a list of input paths, passing
// through literal paths (and the "-" stdin sentinel) unchanged.
func ExpandGlobs(files []string) []string {
	var out []string
	for _, f := range files {
		if f == "-" {
			out = append(out, f)
			continue
		}
		if strings.ContainsAny(f, "*?[") {
			matches, _ := filepath.Glob(f)
			out = append(out, matches...)
		} else {
			out = append(out, f)
		}
	}
	return out
}

// SHA256Hex returns the hex-encoded SHA-256 of b. Used for the Spec Object
// / Spec Float content hash (§3.2) and the source-file / include-graph
// cache (§4.2), where a cryptographic hash matters for reproducibility
// across build machines.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// SHA256FileHex hashes a file's content, returning "" if it cannot be read
// (a missing include file is treated as a cache miss by the caller, not an
// error — §4.2 "a missing file (hash returns null) forces a full rebuild").
func SHA256FileHex(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return SHA256Hex(b)
}
