package ioutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DiscoverDocuments walks each root looking for files matching any of
// patterns (doublestar glob syntax, `**` included), used both for initial
// input-document discovery and for expanding an include directive's glob
// against its containing directory. Results are returned sorted for
// deterministic build ordering (§5 Determinism requirements).
func DiscoverDocuments(roots []string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("discovering documents under %q: %w", root, err)
		}
		if !info.IsDir() {
			if matchesAny(root, patterns) && !seen[root] {
				seen[root] = true
				out = append(out, root)
			}
			continue
		}
		err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			if matchesAny(rel, patterns) || matchesAny(path, patterns) {
				if !seen[path] {
					seen[path] = true
					out = append(out, path)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %q: %w", root, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.PathMatch(pattern, path); err == nil && matched {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if matched, err := doublestar.PathMatch(pattern, filepath.Base(path)); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// ResolveInclude expands one include-directive glob relative to the
// including file's directory, returning the matches in sorted order. The
// paths are absolute only when fromFile (or pattern itself) is absolute.
func ResolveInclude(fromFile, pattern string) ([]string, error) {
	base := filepath.Dir(fromFile)
	full := pattern
	if !filepath.IsAbs(pattern) {
		full = filepath.Join(base, pattern)
	}
	matches, err := doublestar.FilepathGlob(full)
	if err != nil {
		return nil, fmt.Errorf("resolving include %q from %q: %w", pattern, fromFile, err)
	}
	sort.Strings(matches)
	return matches, nil
}
