// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package claims

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DefaultCaseFold reports whether the host's usual filesystem ignores case.
func DefaultCaseFold() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Normalizer canonicalizes file paths so every spelling of one file
// compares equal.
//
// # Description
//
// The canonical form is root-relative, slash-separated, cleaned, and
// lower-cased when caseFold is set:
//
//	"src\\a.py"          -> "src/a.py"
//	"./src//b/../a.py"   -> "src/a.py"
//	"<root>/src/a.py"    -> "src/a.py"
//	"SRC/A.py" (folded)  -> "src/a.py"
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Normalizer struct {
	root         string
	resolvedRoot string
	caseFold     bool
}

// NewNormalizer creates a Normalizer. An empty root disables absolute
// path relativization.
func NewNormalizer(root string, caseFold bool) *Normalizer {
	n := &Normalizer{caseFold: caseFold}
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			n.root = abs
		} else {
			n.root = root
		}
		if resolved, err := filepath.EvalSymlinks(n.root); err == nil {
			n.resolvedRoot = resolved
		}
	}
	return n
}

// CaseFold reports whether paths are lower-cased.
func (n *Normalizer) CaseFold() bool { return n.caseFold }

// Normalize returns the canonical form of p.
//
// # Outputs
//
//   - string: The canonical path.
//   - error: ErrInvalidPath if p is empty, names the root itself, or
//     escapes the root.
func (n *Normalizer) Normalize(p string) (string, error) {
	raw := strings.TrimSpace(p)
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	slashed := strings.ReplaceAll(raw, `\`, "/")

	if native := filepath.FromSlash(slashed); filepath.IsAbs(native) && n.root != "" {
		rel, ok := n.relativize(native)
		if !ok {
			return "", fmt.Errorf("%w: %s is outside %s", ErrInvalidPath, p, n.root)
		}
		slashed = filepath.ToSlash(rel)
	}

	cleaned := path.Clean(slashed)
	cleaned = strings.TrimPrefix(cleaned, "./")
	if cleaned == "." || cleaned == "/" {
		return "", fmt.Errorf("%w: %s names no file", ErrInvalidPath, p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s escapes the project root", ErrInvalidPath, p)
	}
	if n.caseFold {
		cleaned = strings.ToLower(cleaned)
	}
	return cleaned, nil
}

// NormalizeAll normalizes, dedupes and sorts paths.
func (n *Normalizer) NormalizeAll(paths []string) ([]string, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		norm, err := n.Normalize(p)
		if err != nil {
			return nil, err
		}
		if !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (n *Normalizer) relativize(abs string) (string, bool) {
	if rel, ok := n.relativeToRoot(abs); ok {
		return rel, true
	}
	// The path may spell the root through a symlink the root does not use.
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", false
	}
	return n.relativeToRoot(filepath.Join(dir, filepath.Base(abs)))
}

func (n *Normalizer) relativeToRoot(abs string) (string, bool) {
	for _, root := range []string{n.root, n.resolvedRoot} {
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rel, true
		}
	}
	return "", false
}
