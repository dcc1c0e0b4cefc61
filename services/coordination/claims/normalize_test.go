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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		caseFold bool
		in       string
		want     string
		wantErr  bool
	}{
		{"plain", false, "src/a.py", "src/a.py", false},
		{"backslashes", false, `src\a.py`, "src/a.py", false},
		{"mixed separators", false, `src\pkg/mod.go`, "src/pkg/mod.go", false},
		{"leading dot slash", false, "./src/a.py", "src/a.py", false},
		{"dot dot inside root", false, "src/x/../a.py", "src/a.py", false},
		{"duplicate slashes", false, "src//a.py", "src/a.py", false},
		{"surrounding space", false, "  src/a.py ", "src/a.py", false},
		{"case kept", false, "SRC/A.py", "SRC/A.py", false},
		{"case folded", true, "SRC/A.py", "src/a.py", false},
		{"absolute under root", false, filepath.Join(root, "src", "a.py"), "src/a.py", false},
		{"empty", false, "", "", true},
		{"dot", false, ".", "", true},
		{"escapes root", false, "../other/a.py", "", true},
		{"escapes after clean", false, "src/../../a.py", "", true},
		{"absolute outside root", false, filepath.Join(filepath.Dir(root), "elsewhere.py"), "", true},
		{"root itself", false, root, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(root, tt.caseFold)
			got, err := n.Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := NewNormalizer(t.TempDir(), true)
	inputs := []string{`src\a.py`, "./SRC/a.py", "src/sub/../A.PY"}
	for _, in := range inputs {
		once, err := n.Normalize(in)
		require.NoError(t, err)
		twice, err := n.Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", in)
		assert.Equal(t, "src/a.py", once)
	}
}

func TestNormalizer_SymlinkedSpelling(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	base := t.TempDir()
	root := filepath.Join(base, "project")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(root, link))

	for name, n := range map[string]*Normalizer{
		"real root":   NewNormalizer(root, false),
		"linked root": NewNormalizer(link, false),
	} {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{
				filepath.Join(root, "src", "a.py"),
				filepath.Join(link, "src", "a.py"),
			} {
				got, err := n.Normalize(p)
				require.NoError(t, err, p)
				assert.Equal(t, "src/a.py", got, p)
			}
		})
	}
}

func TestNormalizer_NormalizeAll(t *testing.T) {
	n := NewNormalizer("", false)

	got, err := n.NormalizeAll([]string{"b.py", `a\x.py`, "./b.py", "a/x.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x.py", "b.py"}, got)

	_, err = n.NormalizeAll([]string{"ok.py", ""})
	assert.ErrorIs(t, err, ErrInvalidPath)
}
