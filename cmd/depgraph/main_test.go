// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range map[string]string{
		"a.py":      "import b\n",
		"b.py":      "import c\n",
		"c.py":      "",
		"broken.py": "def broken(:\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func lines(s string) []string {
	return strings.Fields(s)
}

func TestRun_Queries(t *testing.T) {
	root := writeTree(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"deps", []string{"deps", root, "a.py"}, []string{"b.py"}},
		{"dependents", []string{"dependents", root, "c.py"}, []string{"b.py"}},
		{"cluster depth 0", []string{"cluster", root, "b.py", "0"}, []string{"b.py"}},
		{"cluster depth 1", []string{"cluster", root, "b.py", "1"}, []string{"a.py", "b.py", "c.py"}},
		{"suggest default depth", []string{"suggest", root, "a.py"}, []string{"a.py", "b.py", "c.py"}},
		{"suggest depth flag", []string{"suggest", root, "c.py", "--depth", "1"}, []string{"b.py", "c.py"}},
		{"unknown file", []string{"cluster", root, "new.py", "3"}, []string{"new.py"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out, errOut := runCLI(tt.args...)
			require.Equal(t, ExitSuccess, code, errOut)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestRun_JSON(t *testing.T) {
	root := writeTree(t)

	code, out, _ := runCLI("cluster", root, "a.py", "1", "--json")
	require.Equal(t, ExitSuccess, code)
	var resp struct {
		Files []string `json:"files"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []string{"a.py", "b.py"}, resp.Files)
	assert.Equal(t, 2, resp.Count)

	code, out, _ = runCLI("scan", root, "--json")
	require.Equal(t, ExitSuccess, code)
	var stats struct {
		Files       int `json:"files"`
		ParseErrors int `json:"parse_errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 4, stats.Files)
	assert.Equal(t, 1, stats.ParseErrors)
}

func TestRun_ScanText(t *testing.T) {
	code, out, _ := runCLI("scan", writeTree(t))
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Files:        4")
	assert.Contains(t, out, "Edges:        2")
	assert.Contains(t, out, "python")
}

func TestRun_ExitCodes(t *testing.T) {
	root := writeTree(t)
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"negative depth", []string{"cluster", root, "a.py", "-1"}, ExitBadArgs},
		{"non-numeric depth", []string{"cluster", root, "a.py", "deep"}, ExitBadArgs},
		{"negative suggest depth", []string{"suggest", root, "a.py", "--depth", "-3"}, ExitBadArgs},
		{"missing root", []string{"scan", missing}, ExitBadArgs},
		{"wrong arity", []string{"deps", root}, ExitBadArgs},
		{"suggest without files", []string{"suggest", root}, ExitBadArgs},
		{"unknown flag", []string{"scan", root, "--nope"}, ExitBadArgs},
		{"unknown command", []string{"explode"}, ExitBadArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(tt.args...)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, errOut, "Error:")
		})
	}
}
