// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_RescansOnChange(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py": "X = 1\n",
		"b.py": "Y = 2\n",
	})
	a := NewAnalyzer(WithLogger(quietLogger()))

	var scans atomic.Int32
	w, err := NewWatcher(a, root,
		WithDebounce(20*time.Millisecond),
		WithOnScan(func(*Graph, error) { scans.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return scans.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.Graph().Dependencies("a.py"))

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("import b\n"), 0o644))
	require.Eventually(t, func() bool {
		deps, err := a.Dependencies("a.py")
		return err == nil && len(deps) == 1 && deps[0] == "b.py"
	}, 5*time.Second, 20*time.Millisecond)

	// Files in new directories are picked up too.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "c.py"), []byte("import a\n"), 0o644))
	require.Eventually(t, func() bool {
		return a.Graph().HasFile("pkg/c.py")
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_UnderSkipped(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.py":                "",
		"node_modules/x/y.js": "",
		"docs/readme.txt":     "",
	})
	a := NewAnalyzer(WithLogger(quietLogger()))
	w, err := NewWatcher(a, root)
	require.NoError(t, err)
	defer w.watcher.Close()
	require.NoError(t, w.addRecursive(root))

	assert.True(t, w.underSkipped(filepath.Join(root, "node_modules", "x", "y.js")))
	assert.False(t, w.underSkipped(filepath.Join(root, "docs", "readme.txt")))
	assert.False(t, w.underSkipped(filepath.Join(root, "a.py")))
}

func TestNewWatcher_MissingRoot(t *testing.T) {
	a := NewAnalyzer(WithLogger(quietLogger()))
	_, err := NewWatcher(a, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrRootNotFound)
}
