// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
	"github.com/AleutianAI/claimchain/services/coordination/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T) (*claims.Manager, string) {
	t.Helper()
	dir := t.TempDir()
	layout := ledger.NewLayout(dir)
	require.NoError(t, ledger.Init(layout))
	store, err := ledger.NewStore(ledger.StoreConfig{
		DataPath:     layout.DataPath,
		LockPath:     layout.LockPath,
		PollInterval: 2 * time.Millisecond,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	mgr, err := claims.NewManager(store, claims.ManagerConfig{
		Root:   dir,
		Now:    func() time.Time { return testNow },
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return mgr, dir
}

// stubLookup returns a fixed answer.
type stubLookup struct {
	chain *claims.Chain
	err   error
	calls int
}

func (s *stubLookup) GetClaimForFile(context.Context, string) (*claims.Chain, error) {
	s.calls++
	return s.chain, s.err
}

func TestGate_Check(t *testing.T) {
	mgr, dir := newManager(t)
	ctx := context.Background()

	chain, err := mgr.ClaimChain(ctx, claims.ClaimRequest{
		AgentID:    "agent-x",
		Files:      []string{"src/a.py", "src/b.py"},
		Reason:     "refactor",
		TTLMinutes: 30,
	})
	require.NoError(t, err)

	g := New(mgr, Config{Logger: quietLogger(), Now: func() time.Time { return testNow.Add(10 * time.Minute) }})

	tests := []struct {
		name    string
		agent   string
		file    string
		allowed bool
		code    Code
	}{
		{"owner allowed", "agent-x", "src/a.py", true, CodeAllowed},
		{"owner allowed absolute", "agent-x", filepath.Join(dir, "src", "b.py"), true, CodeAllowed},
		{"owner allowed other separators", "agent-x", `src\a.py`, true, CodeAllowed},
		{"other agent denied", "agent-y", "src/a.py", false, CodeClaimedByOther},
		{"unclaimed denied", "agent-x", "src/c.py", false, CodeNotClaimed},
		{"no identity", "", "src/a.py", false, CodeNoIdentity},
		{"blank identity", "   ", "src/a.py", false, CodeNoIdentity},
		{"outside root", "agent-x", "../elsewhere.py", false, CodeInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(ctx, tt.agent, tt.file)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.code, d.Code)
			assert.NotEmpty(t, d.Reason)
		})
	}

	d := g.Check(ctx, "agent-y", "src/b.py")
	require.NotNil(t, d.Chain)
	assert.Equal(t, chain.ID, d.Chain.ID)
	assert.Equal(t, 20*time.Minute, d.Remaining)
	assert.Contains(t, d.Reason, "agent-x")
	assert.Contains(t, d.Reason, chain.ID)
	assert.Contains(t, d.Reason, "refactor")
	assert.Contains(t, d.Reason, "20m")
}

func TestGate_CheckAfterRelease(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	chain, err := mgr.ClaimChain(ctx, claims.ClaimRequest{AgentID: "x", Files: []string{"a.py"}})
	require.NoError(t, err)

	g := New(mgr, Config{Logger: quietLogger(), Now: func() time.Time { return testNow }})
	assert.True(t, g.Check(ctx, "x", "a.py").Allowed)

	_, err = mgr.ReleaseChain(ctx, "x", chain.ID)
	require.NoError(t, err)
	d := g.Check(ctx, "x", "a.py")
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeNotClaimed, d.Code)
}

func TestGate_LedgerFailure(t *testing.T) {
	failure := fmt.Errorf("reading ledger: %w", ledger.ErrLedgerCorrupt)

	t.Run("fail closed by default", func(t *testing.T) {
		g := New(&stubLookup{err: failure}, Config{Logger: quietLogger()})
		d := g.Check(context.Background(), "x", "a.py")
		assert.False(t, d.Allowed)
		assert.Equal(t, CodeInternalError, d.Code)
		assert.Contains(t, d.Reason, "corrupt")
	})

	t.Run("fail open allows", func(t *testing.T) {
		g := New(&stubLookup{err: failure}, Config{FailOpen: true, Logger: quietLogger()})
		d := g.Check(context.Background(), "x", "a.py")
		assert.True(t, d.Allowed)
		assert.Equal(t, CodeInternalError, d.Code)
	})

	t.Run("invalid path is never failed open", func(t *testing.T) {
		g := New(&stubLookup{err: fmt.Errorf("%w: outside root", claims.ErrInvalidPath)},
			Config{FailOpen: true, Logger: quietLogger()})
		d := g.Check(context.Background(), "x", "/etc/passwd")
		assert.False(t, d.Allowed)
		assert.Equal(t, CodeInvalidPath, d.Code)
	})
}

func TestGate_NoIdentitySkipsLookup(t *testing.T) {
	stub := &stubLookup{err: errors.New("should not be called")}
	g := New(stub, Config{Logger: quietLogger()})
	d := g.Check(context.Background(), "", "a.py")
	assert.Equal(t, CodeNoIdentity, d.Code)
	assert.Zero(t, stub.calls)
}

// staticCluster returns a fixed cluster for any file.
type staticCluster []string

func (s staticCluster) Cluster(string, int) ([]string, error) { return s, nil }

type failingCluster struct{}

func (failingCluster) Cluster(string, int) ([]string, error) {
	return nil, errors.New("not scanned")
}

func TestGate_Advise(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	_, err := mgr.ClaimChain(ctx, claims.ClaimRequest{AgentID: "me", Files: []string{"a.py"}})
	require.NoError(t, err)
	_, err = mgr.ClaimChain(ctx, claims.ClaimRequest{AgentID: "other", Files: []string{"c.py"}})
	require.NoError(t, err)

	g := New(mgr, Config{Logger: quietLogger()})
	adv, err := g.Advise(ctx, "me", staticCluster{"a.py", "b.py", "c.py", "d.py"}, "a.py", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py", "b.py", "c.py", "d.py"}, adv.Cluster)
	assert.Equal(t, []string{"b.py", "d.py"}, adv.Uncovered)
	assert.Equal(t, map[string]string{"c.py": "other"}, adv.HeldByOthers)
	assert.Equal(t, 2, adv.Depth)

	_, err = g.Advise(ctx, "me", failingCluster{}, "a.py", 2)
	assert.Error(t, err)
}

// staticSuggester returns a fixed cluster for any file set.
type staticSuggester []string

func (s staticSuggester) Suggest([]string, int) ([]string, error) { return s, nil }

func TestGate_AdviseChain(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()
	_, err := mgr.ClaimChain(ctx, claims.ClaimRequest{AgentID: "other", Files: []string{"c.py"}})
	require.NoError(t, err)

	g := New(mgr, Config{Logger: quietLogger()})
	adv, err := g.AdviseChain(ctx, "me", staticSuggester{"a.py", "b.py", "c.py"}, []string{"a.py", "b.py"}, -1)
	require.NoError(t, err)

	assert.Empty(t, adv.File)
	assert.Equal(t, []string{"a.py", "b.py"}, adv.Files)
	assert.Equal(t, DefaultAdviseDepth, adv.Depth)
	assert.Equal(t, []string{"a.py", "b.py"}, adv.Uncovered)
	assert.Equal(t, map[string]string{"c.py": "other"}, adv.HeldByOthers)
}

func TestResolveAgentID(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  string
		alt  string
		want string
	}{
		{"flag wins", "flag-agent", "env-agent", "alt-agent", "flag-agent"},
		{"primary env", "", "env-agent", "alt-agent", "env-agent"},
		{"fallback env", "", "", "alt-agent", "alt-agent"},
		{"trimmed", "  spaced ", "", "", "spaced"},
		{"none", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvAgent, tt.env)
			t.Setenv(EnvAgentID, tt.alt)
			assert.Equal(t, tt.want, ResolveAgentID(tt.flag))
		})
	}
}

func TestParseHookInput(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		tool    string
		wantErr error
	}{
		{"flat", `{"file_path": "src/a.py"}`, "src/a.py", "", nil},
		{"tool input", `{"tool_name": "Edit", "tool_input": {"file_path": "/repo/b.go"}}`, "/repo/b.go", "Edit", nil},
		{"notebook", `{"tool_name": "NotebookEdit", "tool_input": {"notebook_path": "n.ipynb"}}`, "n.ipynb", "NotebookEdit", nil},
		{"flat wins", `{"file_path": "x.py", "tool_input": {"file_path": "y.py"}}`, "x.py", "", nil},
		{"missing path", `{"tool_name": "Bash", "tool_input": {"command": "ls"}}`, "", "Bash", ErrNoFilePath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHookInput(strings.NewReader(tt.in))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.FilePath)
			assert.Equal(t, tt.tool, got.ToolName)
		})
	}

	_, err := ParseHookInput(strings.NewReader("not json"))
	assert.Error(t, err)
}
