// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		DataPath:     filepath.Join(dir, DataFileName),
		LockPath:     filepath.Join(dir, LockFileName),
		LockTimeout:  2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return store
}

func TestNewStore(t *testing.T) {
	t.Run("requires data path", func(t *testing.T) {
		_, err := NewStore(StoreConfig{})
		assert.Error(t, err)
	})

	t.Run("rejects lock path equal to data path", func(t *testing.T) {
		_, err := NewStore(StoreConfig{DataPath: "x.json", LockPath: "x.json"})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		store, err := NewStore(StoreConfig{DataPath: "/tmp/l.json"})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/l.json.lock", store.LockPath())
		assert.Equal(t, DefaultLockTimeout, store.cfg.LockTimeout)
		assert.Equal(t, DefaultStaleLockAge, store.cfg.StaleLockAge)
		assert.Equal(t, DefaultPollInterval, store.cfg.PollInterval)
		assert.Equal(t, DefaultMaxPollInterval, store.cfg.MaxPollInterval)
	})
}

func TestStore_Read(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is empty snapshot", func(t *testing.T) {
		store := newTestStore(t, t.TempDir())
		snap, err := store.Read(ctx)
		require.NoError(t, err)
		assert.NotNil(t, snap)
		assert.Empty(t, snap)
	})

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"whitespace only", "  \n"},
		{"truncated", `{"claim_chains": [{"id": "a"`},
		{"array document", `[1, 2, 3]`},
		{"null document", `null`},
	}
	for _, tt := range tests {
		t.Run("corrupt "+tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store := newTestStore(t, dir)
			require.NoError(t, os.WriteFile(store.DataPath(), []byte(tt.content), 0600))

			_, err := store.Read(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrLedgerCorrupt), "got %v", err)

			var corrupt *CorruptError
			require.True(t, errors.As(err, &corrupt))
			assert.Equal(t, store.DataPath(), corrupt.Path)
		})
	}

	t.Run("nil context", func(t *testing.T) {
		store := newTestStore(t, t.TempDir())
		//nolint:staticcheck
		_, err := store.Read(nil)
		assert.ErrorIs(t, err, ErrNilContext)
	})
}

func TestStore_WithLock_PreservesSiblingCollections(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(t, dir)

	original := `{
  "tasks": [{"id": "t1", "title": "write docs", "nested": {"a": [1, 2, {"b": null}]}}],
  "agents": {"agent-a": {"role": "builder"}},
  "claim_chains": []
}`
	require.NoError(t, os.WriteFile(store.DataPath(), []byte(original), 0600))

	err := store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		return s, s.Encode("claim_chains", []map[string]string{{"id": "c1"}})
	})
	require.NoError(t, err)

	data, err := os.ReadFile(store.DataPath())
	require.NoError(t, err)

	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &got))
	assert.JSONEq(t, `[{"id": "t1", "title": "write docs", "nested": {"a": [1, 2, {"b": null}]}}]`, string(got["tasks"]))
	assert.JSONEq(t, `{"agent-a": {"role": "builder"}}`, string(got["agents"]))
	assert.JSONEq(t, `[{"id": "c1"}]`, string(got["claim_chains"]))
}

func TestStore_WithLock_MutatorErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	require.NoError(t, os.WriteFile(store.DataPath(), []byte(`{"claim_chains": []}`), 0600))

	boom := errors.New("boom")
	err := store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		s["claim_chains"] = json.RawMessage(`[{"id":"x"}]`)
		return s, boom
	})
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(store.DataPath())
	require.NoError(t, err)
	assert.JSONEq(t, `{"claim_chains": []}`, string(data))

	// The lock must be free again.
	require.NoError(t, store.WithLock(ctx, func(Snapshot) (Snapshot, error) { return nil, nil }))
}

func TestStore_WithLock_NilSnapshotIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())

	err := store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, statErr := os.Stat(store.DataPath())
	assert.True(t, os.IsNotExist(statErr), "read-only cycle must not create the ledger")
}

func TestStore_WithLock_CorruptLedgerNotOverwritten(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, t.TempDir())
	require.NoError(t, os.WriteFile(store.DataPath(), []byte(`{"claim_`), 0600))

	called := false
	err := store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		called = true
		return s, nil
	})
	assert.ErrorIs(t, err, ErrLedgerCorrupt)
	assert.False(t, called)

	data, _ := os.ReadFile(store.DataPath())
	assert.Equal(t, `{"claim_`, string(data))
}

func TestStore_WithLock_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(t, dir)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
			return s, s.Encode("counter", i)
		}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
	_, err = os.Stat(store.infoPath())
	assert.True(t, os.IsNotExist(err), "holder record must be removed on release")
}

func TestStore_WithLock_SerializesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Separate Store values stand in for separate processes: each has its
	// own mutex, so only the OS lock keeps the increments from racing.
	const writers = 4
	const perWriter = 10
	stores := make([]*Store, writers)
	for i := range stores {
		stores[i] = newTestStore(t, dir)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, writers*perWriter)
	for _, store := range stores {
		wg.Add(1)
		go func(store *Store) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				errCh <- store.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
					var n int
					if _, err := s.Decode("counter", &n); err != nil {
						return nil, err
					}
					return s, s.Encode("counter", n+1)
				})
			}
		}(store)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	snap, err := stores[0].Read(ctx)
	require.NoError(t, err)
	var n int
	_, err = snap.Decode("counter", &n)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func TestStore_WithLock_Timeout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	holder := newTestStore(t, dir)
	held, err := holder.acquire(ctx)
	require.NoError(t, err)
	defer held.release()

	waiter, err := NewStore(StoreConfig{
		DataPath:     filepath.Join(dir, DataFileName),
		LockPath:     filepath.Join(dir, LockFileName),
		LockTimeout:  100 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	called := false
	start := time.Now()
	err = waiter.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		called = true
		return s, nil
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, called)
	assert.Less(t, elapsed, 2*time.Second)

	var timeout *LockTimeoutError
	require.True(t, errors.As(err, &timeout))
	require.NotNil(t, timeout.Holder)
	assert.Equal(t, os.Getpid(), timeout.Holder.PID)
	assert.Contains(t, timeout.Error(), "held by pid")
}

func TestStore_WithLock_CallerCancellation(t *testing.T) {
	dir := t.TempDir()
	holder := newTestStore(t, dir)
	held, err := holder.acquire(context.Background())
	require.NoError(t, err)
	defer held.release()

	waiter := newTestStore(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err = waiter.WithLock(ctx, func(s Snapshot) (Snapshot, error) { return s, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ReclaimsStaleLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("open files cannot be removed on windows")
	}
	ctx := context.Background()
	dir := t.TempDir()

	hung := newTestStore(t, dir)
	held, err := hung.acquire(ctx)
	require.NoError(t, err)
	defer held.release()

	// Age the holder record past StaleLockAge.
	old := LockInfo{PID: os.Getpid(), Host: hung.hostname, AcquiredAt: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(hung.infoPath(), data, 0600))

	waiter := newTestStore(t, dir)
	err = waiter.WithLock(ctx, func(s Snapshot) (Snapshot, error) {
		return s, s.Encode("owner", "waiter")
	})
	require.NoError(t, err)

	// The hung holder must notice it no longer owns the lock path.
	assert.ErrorIs(t, held.verify(), ErrLockLost)
}

func TestStore_ReleaseAfterReclaimKeepsNewHolderInfo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("open files cannot be removed on windows")
	}
	ctx := context.Background()
	dir := t.TempDir()

	hung := newTestStore(t, dir)
	stale, err := hung.acquire(ctx)
	require.NoError(t, err)

	old := LockInfo{PID: os.Getpid(), Host: hung.hostname, AcquiredAt: time.Now().Add(-time.Hour)}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(hung.infoPath(), data, 0600))

	waiter := newTestStore(t, dir)
	current, err := waiter.acquire(ctx)
	require.NoError(t, err)
	defer current.release()

	require.NoError(t, stale.release())

	info, err := waiter.readLockInfo()
	require.NoError(t, err, "new holder's record must survive the old holder's release")
	assert.WithinDuration(t, time.Now(), info.AcquiredAt, time.Minute)
}

func TestLockInfo_IsStale(t *testing.T) {
	now := time.Now()
	host, _ := os.Hostname()

	tests := []struct {
		name string
		info LockInfo
		want bool
	}{
		{"fresh live holder", LockInfo{PID: os.Getpid(), Host: host, AcquiredAt: now}, false},
		{"old live holder", LockInfo{PID: os.Getpid(), Host: host, AcquiredAt: now.Add(-time.Hour)}, true},
		{"fresh dead holder on this host", LockInfo{PID: -1, Host: host, AcquiredAt: now}, true},
		{"fresh holder on another host", LockInfo{PID: -1, Host: "elsewhere", AcquiredAt: now}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.IsStale(now, time.Minute, host))
		})
	}
}

func TestStore_Backoff(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	store.cfg.PollInterval = 10 * time.Millisecond
	store.cfg.MaxPollInterval = 80 * time.Millisecond

	for attempt := 0; attempt < 20; attempt++ {
		d := store.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond, "attempt %d", attempt)
	}
}

func TestSnapshot_DecodeEncode(t *testing.T) {
	snap := Snapshot{}

	var missing []string
	found, err := snap.Decode("claim_chains", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, snap.Encode("claim_chains", []string{"a"}))
	var got []string
	found, err = snap.Decode("claim_chains", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a"}, got)

	snap["claim_chains"] = json.RawMessage(`{"not": "a list"}`)
	_, err = snap.Decode("claim_chains", &got)
	assert.ErrorIs(t, err, ErrLedgerCorrupt)
	var corrupt *CorruptError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, "claim_chains", corrupt.Key)
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	snap := Snapshot{"k": json.RawMessage(`[1]`)}
	clone := snap.Clone()
	clone["k"][1] = '2'
	clone["other"] = json.RawMessage(`true`)

	assert.Equal(t, `[1]`, string(snap["k"]))
	_, ok := snap["other"]
	assert.False(t, ok)
}
