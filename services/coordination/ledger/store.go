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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Default store settings.
const (
	DefaultLockTimeout     = 10 * time.Second
	DefaultStaleLockAge    = 2 * time.Minute
	DefaultPollInterval    = 25 * time.Millisecond
	DefaultMaxPollInterval = 500 * time.Millisecond
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// DataPath is the ledger JSON file. Required.
	DataPath string

	// LockPath is the dedicated lock file. Default: DataPath + ".lock"
	LockPath string

	// LockTimeout bounds lock acquisition. Default: 10s
	LockTimeout time.Duration

	// StaleLockAge is how old a holder record may get before it is
	// reclaimed regardless of process liveness. Default: 2m
	StaleLockAge time.Duration

	// PollInterval is the first wait between lock attempts. Default: 25ms
	PollInterval time.Duration

	// MaxPollInterval caps the backoff. Default: 500ms
	MaxPollInterval time.Duration

	// Logger for lock and write events. Default: slog.Default()
	Logger *slog.Logger

	// Now overrides the clock used for holder records. Default: time.Now
	Now func() time.Time
}

// Store is the lock-protected ledger document.
//
// # Description
//
// Read returns the current snapshot without locking; the atomic rename
// on write means a reader always sees a complete document. WithLock
// serializes read-modify-write cycles across goroutines (mutex) and
// across processes (OS file lock on LockPath).
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	cfg      StoreConfig
	locker   FileLocker
	logger   *slog.Logger
	hostname string
	mu       sync.Mutex
}

// NewStore creates a Store.
//
// # Inputs
//
//   - cfg: Store configuration. DataPath is required.
//
// # Outputs
//
//   - *Store: The store. The data file is not touched until first use.
//   - error: Non-nil if DataPath is empty.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DataPath == "" {
		return nil, errors.New("ledger: DataPath is required")
	}
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.DataPath + ".lock"
	}
	if cfg.LockPath == cfg.DataPath {
		return nil, errors.New("ledger: LockPath must differ from DataPath")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.StaleLockAge <= 0 {
		cfg.StaleLockAge = DefaultStaleLockAge
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = DefaultMaxPollInterval
		if cfg.MaxPollInterval < cfg.PollInterval {
			cfg.MaxPollInterval = cfg.PollInterval
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return &Store{
		cfg:      cfg,
		locker:   NewFileLocker(),
		logger:   cfg.Logger.With("component", "ledger.Store"),
		hostname: hostname,
	}, nil
}

// DataPath returns the ledger file path.
func (s *Store) DataPath() string { return s.cfg.DataPath }

// LockPath returns the lock file path.
func (s *Store) LockPath() string { return s.cfg.LockPath }

// Read returns the current snapshot.
//
// # Outputs
//
//   - Snapshot: The document. Empty (not nil) if the file does not exist.
//   - error: *CorruptError if the document is invalid.
func (s *Store) Read(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return s.read(ctx)
}

// WithLock runs a read-modify-write cycle under the exclusive lock.
//
// # Description
//
// Acquires the lock, reads the snapshot, and passes a private copy to fn.
// If fn returns an error nothing is written and the error is returned
// unchanged. If fn returns a nil snapshot the cycle is read-only. Any
// other snapshot replaces the document atomically. The lock is always
// released before WithLock returns.
//
// # Inputs
//
//   - ctx: Bounds lock waiting along with LockTimeout.
//   - fn: The mutator. Must not retain the snapshot after returning.
//
// # Outputs
//
//   - error: *LockTimeoutError, *CorruptError, fn's error, or a write error.
//
// # Thread Safety
//
// Safe for concurrent use. fn must not call back into the Store.
func (s *Store) WithLock(ctx context.Context, fn func(Snapshot) (Snapshot, error)) (err error) {
	if ctx == nil {
		return ErrNilContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	held, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := held.release(); relErr != nil {
			s.logger.Warn("Failed to release ledger lock", "path", s.cfg.LockPath, "error", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	snap, err := s.read(ctx)
	if err != nil {
		return err
	}

	next, err := fn(snap.Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if err := held.verify(); err != nil {
		s.logger.Error("Ledger lock lost before write, discarding mutation",
			"path", s.cfg.LockPath, "error", err)
		return err
	}
	if err := s.write(next); err != nil {
		recordWrite(ctx, false)
		return err
	}
	recordWrite(ctx, true)
	return nil
}

func (s *Store) read(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.cfg.DataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	snap, err := parseSnapshot(s.cfg.DataPath, data)
	if err != nil {
		recordCorrupt(ctx)
		s.logger.Error("Ledger document is corrupt", "path", s.cfg.DataPath, "error", err)
		return nil, err
	}
	return snap, nil
}

// write replaces the data file atomically: temp file, fsync, rename,
// then fsync the directory so the rename itself is durable.
func (s *Store) write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.cfg.DataPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Rename(tempPath, s.cfg.DataPath); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	success = true

	if err := syncDir(dir); err != nil {
		s.logger.Debug("Directory sync failed", "dir", dir, "error", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.cfg.Now()
}

// syncDir flushes directory metadata. Windows cannot fsync directories.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
