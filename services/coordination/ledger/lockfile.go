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
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// LockInfo is the holder record written next to the lock file.
//
// It is advisory: the OS lock is authoritative. The record exists so a
// waiter can tell who holds the lock and whether the holder is gone.
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// IsStale reports whether the holder should be considered gone.
//
// A holder is stale when its record is older than maxAge, or when it
// ran on this host and its process no longer exists.
func (i *LockInfo) IsStale(now time.Time, maxAge time.Duration, host string) bool {
	if maxAge > 0 && now.Sub(i.AcquiredAt) > maxAge {
		return true
	}
	return i.Host == host && !IsProcessAlive(i.PID)
}

// heldLock is an acquired ledger lock.
type heldLock struct {
	path     string
	infoPath string
	file     *os.File
	locker   FileLocker
}

// verify checks that the lock path still names the file we hold.
//
// A waiter that reclaimed a stale lock removes the path, so a holder
// that was considered stale sees a different (or no) file here.
func (h *heldLock) verify() error {
	pathInfo, err := os.Stat(h.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	fdInfo, err := h.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	if !os.SameFile(pathInfo, fdInfo) {
		return ErrLockLost
	}
	return nil
}

// release removes the holder record and drops the OS lock.
//
// The lock file itself stays on disk. Removing it would let a waiter
// that already opened the old inode lock a file nobody else can see.
// The holder record is only removed while the path still names our
// file; after a reclaim it belongs to the new holder.
func (h *heldLock) release() error {
	var errs []error
	if h.verify() == nil {
		if err := os.Remove(h.infoPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove lock info: %w", err))
		}
	}
	if err := h.locker.Unlock(h.file); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := h.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close lock file: %w", err))
	}
	return errors.Join(errs...)
}

// acquire takes the cross-process lock, polling until LockTimeout.
//
// # Description
//
// Each attempt is non-blocking. Between attempts the store waits on a
// rate limiter whose interval grows exponentially with jitter, capped at
// MaxPollInterval. A stale holder record triggers one reclaim per poll.
//
// # Outputs
//
//   - *heldLock: The acquired lock. Caller must release it.
//   - error: *LockTimeoutError on timeout, ctx.Err() on caller cancellation.
func (s *Store) acquire(ctx context.Context) (*heldLock, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.cfg.PollInterval), 1)
	limiter.Allow()

	var lastHolder *LockInfo
	for attempt := 0; ; attempt++ {
		held, err := s.tryLock()
		if err == nil {
			recordLockWait(ctx, time.Since(start), attempt, "acquired")
			if attempt > 0 {
				s.logger.Debug("Ledger lock acquired after contention",
					"path", s.cfg.LockPath, "attempts", attempt+1,
					"waited", time.Since(start))
			}
			return held, nil
		}
		if !errors.Is(err, ErrFileLocked) {
			return nil, fmt.Errorf("lock %s: %w", s.cfg.LockPath, err)
		}

		if info, readErr := s.readLockInfo(); readErr == nil {
			lastHolder = info
			if info.IsStale(s.now(), s.cfg.StaleLockAge, s.hostname) && s.reclaim(ctx, info) {
				continue
			}
		}

		limiter.SetLimit(rate.Every(s.backoff(attempt)))
		if err := limiter.Wait(waitCtx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, ctxErr
			}
			recordLockWait(ctx, time.Since(start), attempt, "timeout")
			return nil, &LockTimeoutError{
				Path:   s.cfg.LockPath,
				Waited: time.Since(start),
				Holder: lastHolder,
			}
		}
	}
}

// tryLock makes one non-blocking attempt.
func (s *Store) tryLock() (*heldLock, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(s.cfg.LockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := s.locker.Lock(f); err != nil {
		f.Close()
		return nil, err
	}

	held := &heldLock{
		path:     s.cfg.LockPath,
		infoPath: s.infoPath(),
		file:     f,
		locker:   s.locker,
	}

	// The path was reclaimed between open and lock: we hold an orphan.
	if err := held.verify(); err != nil {
		s.locker.Unlock(f)
		f.Close()
		return nil, ErrFileLocked
	}

	if err := s.writeLockInfo(); err != nil {
		s.logger.Warn("Failed to write lock info", "path", held.infoPath, "error", err)
	}
	return held, nil
}

// reclaim removes a stale lock so the next attempt can create a fresh one.
//
// Returns true if anything was removed.
func (s *Store) reclaim(ctx context.Context, info *LockInfo) bool {
	s.logger.Warn("Removing stale ledger lock",
		"path", s.cfg.LockPath,
		"old_pid", info.PID,
		"old_host", info.Host,
		"acquired_at", info.AcquiredAt,
	)
	recordStaleReclaim(ctx)

	removed := false
	if err := os.Remove(s.cfg.LockPath); err == nil {
		removed = true
	}
	if err := os.Remove(s.infoPath()); err == nil {
		removed = true
	}
	return removed
}

// backoff returns the wait before attempt+1: exponential, jittered, capped.
func (s *Store) backoff(attempt int) time.Duration {
	d := s.cfg.PollInterval
	for i := 0; i < attempt && d < s.cfg.MaxPollInterval; i++ {
		d *= 2
	}
	if d > s.cfg.MaxPollInterval {
		d = s.cfg.MaxPollInterval
	}
	// +/- 25% jitter keeps contending agents from polling in lockstep.
	jitter := time.Duration(rand.Int64N(int64(d)/2+1)) - d/4
	d += jitter
	if d <= 0 {
		d = s.cfg.PollInterval
	}
	return d
}

func (s *Store) infoPath() string {
	return s.cfg.LockPath + ".info"
}

func (s *Store) writeLockInfo() error {
	info := LockInfo{
		PID:        os.Getpid(),
		Host:       s.hostname,
		AcquiredAt: s.now().UTC(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(s.infoPath(), data, 0640)
}

// readLockInfo returns the current holder record.
func (s *Store) readLockInfo() (*LockInfo, error) {
	data, err := os.ReadFile(s.infoPath())
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
