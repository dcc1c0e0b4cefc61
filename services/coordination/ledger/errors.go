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
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for ledger operations.
var (
	// ErrLockTimeout indicates the ledger lock was not acquired within the bound.
	// Callers may retry with backoff.
	ErrLockTimeout = errors.New("ledger lock timeout")

	// ErrLedgerCorrupt indicates the on-disk document is unreadable or invalid.
	// The store never repairs it.
	ErrLedgerCorrupt = errors.New("ledger corrupt")

	// ErrFileLocked indicates a non-blocking lock attempt found the lock held.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockLost indicates the lock file was replaced while held, so the
	// holder can no longer assume exclusivity.
	ErrLockLost = errors.New("ledger lock lost")

	// ErrNotDiscovered indicates no coordination directory was found above
	// the starting directory.
	ErrNotDiscovered = errors.New("coordination directory not found")

	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")
)

// LockTimeoutError carries the details of a failed lock acquisition.
type LockTimeoutError struct {
	// Path is the lock file path.
	Path string

	// Waited is how long the caller waited before giving up.
	Waited time.Duration

	// Holder is the last observed holder, nil if unknown.
	Holder *LockInfo
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("ledger lock %s not acquired after %s (held by pid %d on %s since %s)",
			e.Path, e.Waited.Round(time.Millisecond), e.Holder.PID, e.Holder.Host,
			e.Holder.AcquiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("ledger lock %s not acquired after %s", e.Path, e.Waited.Round(time.Millisecond))
}

// Unwrap returns ErrLockTimeout for errors.Is checks.
func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// CorruptError describes an invalid ledger document.
type CorruptError struct {
	// Path is the data file, empty when the snapshot came from memory.
	Path string

	// Key is the top-level collection that failed to decode, if any.
	Key string

	// Err is the underlying decode failure.
	Err error
}

// Error implements the error interface.
func (e *CorruptError) Error() string {
	where := e.Path
	if where == "" {
		where = "snapshot"
	}
	if e.Key != "" {
		return fmt.Sprintf("ledger corrupt: %s: collection %q: %v", where, e.Key, e.Err)
	}
	return fmt.Sprintf("ledger corrupt: %s: %v", where, e.Err)
}

// Unwrap exposes both ErrLedgerCorrupt and the decode cause.
func (e *CorruptError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrLedgerCorrupt}
	}
	return []error{ErrLedgerCorrupt, e.Err}
}
