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
	"os"
)

// FileLocker abstracts platform-specific advisory file locking.
//
// # Description
//
// Provides a cross-platform interface for exclusive, non-blocking
// file locks. Unix uses flock(2), Windows uses LockFileEx. Both
// release the lock when the owning process exits, which is what lets
// the ledger survive a crashed mutator.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type FileLocker interface {
	// Lock acquires an exclusive lock on the file.
	//
	// # Description
	//
	// Non-blocking: returns immediately if the lock cannot be acquired.
	//
	// # Outputs
	//
	//   - error: nil on success, ErrFileLocked if already locked.
	Lock(f *os.File) error

	// Unlock releases the lock on the file. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// IsProcessAlive checks if a process with the given PID is running.
//
// # Description
//
// Used to decide whether a recorded lock holder on this host is gone.
// A PID that exists but belongs to another user counts as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return isProcessAlive(pid)
}

// NewFileLocker returns the locker for the current platform.
func NewFileLocker() FileLocker {
	return newPlatformLocker()
}
