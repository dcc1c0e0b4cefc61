// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger persists the shared coordination document.
//
// The ledger is one JSON object on disk. Each top-level key is a
// collection; this module owns "claim_chains" and carries every other
// collection through unchanged.
//
// # Protocol
//
//	Read:      read file -> Snapshot            (no lock; rename is atomic)
//	WithLock:  lock ledger.lock
//	           read file -> Snapshot
//	           fn(Snapshot) -> Snapshot'
//	           write temp, fsync, rename, fsync dir
//	           unlock
//
// The lock lives on a dedicated file, never on the data file, because
// the data file is replaced on every write.
//
// # Failure Modes
//
//   - Lock not acquired within StoreConfig.LockTimeout: *LockTimeoutError.
//   - Invalid or empty document: *CorruptError. Never repaired here.
//   - Holder process gone, or holder record older than StaleLockAge:
//     the lock file is removed and acquisition retried.
//
// # Files
//
//	<root>/.coordination/ledger.json       the document
//	<root>/.coordination/ledger.lock       OS lock target
//	<root>/.coordination/ledger.lock.info  holder record {pid, host, acquired_at}
package ledger
