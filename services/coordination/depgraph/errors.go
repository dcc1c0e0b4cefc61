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
	"errors"
	"fmt"
)

// Sentinel errors for dependency graph operations.
var (
	// ErrNotScanned indicates a query was made before any Scan.
	ErrNotScanned = errors.New("dependency graph not scanned")

	// ErrRootNotFound indicates the scan root does not exist or is not a directory.
	ErrRootNotFound = errors.New("scan root not found")

	// ErrInvalidDepth indicates a negative cluster depth.
	ErrInvalidDepth = errors.New("invalid depth")

	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")
)

// PreconditionError reports a query issued before Scan.
//
// It is a caller ordering bug, never an environmental condition.
type PreconditionError struct {
	// Op is the query that was attempted.
	Op string
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: scan must be called before querying the graph", e.Op)
}

// Unwrap returns ErrNotScanned.
func (e *PreconditionError) Unwrap() error {
	return ErrNotScanned
}
