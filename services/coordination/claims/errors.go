// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package claims

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for claim operations.
var (
	// ErrBlocked indicates a claim overlaps an active chain.
	ErrBlocked = errors.New("claim blocked")

	// ErrNotFound indicates the chain does not exist or is no longer active.
	ErrNotFound = errors.New("chain not found")

	// ErrForbidden indicates the chain belongs to another agent.
	ErrForbidden = errors.New("chain owned by another agent")

	// ErrInvalidPath indicates a path that is empty or escapes the root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidRequest indicates a request that failed validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")
)

// BlockedError reports every active chain that overlaps a claim request.
//
// No part of the request was granted.
type BlockedError struct {
	AgentID   string
	Requested []string
	Blocking  []Blocker

	// At is the evaluation time, used for remaining-TTL messages.
	At time.Time
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "claim blocked for %s:", e.AgentID)
	for i, blk := range e.Blocking {
		if i > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " %s held by %s (chain %s, reason %q, expires in %s)",
			strings.Join(blk.Files, ", "), blk.Chain.AgentID, blk.Chain.ID,
			blk.Chain.Reason, blk.Chain.Remaining(e.At).Round(time.Second))
	}
	return b.String()
}

// Unwrap returns ErrBlocked.
func (e *BlockedError) Unwrap() error {
	return ErrBlocked
}

// BlockedFiles returns the union of overlapping files, in request order.
func (e *BlockedError) BlockedFiles() []string {
	blocked := make(map[string]bool)
	for _, blk := range e.Blocking {
		for _, f := range blk.Files {
			blocked[f] = true
		}
	}
	var out []string
	for _, f := range e.Requested {
		if blocked[f] {
			out = append(out, f)
		}
	}
	return out
}

// NotFoundError reports a release/complete/extend against a missing or
// non-active chain.
type NotFoundError struct {
	ChainID string

	// Status is the chain's current status when it exists but is terminal.
	Status Status
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("chain %s is not active (status %s)", e.ChainID, e.Status)
	}
	return fmt.Sprintf("chain %s not found", e.ChainID)
}

// Unwrap returns ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ForbiddenError reports an agent acting on another agent's chain.
type ForbiddenError struct {
	ChainID string
	AgentID string
	OwnerID string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("agent %s cannot modify chain %s owned by %s", e.AgentID, e.ChainID, e.OwnerID)
}

// Unwrap returns ErrForbidden.
func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}
