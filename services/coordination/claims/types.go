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
	"time"
)

// CollectionKey is the ledger collection holding claim chains.
const CollectionKey = "claim_chains"

// Status is the lifecycle state of a chain.
//
// The only transitions are active -> released, active -> completed and
// active -> expired. Terminal states are final.
type Status string

const (
	StatusActive    Status = "active"
	StatusReleased  Status = "released"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusCompleted || s == StatusExpired
}

// Chain is one atomic, TTL-bounded reservation of files by one agent.
type Chain struct {
	// ID is generated at claim time (UUID v4).
	ID string `json:"id"`

	// AgentID owns the chain.
	AgentID string `json:"agent_id"`

	// Files are normalized, sorted and unique.
	Files []string `json:"files"`

	Reason string `json:"reason"`

	CreatedAt time.Time `json:"created_at"`

	// TTLMinutes is the lease length; ExpiresAt = CreatedAt + TTLMinutes
	// (plus any extensions).
	TTLMinutes float64 `json:"ttl_minutes"`

	ExpiresAt time.Time `json:"expires_at"`

	Status Status `json:"status"`

	// EndedAt records when the chain reached a terminal state. For expired
	// chains it equals ExpiresAt regardless of when the sweep noticed.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// IsExpired reports whether the lease has run out at now.
func (c *Chain) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsActive reports whether the chain is active and unexpired at now.
func (c *Chain) IsActive(now time.Time) bool {
	return c.Status == StatusActive && !c.IsExpired(now)
}

// Remaining returns the lease time left at now, never negative.
func (c *Chain) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Covers reports whether file (already normalized) is in the chain.
func (c *Chain) Covers(file string) bool {
	for _, f := range c.Files {
		if f == file {
			return true
		}
	}
	return false
}

// ClaimRequest is the input to Manager.ClaimChain.
type ClaimRequest struct {
	// AgentID is the requesting agent. Required.
	AgentID string `json:"agent_id" validate:"required,max=256"`

	// Files to reserve together. Any spelling accepted by Normalizer.
	Files []string `json:"files" validate:"required,min=1,max=10000,dive,required"`

	// Reason is a human-readable justification.
	Reason string `json:"reason" validate:"max=4096"`

	// TTLMinutes is the lease length. Zero selects the manager default.
	TTLMinutes float64 `json:"ttl_minutes" validate:"gte=0"`
}

// Blocker is an active chain that overlaps a request.
type Blocker struct {
	Chain Chain `json:"chain"`

	// Files is the overlap between the request and the chain.
	Files []string `json:"files"`
}
