// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate decides whether an agent may modify a file.
//
// The gate is the enforcement point in front of editing tools: it allows
// a write only when the writing agent holds an active claim chain covering
// the file. Everything else is denied with a reason the agent can act on.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
)

// Code classifies a gate decision.
type Code string

const (
	// CodeAllowed means the agent owns an active chain covering the file.
	CodeAllowed Code = "allowed"

	// CodeNotClaimed means no active chain covers the file.
	CodeNotClaimed Code = "not_claimed"

	// CodeClaimedByOther means another agent's active chain covers the file.
	CodeClaimedByOther Code = "claimed_by_other"

	// CodeNoIdentity means the caller did not say who it is.
	CodeNoIdentity Code = "no_identity"

	// CodeInvalidPath means the path is empty or outside the project root.
	CodeInvalidPath Code = "invalid_path"

	// CodeInternalError means the ledger could not be consulted.
	CodeInternalError Code = "internal_error"
)

// ClaimLookup is the read side of the claims manager the gate needs.
type ClaimLookup interface {
	GetClaimForFile(ctx context.Context, path string) (*claims.Chain, error)
}

// Config configures a Gate.
type Config struct {
	// FailOpen allows writes when the ledger cannot be read. Off by
	// default: an unreadable ledger denies.
	FailOpen bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Code    Code   `json:"code"`
	Reason  string `json:"reason"`
	File    string `json:"file"`
	AgentID string `json:"agent_id,omitempty"`

	// Chain is the covering chain, when there is one.
	Chain *claims.Chain `json:"chain,omitempty"`

	// Remaining is the covering chain's lease time left.
	Remaining time.Duration `json:"remaining_ns,omitempty"`
}

// Gate answers "may agent X write file F".
//
// # Thread Safety
//
// Safe for concurrent use.
type Gate struct {
	lookup ClaimLookup
	config Config
	logger *slog.Logger
}

// New creates a Gate over lookup.
func New(lookup ClaimLookup, config Config) *Gate {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Gate{
		lookup: lookup,
		config: config,
		logger: config.Logger.With("component", "gate.Gate"),
	}
}

// Check decides whether agentID may modify file.
//
// # Description
//
// Allowed only when an active, unexpired chain owned by agentID covers
// file. Ledger failures deny with CodeInternalError unless FailOpen is
// set, in which case they allow with the same code and a warning is
// logged.
//
// # Inputs
//
//   - ctx: Bounds the ledger read.
//   - agentID: The writing agent. Empty denies with CodeNoIdentity.
//   - file: The target path, absolute or root-relative.
//
// # Outputs
//
//   - Decision: Never an error; every failure is a decision.
func (g *Gate) Check(ctx context.Context, agentID, file string) Decision {
	agentID = strings.TrimSpace(agentID)
	d := Decision{File: file, AgentID: agentID}

	if agentID == "" {
		d.Code = CodeNoIdentity
		d.Reason = "No agent identity. Pass --agent or set CLAIMCHAIN_AGENT."
		return g.finish(ctx, d)
	}

	chain, err := g.lookup.GetClaimForFile(ctx, file)
	if err != nil {
		if errors.Is(err, claims.ErrInvalidPath) {
			d.Code = CodeInvalidPath
			d.Reason = fmt.Sprintf("Cannot check %q: %v", file, err)
			return g.finish(ctx, d)
		}
		d.Code = CodeInternalError
		if g.config.FailOpen {
			g.logger.Warn("Ledger unavailable, allowing write (fail-open)",
				"agent_id", agentID, "file", file, "error", err)
			d.Allowed = true
			d.Reason = fmt.Sprintf("Claim ledger unavailable (%v); allowed because fail-open is enabled.", err)
			return g.finish(ctx, d)
		}
		g.logger.Error("Ledger unavailable, denying write",
			"agent_id", agentID, "file", file, "error", err)
		d.Reason = fmt.Sprintf("Claim ledger unavailable: %v. Write denied.", err)
		return g.finish(ctx, d)
	}

	if chain == nil {
		d.Code = CodeNotClaimed
		d.Reason = fmt.Sprintf("%s is not claimed. Claim it first: claimchain claim %s", file, file)
		return g.finish(ctx, d)
	}

	d.Chain = chain
	d.Remaining = chain.Remaining(g.config.Now())
	if chain.AgentID == agentID {
		d.Allowed = true
		d.Code = CodeAllowed
		d.Reason = fmt.Sprintf("Covered by your chain %s (%s left).", chain.ID, formatRemaining(d.Remaining))
		return g.finish(ctx, d)
	}

	d.Code = CodeClaimedByOther
	d.Reason = fmt.Sprintf("%s is claimed by %s (chain %s, reason %q, %s left).",
		file, chain.AgentID, chain.ID, chain.Reason, formatRemaining(d.Remaining))
	return g.finish(ctx, d)
}

func (g *Gate) finish(ctx context.Context, d Decision) Decision {
	recordDecision(ctx, d)
	g.logger.Debug("Gate decision",
		"agent_id", d.AgentID,
		"file", d.File,
		"allowed", d.Allowed,
		"code", string(d.Code))
	return d
}

func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}
