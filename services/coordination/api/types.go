// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Blocking lists the chains in the way of a rejected claim.
	Blocking []BlockerResponse `json:"blocking,omitempty"`
}

// BlockerResponse describes one chain blocking a claim.
type BlockerResponse struct {
	ChainID   string    `json:"chain_id"`
	AgentID   string    `json:"agent_id"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	Files     []string  `json:"files"`
}

// ClaimRequest is the body of POST /v1/claims.
type ClaimRequest struct {
	AgentID    string   `json:"agent_id" binding:"required"`
	Files      []string `json:"files" binding:"required,min=1"`
	Reason     string   `json:"reason"`
	TTLMinutes float64  `json:"ttl_minutes"`
}

// OwnerRequest carries the acting agent for release and complete.
type OwnerRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// ExtendRequest is the body of POST /v1/claims/:id/extend.
type ExtendRequest struct {
	AgentID string  `json:"agent_id" binding:"required"`
	Minutes float64 `json:"minutes" binding:"required,gt=0"`
}

// FilesRequest carries a file list.
type FilesRequest struct {
	Files []string `json:"files" binding:"required,min=1"`
}

// GateRequest is the body of POST /v1/gate/check.
type GateRequest struct {
	AgentID  string `json:"agent_id"`
	FilePath string `json:"file_path" binding:"required"`
}

// SuggestRequest is the body of POST /v1/graph/suggest.
type SuggestRequest struct {
	Files []string `json:"files" binding:"required,min=1"`
	Depth *int     `json:"depth"`
}

// ChainsResponse wraps a list of chains.
type ChainsResponse struct {
	Chains []claims.Chain `json:"chains"`
	Count  int            `json:"count"`
}

// ClaimForFileResponse answers GET /v1/claims/file.
type ClaimForFileResponse struct {
	Path    string        `json:"path"`
	Claimed bool          `json:"claimed"`
	Chain   *claims.Chain `json:"chain,omitempty"`
}

// FilesResponse wraps a file list.
type FilesResponse struct {
	Files []string `json:"files"`
}

// CountResponse reports how many chains an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func toBlockers(blocking []claims.Blocker) []BlockerResponse {
	out := make([]BlockerResponse, 0, len(blocking))
	for _, b := range blocking {
		out = append(out, BlockerResponse{
			ChainID:   b.Chain.ID,
			AgentID:   b.Chain.AgentID,
			Reason:    b.Chain.Reason,
			ExpiresAt: b.Chain.ExpiresAt,
			Files:     b.Files,
		})
	}
	return out
}
