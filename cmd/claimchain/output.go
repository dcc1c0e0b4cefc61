// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type blockerJSON struct {
	ChainID   string    `json:"chain_id"`
	AgentID   string    `json:"agent_id"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	Files     []string  `json:"files"`
}

type blockedResponse struct {
	Error     string        `json:"error"`
	Code      string        `json:"code"`
	Requested []string      `json:"requested"`
	Blocking  []blockerJSON `json:"blocking"`
}

func blockedJSON(e *claims.BlockedError) blockedResponse {
	resp := blockedResponse{
		Error:     e.Error(),
		Code:      "BLOCKED",
		Requested: e.Requested,
		Blocking:  make([]blockerJSON, 0, len(e.Blocking)),
	}
	for _, b := range e.Blocking {
		resp.Blocking = append(resp.Blocking, blockerJSON{
			ChainID:   b.Chain.ID,
			AgentID:   b.Chain.AgentID,
			Reason:    b.Chain.Reason,
			ExpiresAt: b.Chain.ExpiresAt,
			Files:     b.Files,
		})
	}
	return resp
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}
