// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Environment variables consulted for the agent identity, in order.
const (
	EnvAgent   = "CLAIMCHAIN_AGENT"
	EnvAgentID = "AGENT_ID"
)

// maxHookInput bounds the hook payload read from stdin.
const maxHookInput = 1 << 20

// ErrNoFilePath indicates a hook payload without a file path.
var ErrNoFilePath = errors.New("hook input has no file_path")

// ResolveAgentID returns flag, or CLAIMCHAIN_AGENT, or AGENT_ID, or "".
func ResolveAgentID(flag string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	for _, env := range []string{EnvAgent, EnvAgentID} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

// HookInput is the payload an editor hook passes on stdin.
//
// Both the flat form {"file_path": "..."} and the tool-call form
// {"tool_name": "Edit", "tool_input": {"file_path": "..."}} are accepted.
type HookInput struct {
	FilePath  string `json:"file_path"`
	ToolName  string `json:"tool_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
}

type hookPayload struct {
	FilePath  string `json:"file_path"`
	Path      string `json:"path"`
	ToolName  string `json:"tool_name"`
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	ToolInput struct {
		FilePath     string `json:"file_path"`
		NotebookPath string `json:"notebook_path"`
		Path         string `json:"path"`
	} `json:"tool_input"`
}

// ParseHookInput decodes a hook payload from r.
//
// # Outputs
//
//   - HookInput: With FilePath set.
//   - error: A decode error, or ErrNoFilePath.
func ParseHookInput(r io.Reader) (HookInput, error) {
	var p hookPayload
	dec := json.NewDecoder(io.LimitReader(r, maxHookInput))
	if err := dec.Decode(&p); err != nil {
		return HookInput{}, fmt.Errorf("decoding hook input: %w", err)
	}

	in := HookInput{
		ToolName:  p.ToolName,
		SessionID: p.SessionID,
		AgentID:   p.AgentID,
	}
	for _, candidate := range []string{
		p.FilePath, p.ToolInput.FilePath, p.ToolInput.NotebookPath, p.ToolInput.Path, p.Path,
	} {
		if c := strings.TrimSpace(candidate); c != "" {
			in.FilePath = c
			break
		}
	}
	if in.FilePath == "" {
		return in, ErrNoFilePath
	}
	return in, nil
}
