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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/claims"
	"github.com/AleutianAI/claimchain/services/coordination/depgraph"
	"github.com/AleutianAI/claimchain/services/coordination/gate"
	"github.com/AleutianAI/claimchain/services/coordination/ledger"
	"github.com/AleutianAI/claimchain/services/coordination/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServiceVersion is reported by /health.
const ServiceVersion = "1.0.0"

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// ClaimService is the claims manager surface the API serves.
type ClaimService interface {
	ClaimChain(ctx context.Context, req claims.ClaimRequest) (*claims.Chain, error)
	ReleaseChain(ctx context.Context, agentID, chainID string) (*claims.Chain, error)
	CompleteChain(ctx context.Context, agentID, chainID string) (*claims.Chain, error)
	ExtendChain(ctx context.Context, agentID, chainID string, addMinutes float64) (*claims.Chain, error)
	ReleaseAgent(ctx context.Context, agentID string) (int, error)
	Sweep(ctx context.Context) (int, error)
	GetBlockingChains(ctx context.Context, files []string) ([]claims.Chain, error)
	GetClaimForFile(ctx context.Context, path string) (*claims.Chain, error)
	GetAgentChains(ctx context.Context, agentID string) ([]claims.Chain, error)
	GetAllActiveChains(ctx context.Context) ([]claims.Chain, error)
	History(ctx context.Context, agentID string) ([]claims.Chain, error)
}

// Handlers contains the HTTP handlers for the coordination API.
type Handlers struct {
	claims   ClaimService
	gate     *gate.Gate
	analyzer *depgraph.Analyzer
	logger   *slog.Logger
}

// NewHandlers creates handlers over a claims service and gate.
func NewHandlers(svc ClaimService, g *gate.Gate, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		claims: svc,
		gate:   g,
		logger: logger.With("component", "api.Handlers"),
	}
}

// WithAnalyzer enables the /v1/graph endpoints.
func (h *Handlers) WithAnalyzer(a *depgraph.Analyzer) *Handlers {
	h.analyzer = a
	return h
}

// requestLogger returns a logger tagged with the request and trace IDs.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(RequestIDHeader, requestID)
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", handler)
}

// HandleClaim handles POST /v1/claims.
//
// Response:
//
//	201 Created: claims.Chain
//	400 Bad Request: Validation error
//	409 Conflict: ErrorResponse with Blocking
//	503 Service Unavailable: Ledger lock timeout
func (h *Handlers) HandleClaim(c *gin.Context) {
	logger := h.requestLogger(c, "HandleClaim")

	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	chain, err := h.claims.ClaimChain(c.Request.Context(), claims.ClaimRequest{
		AgentID:    req.AgentID,
		Files:      req.Files,
		Reason:     req.Reason,
		TTLMinutes: req.TTLMinutes,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("Chain claimed", "chain_id", chain.ID, "agent_id", chain.AgentID, "files", len(chain.Files))
	c.JSON(http.StatusCreated, chain)
}

// HandleRelease handles POST /v1/claims/:id/release.
func (h *Handlers) HandleRelease(c *gin.Context) {
	h.handleFinish(c, "HandleRelease", h.claims.ReleaseChain)
}

// HandleComplete handles POST /v1/claims/:id/complete.
func (h *Handlers) HandleComplete(c *gin.Context) {
	h.handleFinish(c, "HandleComplete", h.claims.CompleteChain)
}

func (h *Handlers) handleFinish(c *gin.Context, name string,
	op func(ctx context.Context, agentID, chainID string) (*claims.Chain, error)) {
	logger := h.requestLogger(c, name)

	var req OwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	chain, err := op(c.Request.Context(), req.AgentID, c.Param("id"))
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// HandleExtend handles POST /v1/claims/:id/extend.
func (h *Handlers) HandleExtend(c *gin.Context) {
	logger := h.requestLogger(c, "HandleExtend")

	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	chain, err := h.claims.ExtendChain(c.Request.Context(), req.AgentID, c.Param("id"), req.Minutes)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

// HandleListActive handles GET /v1/claims.
//
// With ?history=true it returns every chain, terminal ones included.
func (h *Handlers) HandleListActive(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListActive")

	var (
		chains []claims.Chain
		err    error
	)
	if history, _ := strconv.ParseBool(c.Query("history")); history {
		chains, err = h.claims.History(c.Request.Context(), c.Query("agent"))
	} else {
		chains, err = h.claims.GetAllActiveChains(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChainsResponse{Chains: nonNil(chains), Count: len(chains)})
}

// HandleClaimForFile handles GET /v1/claims/file?path=.
func (h *Handlers) HandleClaimForFile(c *gin.Context) {
	logger := h.requestLogger(c, "HandleClaimForFile")

	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "path query parameter is required", Code: "INVALID_REQUEST"})
		return
	}
	chain, err := h.claims.GetClaimForFile(c.Request.Context(), path)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ClaimForFileResponse{Path: path, Claimed: chain != nil, Chain: chain})
}

// HandleAgentChains handles GET /v1/claims/agent/:agent.
func (h *Handlers) HandleAgentChains(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAgentChains")

	chains, err := h.claims.GetAgentChains(c.Request.Context(), c.Param("agent"))
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChainsResponse{Chains: nonNil(chains), Count: len(chains)})
}

// HandleReleaseAgent handles DELETE /v1/claims/agent/:agent.
func (h *Handlers) HandleReleaseAgent(c *gin.Context) {
	logger := h.requestLogger(c, "HandleReleaseAgent")

	n, err := h.claims.ReleaseAgent(c.Request.Context(), c.Param("agent"))
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("Released agent chains", "agent_id", c.Param("agent"), "count", n)
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// HandleBlocking handles POST /v1/claims/blocking.
func (h *Handlers) HandleBlocking(c *gin.Context) {
	logger := h.requestLogger(c, "HandleBlocking")

	var req FilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	chains, err := h.claims.GetBlockingChains(c.Request.Context(), req.Files)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChainsResponse{Chains: nonNil(chains), Count: len(chains)})
}

// HandleSweep handles POST /v1/claims/sweep.
func (h *Handlers) HandleSweep(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSweep")

	n, err := h.claims.Sweep(c.Request.Context())
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// HandleGateCheck handles POST /v1/gate/check.
//
// Always 200 with a gate.Decision; callers branch on Allowed.
func (h *Handlers) HandleGateCheck(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGateCheck")

	var req GateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	d := h.gate.Check(c.Request.Context(), req.AgentID, req.FilePath)
	if !d.Allowed {
		logger.Info("Write denied", "agent_id", d.AgentID, "file", d.File, "code", string(d.Code))
	}
	c.JSON(http.StatusOK, d)
}

// HandleCluster handles GET /v1/graph/cluster?file=&depth=.
func (h *Handlers) HandleCluster(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCluster")

	depth := gate.DefaultAdviseDepth
	if raw := c.Query("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "depth must be an integer", Code: "INVALID_REQUEST"})
			return
		}
		depth = d
	}
	file := c.Query("file")
	if file == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file query parameter is required", Code: "INVALID_REQUEST"})
		return
	}
	files, err := h.analyzer.Cluster(file, depth)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, FilesResponse{Files: files})
}

// HandleSuggest handles POST /v1/graph/suggest.
func (h *Handlers) HandleSuggest(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSuggest")

	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}
	depth := gate.DefaultAdviseDepth
	if req.Depth != nil {
		depth = *req.Depth
	}
	files, err := h.analyzer.Suggest(req.Files, depth)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, FilesResponse{Files: files})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   ServiceVersion,
		Timestamp: time.Now().UTC(),
	})
}

// writeError maps domain errors to status codes.
func (h *Handlers) writeError(c *gin.Context, logger *slog.Logger, err error) {
	var blocked *claims.BlockedError
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &blocked):
		status = http.StatusConflict
		resp.Code = "BLOCKED"
		resp.Blocking = toBlockers(blocked.Blocking)
	case errors.Is(err, claims.ErrNotFound):
		status = http.StatusNotFound
		resp.Code = "NOT_FOUND"
	case errors.Is(err, claims.ErrForbidden):
		status = http.StatusForbidden
		resp.Code = "FORBIDDEN"
	case errors.Is(err, claims.ErrInvalidRequest), errors.Is(err, claims.ErrInvalidPath),
		errors.Is(err, depgraph.ErrInvalidDepth):
		status = http.StatusBadRequest
		resp.Code = "INVALID_REQUEST"
	case errors.Is(err, ledger.ErrLockTimeout):
		status = http.StatusServiceUnavailable
		resp.Code = "LOCK_TIMEOUT"
	case errors.Is(err, depgraph.ErrNotScanned):
		status = http.StatusServiceUnavailable
		resp.Code = "GRAPH_NOT_READY"
	case errors.Is(err, ledger.ErrLedgerCorrupt):
		resp.Code = "LEDGER_CORRUPT"
	default:
		resp.Code = "INTERNAL_ERROR"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", resp.Code)
	} else {
		logger.Info("Request rejected", "error", err, "code", resp.Code)
	}
	c.JSON(status, resp)
}

func nonNil(chains []claims.Chain) []claims.Chain {
	if chains == nil {
		return []claims.Chain{}
	}
	return chains
}
