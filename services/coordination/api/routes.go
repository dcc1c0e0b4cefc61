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
	"github.com/AleutianAI/claimchain/services/coordination/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName names the HTTP server in traces.
const ServiceName = "claimchain"

// RegisterRoutes registers coordination routes on a router group.
//
// # Description
//
// Claim routes are always registered. Graph routes are registered only
// when the handlers carry an analyzer.
//
// # Endpoints
//
//	POST   /v1/claims                  Claim a chain of files
//	GET    /v1/claims                  List active chains (?history=true&agent=)
//	GET    /v1/claims/file             Chain covering ?path=
//	POST   /v1/claims/blocking         Active chains overlapping files
//	POST   /v1/claims/sweep            Expire overdue chains
//	GET    /v1/claims/agent/:agent     Active chains of one agent
//	DELETE /v1/claims/agent/:agent     Release every chain of one agent
//	POST   /v1/claims/:id/release      Release a chain
//	POST   /v1/claims/:id/complete     Complete a chain
//	POST   /v1/claims/:id/extend       Extend a chain's lease
//	POST   /v1/gate/check              May agent write file
//	GET    /v1/graph/cluster           Dependency cluster of ?file=&depth=
//	POST   /v1/graph/suggest           Suggested chain for files
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	c := rg.Group("/claims")
	{
		c.POST("", h.HandleClaim)
		c.GET("", h.HandleListActive)
		c.GET("/file", h.HandleClaimForFile)
		c.POST("/blocking", h.HandleBlocking)
		c.POST("/sweep", h.HandleSweep)
		c.GET("/agent/:agent", h.HandleAgentChains)
		c.DELETE("/agent/:agent", h.HandleReleaseAgent)
		c.POST("/:id/release", h.HandleRelease)
		c.POST("/:id/complete", h.HandleComplete)
		c.POST("/:id/extend", h.HandleExtend)
	}

	rg.POST("/gate/check", h.HandleGateCheck)

	if h.analyzer != nil {
		g := rg.Group("/graph")
		{
			g.GET("/cluster", h.HandleCluster)
			g.POST("/suggest", h.HandleSuggest)
		}
	}
}

// NewRouter builds the full engine: recovery, tracing, health, metrics
// and the /v1 routes.
func NewRouter(h *Handlers, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/health", h.HandleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}

	RegisterRoutes(router.Group("/v1"), h)
	return router
}
