// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the graph API routes with the router.
//
// Description:
//
//	Registers all /v1/graph/* endpoints with the given Gin router group.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/graph/schema - Schema at the applied version
//	GET    /v1/graph/migrations - Migration status
//	POST   /v1/graph/migrations/apply - Apply or plan migrations
//	POST   /v1/graph/nodes - Create or replace a node
//	GET    /v1/graph/nodes - Find nodes by label and property
//	GET    /v1/graph/nodes/:id - Get a node
//	DELETE /v1/graph/nodes/:id - Delete a node and its edges
//	GET    /v1/graph/nodes/:id/edges - Edges of a node
//	POST   /v1/graph/edges - Create or replace an edge
//	DELETE /v1/graph/edges/:id - Delete an edge
//	GET    /v1/graph/verify - Audit stored data
//
// Example:
//
//	svc := graph.NewService(store, runner, logger)
//	v1 := router.Group("/v1")
//	graph.RegisterRoutes(v1, graph.NewHandlers(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/graph")
	{
		g.GET("/schema", handlers.HandleSchema)
		g.GET("/verify", handlers.HandleVerify)

		migrations := g.Group("/migrations")
		{
			migrations.GET("", handlers.HandleListMigrations)
			migrations.POST("/apply", handlers.HandleApplyMigrations)
		}

		nodes := g.Group("/nodes")
		{
			nodes.POST("", handlers.HandlePutNode)
			nodes.GET("", handlers.HandleFindNodes)
			nodes.GET("/:id", handlers.HandleGetNode)
			nodes.DELETE("/:id", handlers.HandleDeleteNode)
			nodes.GET("/:id/edges", handlers.HandleNodeEdges)
		}

		edges := g.Group("/edges")
		{
			edges.POST("", handlers.HandlePutEdge)
			edges.DELETE("/:id", handlers.HandleDeleteEdge)
		}
	}
}

// RegisterHealthRoutes registers GET /health and GET /ready at the root.
func RegisterHealthRoutes(r gin.IRoutes, handlers *Handlers) {
	r.GET("/health", handlers.HandleHealth)
	r.GET("/ready", handlers.HandleReady)
}
