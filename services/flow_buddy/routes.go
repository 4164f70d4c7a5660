// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow_buddy

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all FlowBuddy routes with the router.
//
// Description:
//
//	Registers the /v1/flowbuddy/* endpoints with the given Gin router
//	group. The group should already carry any required middleware.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/flowbuddy/build - Start an asynchronous build session
//	GET  /v1/flowbuddy/sessions - List held sessions
//	GET  /v1/flowbuddy/sessions/:id - Get a session snapshot
//	POST /v1/flowbuddy/sessions/:id/cancel - Cancel a running session
//	GET  /v1/flowbuddy/sessions/:id/events - Websocket progress stream
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	fb := rg.Group("/flowbuddy")
	{
		fb.POST("/build", handlers.HandleBuild)

		sessions := fb.Group("/sessions")
		{
			sessions.GET("", handlers.HandleListSessions)
			sessions.GET("/:id", handlers.HandleGetSession)
			sessions.POST("/:id/cancel", handlers.HandleCancel)
			sessions.GET("/:id/events", handlers.HandleSessionEvents)
		}
	}
}
