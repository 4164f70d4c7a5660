// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Middleware returns a gin middleware that records HTTP metrics.
//
// Description:
//
//	Records request count, duration, and in-flight gauge for every
//	request. Routes are labelled by their template (c.FullPath) rather
//	than the raw URL to keep cardinality bounded. Tracing is handled
//	separately by otelgin; this middleware only feeds the instruments.
//
// Inputs:
//
//	metrics - The instruments to record into. A nil value disables
//	          recording and the middleware becomes a passthrough.
//
// Outputs:
//
//	gin.HandlerFunc - The middleware.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	if metrics == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		metrics.HTTPActiveRequests.Add(ctx, 1)
		defer metrics.HTTPActiveRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(status)),
		)
		metrics.HTTPRequestsTotal.Add(ctx, 1, attrs)
		metrics.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)

		if status >= 500 {
			metrics.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("component", "http"),
			))
		}
	}
}
