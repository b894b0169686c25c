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

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests above a shared token-bucket rate.
//
// # Description
//
// All requests through the returned middleware draw from one bucket of
// size burst refilled at perSecond tokens per second. A request that finds
// the bucket empty is aborted with 429 Too Many Requests and a Retry-After
// header. A non-positive perSecond disables limiting.
//
// # Inputs
//
//   - perSecond: Sustained requests per second.
//   - burst: Requests allowed at once. Values below 1 are treated as 1.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for a router group.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(graph.RateLimitMiddleware(50, 100))
//
// # Thread Safety
//
// Thread-safe. rate.Limiter is safe for concurrent use.
func RateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / perSecond)))

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
