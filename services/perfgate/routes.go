// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package perfgate

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/perfgate/pkg/extensions"
	"github.com/AleutianAI/perfgate/services/perfgate/telemetry"
)

// RegisterRoutes registers all perfgate routes with the router.
//
// Description:
//
//	Registers all /v1/perfgate/* endpoints with the given Gin router group.
//	The router group should already have rate limiting applied. Every
//	endpoint except health and readiness runs behind Authenticate and a
//	Require check; with default extensions both allow everything.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Evaluation Endpoints:
//
//	POST /v1/perfgate/evaluate - Evaluate one execution
//	POST /v1/perfgate/evaluate/batch - Evaluate several executions
//	GET  /v1/perfgate/configuration - Resolve profiles for scopes
//	GET  /v1/perfgate/profiles - List profile ids
//
// Baseline Endpoints:
//
//	POST /v1/perfgate/baselines - Capture a baseline
//	GET  /v1/perfgate/baselines - List recent baselines
//	GET  /v1/perfgate/baselines/:id - Get a baseline
//	POST /v1/perfgate/baselines/:id/compare - Compare an execution
//	POST /v1/perfgate/baselines/:id/gate - Apply the regression gate
//
// Health Endpoints:
//
//	GET  /v1/perfgate/health - Health check
//	GET  /v1/perfgate/ready - Readiness check
//
// Example:
//
//	svc, _ := perfgate.NewService(profiles, metricSource, ruleSource)
//	handlers := perfgate.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	perfgate.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	pg := rg.Group("/perfgate")

	// Health checks stay reachable without a token
	pg.GET("/health", handlers.HandleHealth)
	pg.GET("/ready", handlers.HandleReady)

	api := pg.Group("", handlers.Authenticate())
	read := handlers.Require(extensions.ActionRead, "evaluation")
	{
		// Evaluation
		api.POST("/evaluate", read, handlers.HandleEvaluate)
		api.POST("/evaluate/batch", read, handlers.HandleEvaluateBatch)
		api.GET("/configuration", handlers.Require(extensions.ActionRead, "profile"), handlers.HandleResolve)
		api.GET("/profiles", handlers.Require(extensions.ActionRead, "profile"), handlers.HandleListProfiles)

		// Baselines
		readBaseline := handlers.Require(extensions.ActionRead, "baseline")
		api.POST("/baselines", handlers.Require(extensions.ActionCreate, "baseline"), handlers.HandleCreateBaseline)
		api.GET("/baselines", readBaseline, handlers.HandleListBaselines)
		api.GET("/baselines/:id", readBaseline, handlers.HandleGetBaseline)
		api.POST("/baselines/:id/compare", readBaseline, handlers.HandleCompare)
		api.POST("/baselines/:id/gate", readBaseline, handlers.HandleGate)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// RateLimit is the sustained request rate per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the limiter bucket size. Defaults to 1 when RateLimit
	// is set.
	RateBurst int

	// Debug enables gin's request logger.
	Debug bool
}

// NewRouter builds the complete HTTP router.
//
// Description:
//
//	Installs recovery, OpenTelemetry server spans and the rate limiter,
//	registers the API under /v1 and serves Prometheus metrics at /metrics.
//	/metrics is not rate limited.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "perfgate"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware(cfg.ServiceName))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		v1.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}
	RegisterRoutes(v1, handlers)
	return router
}

// RateLimitMiddleware rejects requests with 429 when limiter has no token.
func RateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			telemetry.RecordRateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
