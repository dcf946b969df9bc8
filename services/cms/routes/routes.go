// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/AleutianAI/phoebe/services/cms/datatypes"
	"github.com/AleutianAI/phoebe/services/cms/handlers"
	"github.com/AleutianAI/phoebe/services/cms/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures SetupRoutes.
//
//   - Extensions: Auth provider and audit logger. A nil AuthProvider falls
//     back to extensions.NopAuthProvider, which lets everyone in as ADMIN.
//   - RateLimit: Per-IP limits for the public and admin groups.
//   - Metrics: Handler for /metrics. Nil uses promhttp.Handler().
type Options struct {
	Extensions extensions.ServiceOptions
	RateLimit  middleware.RateLimitConfig
	Metrics    http.Handler
}

// DefaultOptions returns options with default limits and no authentication.
func DefaultOptions() Options {
	return Options{
		Extensions: extensions.DefaultOptions(),
		RateLimit:  middleware.DefaultRateLimitConfig(),
	}
}

// SetupRoutes registers every endpoint on router.
//
// # Layout
//
//	GET  /health, /metrics
//	/api/public/...   anonymous reads, public rate limit
//	/api/admin/...    Basic auth, admin rate limit
//	  me, saves, stream/saves     any signed-in user
//	  news, terms, blocks,        ADMIN or EDITOR
//	  homepage, settings
//	  users, roles, backup        ADMIN
func SetupRoutes(router *gin.Engine, deps *handlers.Deps, opts Options) {
	provider := opts.Extensions.AuthProvider
	if provider == nil {
		slog.Warn("no auth provider configured, admin API is open")
		provider = &extensions.NopAuthProvider{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	var publicLimit, adminLimit, failureLimit *middleware.Limiter
	if opts.RateLimit.Enabled {
		publicLimit = middleware.NewLimiter(opts.RateLimit.PublicPerMinute, time.Minute)
		adminLimit = middleware.NewLimiter(opts.RateLimit.AdminPerMinute, time.Minute)
		failureLimit = middleware.NewLimiter(opts.RateLimit.AuthFailures, opts.RateLimit.AuthWindow)
	}

	router.Use(middleware.RequestID())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	public := router.Group("/api/public", middleware.RateLimit(publicLimit))
	{
		public.GET("/news", handlers.ListPublicNews(deps))
		public.GET("/news/:id", handlers.GetPublicNews(deps))
		public.GET("/search", handlers.SearchNews(deps))
		public.GET("/terms", handlers.ListPublicTerms(deps))
		public.GET("/terms/:termId/news", handlers.ListNewsByTerm(deps))
		public.GET("/homepage", handlers.GetPublicHomepage(deps))
		public.GET("/settings", handlers.GetPublicSettings(deps))
	}

	admin := router.Group("/api/admin",
		middleware.RateLimit(adminLimit),
		middleware.BasicAuth(provider, middleware.AuthOptions{
			Failures: failureLimit,
			Audit:    opts.Extensions.AuditLogger,
		}),
	)
	{
		admin.GET("/me", handlers.GetMe)

		saves := admin.Group("/saves")
		{
			saves.GET("", handlers.ListSaves(deps))
			saves.GET("/:form", handlers.GetSave(deps))
			saves.DELETE("/:form", handlers.UndoSave(deps))
			saves.POST("/:form/clear", handlers.ClearSave(deps))
			saves.POST("/:form/dispose", handlers.DisposeSave(deps))
		}
		admin.GET("/stream/saves", handlers.SaveStream(deps))

		content := admin.Group("", middleware.RequireRole(datatypes.RoleAdmin, datatypes.RoleEditor))
		{
			content.GET("/news", handlers.ListNews(deps))
			content.GET("/news/:id", handlers.GetNews(deps))
			content.POST("/news", handlers.CreateNews(deps))
			content.PUT("/news/:id", handlers.UpdateNews(deps))
			content.DELETE("/news/:id", handlers.DeleteNews(deps))

			content.GET("/terms", handlers.ListTerms(deps))
			content.GET("/terms/:id", handlers.GetTerm(deps))
			content.POST("/terms", handlers.CreateTerm(deps))
			content.PUT("/terms/:id", handlers.UpdateTerm(deps))
			content.DELETE("/terms/:id", handlers.DeleteTerm(deps))

			content.GET("/blocks", handlers.ListBlocks(deps))
			content.GET("/blocks/:id", handlers.GetBlock(deps))
			content.POST("/blocks", handlers.CreateBlock(deps))
			content.PUT("/blocks/:id", handlers.UpdateBlock(deps))
			content.DELETE("/blocks/:id", handlers.DeleteBlock(deps))

			content.GET("/homepage", handlers.GetHomepageMode(deps))
			content.PUT("/homepage", handlers.PutHomepageMode(deps))
			content.GET("/settings", handlers.GetSettings(deps))
			content.PUT("/settings", handlers.PutSettings(deps))
		}

		users := admin.Group("", middleware.RequireRole(datatypes.RoleAdmin))
		{
			users.GET("/roles", handlers.ListRoles(deps))
			users.GET("/users", handlers.ListUsers(deps))
			users.GET("/users/:id", handlers.GetUser(deps))
			users.POST("/users", handlers.CreateUser(deps))
			users.PUT("/users/:id", handlers.UpdateUser(deps))
			users.DELETE("/users/:id", handlers.DeleteUser(deps))
			users.GET("/backup", handlers.Backup(deps))
		}
	}
}
