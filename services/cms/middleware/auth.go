// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the Phoebe CMS.
//
// # Authentication Flow
//
// Admin requests carry HTTP Basic credentials. The auth middleware decodes
// them, checks them with the configured AuthProvider, and stores the
// resulting AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	RateLimit (per client IP)
//	   │
//	   ▼
//	BasicAuth
//	   │
//	   ├─► Decode "Authorization: Basic base64(user:pass)"
//	   │
//	   ├─► provider.Authenticate(ctx, user, pass)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       RequireRole ─► Handler (retrieves via GetAuthInfo)
//
// Repeated failures from one client IP are throttled with 429 responses.
package middleware

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/phoebe/pkg/extensions"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the context key for storing AuthInfo.
const authInfoKey = "phoebe_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: User info, or nil if not authenticated
//
// # Examples
//
//	func (h *handler) HandleRequest(c *gin.Context) {
//	    authInfo := middleware.GetAuthInfo(c)
//	    if authInfo == nil {
//	        c.JSON(401, gin.H{"error": "not authenticated"})
//	        return
//	    }
//	}
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthOptions tunes BasicAuth. Every field is optional.
//
//   - Failures: Per-IP limiter charged on every failed attempt. When a
//     client's bucket is empty further attempts get 429 without being checked.
//   - Audit: Receives auth.failure and auth.throttled events.
type AuthOptions struct {
	Failures *Limiter
	Audit    extensions.AuditLogger
}

// BasicAuth creates a Gin middleware that authenticates admin requests.
//
// # Description
//
// Extracts Basic credentials from the Authorization header and checks them
// with provider. Missing or malformed credentials are rejected with 401.
//
// # Inputs
//
//   - provider: AuthProvider to check credentials. Must not be nil.
//   - opts: Failure throttling and auditing.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	admin := router.Group("/v1/admin")
//	admin.Use(middleware.BasicAuth(provider, middleware.AuthOptions{Failures: limiter}))
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func BasicAuth(provider extensions.AuthProvider, opts AuthOptions) gin.HandlerFunc {
	audit := opts.Audit
	if audit == nil {
		audit = extensions.NopAuditLogger{}
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if opts.Failures != nil && opts.Failures.Exhausted(ip) {
			_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
				EventType: "auth.throttled",
				Action:    "login",
				Outcome:   "denied",
				Metadata:  map[string]any{"ip_address": ip},
			})
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many failed login attempts, try again later",
			})
			return
		}

		username, password, ok := extractBasicCredentials(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		authInfo, err := provider.Authenticate(c.Request.Context(), username, password)
		if err != nil {
			if opts.Failures != nil {
				opts.Failures.Allow(ip)
			}
			_ = audit.Log(c.Request.Context(), extensions.AuditEvent{
				EventType: "auth.failure",
				Username:  username,
				Action:    "login",
				Outcome:   "failure",
				Metadata:  map[string]any{"ip_address": ip},
			})
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid username or password",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication failed",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireRole rejects requests whose user holds none of roles.
//
// Must run after BasicAuth. Answers 401 when no user is present and 403
// when the user lacks every listed role.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !info.HasAnyRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBasicCredentials decodes "Authorization: Basic base64(user:pass)".
// Reports false when the header is missing, malformed, or has an empty
// username.
func extractBasicCredentials(c *gin.Context) (string, string, bool) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}
