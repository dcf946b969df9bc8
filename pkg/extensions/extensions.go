// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable seams of the Phoebe CMS.
//
// # Extension Categories
//
//   - auth.go: Authentication (AuthProvider)
//   - audit.go: Audit logging (AuditLogger)
//
// The service falls back to no-op implementations for anything left nil.
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// Example:
//
//	opts := extensions.DefaultOptions().
//	    WithAudit(extensions.NewSlogAuditLogger(logger, 500))
type ServiceOptions struct {
	// AuthProvider checks admin credentials.
	// Default: nil, meaning the service uses its store-backed provider.
	AuthProvider AuthProvider

	// AuditLogger records logins and content changes.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op auditing and the
// store-backed authentication chosen by the service.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
