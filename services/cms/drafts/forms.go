// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drafts keeps the delayed saves of every editor.
//
// # Description
//
// Each (user, form) pair gets its own undosave.Controller. A handler that
// accepts a create or update form wraps the validated payload in a Mutation
// and submits it under the form's key; the write happens when the grace
// period elapses unless the editor undoes it first. Every state change is
// published to the user's Hub subscribers and recorded in metrics.
//
// Form keys look like "news:new", "news:42", "term:7", "settings:channel".
// A second submission under the same key inside the grace period replaces
// the first.
//
// # Thread Safety
//
// Registry and Hub are safe for concurrent use.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidForm is returned for a malformed form key.
	ErrInvalidForm = errors.New("drafts: invalid form key")

	// ErrUnknownForm is returned when the user has no save under a form key.
	ErrUnknownForm = errors.New("drafts: no save for form")

	// ErrNoApply is returned when a Mutation has no Apply function.
	ErrNoApply = errors.New("drafts: mutation has no apply function")

	// ErrClosed is returned after the registry has been closed.
	ErrClosed = errors.New("drafts: registry closed")
)

// Resources that can be saved through the registry.
const (
	ResourceNews     = "news"
	ResourceTerm     = "term"
	ResourceUser     = "user"
	ResourceBlock    = "block"
	ResourceHomepage = "homepage"
	ResourceSettings = "settings"
)

// Op says what a Mutation does to its target.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Mutation is a validated write waiting for its grace period.
//
// # Fields
//
//   - Resource: The resource kind, e.g. ResourceNews.
//   - Op: Create or update.
//   - TargetID: Id of the updated record. Zero for creates.
//   - Summary: Short human label such as the article title.
//   - Apply: Performs the write. Must not be nil.
type Mutation struct {
	Resource string
	Op       Op
	TargetID int64
	Summary  string
	Apply    func(ctx context.Context) error
}

// NewForm returns the form key for creating a resource.
func NewForm(resource string) string {
	return resource + ":new"
}

// EditForm returns the form key for editing record id.
func EditForm(resource string, id int64) string {
	return resource + ":" + strconv.FormatInt(id, 10)
}

// Singleton form keys.
const (
	SettingsForm     = ResourceSettings + ":channel"
	HomepageModeForm = ResourceHomepage + ":mode"
)

// ParseForm validates form and returns its resource.
func ParseForm(form string) (string, error) {
	resource, target, ok := strings.Cut(form, ":")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidForm, form)
	}
	switch resource {
	case ResourceNews, ResourceTerm, ResourceUser, ResourceBlock:
		if target == "new" {
			return resource, nil
		}
		if id, err := strconv.ParseInt(target, 10, 64); err == nil && id > 0 {
			return resource, nil
		}
	case ResourceSettings:
		if form == SettingsForm {
			return resource, nil
		}
	case ResourceHomepage:
		if form == HomepageModeForm {
			return resource, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidForm, form)
}
