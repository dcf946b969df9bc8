// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the content model of the Phoebe CMS and the
// request validation applied before an edit is handed to the delayed-commit
// save workflow.
package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// cmsValidate is the validator instance for CMS datatypes. Field names in
// validation errors use the JSON tag so they line up with form field names.
var cmsValidate *validator.Validate

func init() {
	cmsValidate = validator.New(validator.WithRequiredStructEnabled())
	cmsValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = cmsValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Validation Errors
// =============================================================================

// ErrValidation is the sentinel wrapped by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError maps form fields to human-readable messages.
//
// # Description
//
// Returned by the Validate methods in this package. Handlers render Fields
// directly so the admin UI can show each message next to its input.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

// Error lists the failing fields in a stable order.
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// fieldRule is the message table entry for one validated field.
type fieldRule struct {
	label   string
	message string
}

// validateStruct runs the validator and converts failures into a
// *ValidationError using rules, keyed by JSON field name.
func validateStruct(v any, rules map[string]fieldRule) error {
	err := cmsValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %T: %w", v, err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		field, _, _ := strings.Cut(fe.Field(), "[")
		if _, seen := out.Fields[field]; seen {
			continue
		}
		rule, ok := rules[field]
		switch {
		case !ok:
			out.Fields[field] = fmt.Sprintf("%s is invalid.", field)
		case fe.Tag() == "required" || fe.Tag() == "notblank":
			out.Fields[field] = rule.label + " is required."
		default:
			out.Fields[field] = rule.message
		}
	}
	return out
}
