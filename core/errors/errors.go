// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package errors defines the error kinds surfaced by the element store
// engine. Every error that crosses a package boundary is one of these
// kinds (possibly annotated), so the API shell can map it to a wire
// code without inspecting error text.
package errors

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

const (
	// NotFound indicates a missing class or object. It is also
	// returned when ownership enforcement hides an object from the
	// caller, deliberately indistinguishable from real absence.
	NotFound = errors.ConstError("not found")

	// Forbidden indicates an ownership denial on update or delete.
	Forbidden = errors.ConstError("forbidden")

	// Conflict indicates a unique constraint violation, an attempt to
	// delete a populated class, or a caller-supplied id while custom
	// ids are disallowed.
	Conflict = errors.ConstError("conflict")

	// ValidationFailed indicates one or more per-field validation
	// errors. The cause chain carries a *ValidationError with the
	// full field list.
	ValidationFailed = errors.ConstError("validation failed")

	// CycleDetected indicates a loop in the extends_id graph.
	CycleDetected = errors.ConstError("cycle detected")

	// IOError indicates a storage layer failure.
	IOError = errors.ConstError("i/o error")

	// Unavailable indicates a provider timeout or an unreachable
	// collaborator.
	Unavailable = errors.ConstError("unavailable")
)

// Code returns the wire code for the error kind, or "internal_error"
// when the error carries no known kind.
func Code(err error) string {
	switch {
	case errors.Is(err, NotFound):
		return "not_found"
	case errors.Is(err, Forbidden):
		return "forbidden"
	case errors.Is(err, Conflict):
		return "conflict"
	case errors.Is(err, ValidationFailed):
		return "validation_failed"
	case errors.Is(err, CycleDetected):
		return "cycle_detected"
	case errors.Is(err, IOError):
		return "io_error"
	case errors.Is(err, Unavailable):
		return "unavailable"
	}
	return "internal_error"
}

// FieldError describes a single validation failure bound to a field.
type FieldError struct {
	Field  string `json:"field"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError aggregates the per-field errors collected while
// validating a write. It matches ValidationFailed under errors.Is.
type ValidationError struct {
	Fields []FieldError
}

// Error implements error.
func (e *ValidationError) Error() string {
	reasons := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		reasons[i] = f.String()
	}
	return "validation failed: " + strings.Join(reasons, "; ")
}

// Is makes errors.Is(err, ValidationFailed) hold for any
// *ValidationError in a chain.
func (e *ValidationError) Is(target error) bool {
	return target == ValidationFailed
}

// NewValidationError wraps the field errors, which must be non-empty.
func NewValidationError(fields []FieldError) error {
	return &ValidationError{Fields: fields}
}

// ValidationFields extracts the field error list from an error chain,
// or nil when the error is not a validation failure.
func ValidationFields(err error) []FieldError {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}
