// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the wire types of the REST surface. Successful
// responses are the payload directly; failures are an Error body with
// the wire code and, for validation failures, the per-field list.
package params

import (
	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
)

// Error is the uniform failure body.
type Error struct {
	Error   string                  `json:"error"`
	Code    string                  `json:"code"`
	Details []coreerrors.FieldError `json:"details,omitempty"`
}

// Health is the GET /health body.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Endpoint describes one route in the GET /info catalogue.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Info is the GET /info body.
type Info struct {
	Service   string     `json:"service"`
	Version   string     `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Deleted reports the outcome of a delete.
type Deleted struct {
	Deleted bool `json:"deleted"`
}

// Reset is the POST /reset body.
type Reset struct {
	Cleared []string `json:"cleared"`
}

// FieldValue wraps a single field read or write.
type FieldValue struct {
	Value interface{} `json:"value"`
}
