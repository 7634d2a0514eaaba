// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package storage defines the narrow provider contract the engine
// persists through. Providers store opaque id-keyed object maps, one
// logical container per class; they carry no schema knowledge.
package storage

import (
	"context"

	"github.com/omc-ai/elementStore-sub001/core/object"
)

// Provider is the storage contract required by the engine.
//
// Guarantees required of an implementation:
//   - a Put that returned success is durable before the caller
//     proceeds to broadcast;
//   - concurrent Puts for the same id linearize, last writer wins by
//     arrival order at the provider;
//   - List returns a consistent snapshot with respect to concurrent
//     writes on other ids, with no torn object reads.
type Provider interface {
	// Get returns the object, or a NotFound error when absent.
	Get(ctx context.Context, classID, id string) (object.Stored, error)

	// List returns all objects of the class. Order is unspecified but
	// stable within a single snapshot. A missing container yields an
	// empty list.
	List(ctx context.Context, classID string) ([]object.Stored, error)

	// Put atomically replaces or creates the object with the given id.
	Put(ctx context.Context, classID, id string, obj object.Stored) error

	// Delete removes the object, reporting whether it existed.
	Delete(ctx context.Context, classID, id string) (bool, error)

	// Exists reports whether the class container exists.
	Exists(ctx context.Context, classID string) (bool, error)

	// Drop removes the class container and everything in it,
	// reporting whether it existed.
	Drop(ctx context.Context, classID string) (bool, error)

	// Init creates the class container if it does not exist yet.
	Init(ctx context.Context, classID string) error

	// Close releases provider resources.
	Close() error
}
