// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package engine implements the class model: the single public façade
// orchestrating schema resolution, validation, ownership, persistence
// and change broadcast. One Model is process-scoped and immutable
// after construction; per-request behavior is carried in Options.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/rs/xid"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/broadcast"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
	"github.com/omc-ai/elementStore-sub001/internal/validation"
)

var logger = loggo.GetLogger("elementstore.engine")

// maxCascadeDepth bounds orphan cascade recursion.
const maxCascadeDepth = 16

// Seeder re-applies the canonical boot data. Reset uses it to restore
// the meta-classes after dropping user data.
type Seeder interface {
	Seed(ctx context.Context) error
}

// Config assembles a Model.
type Config struct {
	Store    storage.Provider
	Registry *registry.Registry
	Emitter  *broadcast.Emitter
	Clock    clock.Clock
	Seeder   Seeder
}

// Validate checks the mandatory collaborators.
func (c Config) Validate() error {
	if c.Store == nil {
		return errors.New("nil Store")
	}
	if c.Registry == nil {
		return errors.New("nil Registry")
	}
	if c.Emitter == nil {
		return errors.New("nil Emitter")
	}
	if c.Clock == nil {
		return errors.New("nil Clock")
	}
	return nil
}

// Options carries the per-request runtime flags derived from headers
// by the shell.
type Options struct {
	// Principal is the acting user id; opaque to the engine.
	Principal string
	// EnforceOwnership filters reads and gates writes by
	// owner_id == Principal. Defaults on at the shell.
	EnforceOwnership bool
	// AllowCustomIDs permits creating objects with caller-supplied
	// ids.
	AllowCustomIDs bool
	// Origin is the websocket connection id of the originating
	// client, used for echo suppression.
	Origin string
}

// Model is the class model façade.
type Model struct {
	store     storage.Provider
	registry  *registry.Registry
	validator *validation.Validator
	emitter   *broadcast.Emitter
	clock     clock.Clock
	seeder    Seeder

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// New returns a Model over the given collaborators.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Model{
		store:     cfg.Store,
		registry:  cfg.Registry,
		validator: validation.New(cfg.Registry, cfg.Store),
		emitter:   cfg.Emitter,
		clock:     cfg.Clock,
		seeder:    cfg.Seeder,
	}, nil
}

// classLock returns the reader-writer lock for a class, creating it
// on first use. The hot path is overwhelmingly schema reads.
func (m *Model) classLock(classID string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.RWMutex)
	}
	lock, ok := m.locks[classID]
	if !ok {
		lock = &sync.RWMutex{}
		m.locks[classID] = lock
	}
	return lock
}

// now returns the ISO-8601 timestamp stamped on writes.
func (m *Model) now() string {
	return m.clock.Now().UTC().Format(time.RFC3339Nano)
}

// mintID returns a new time-ordered, URL-safe object id.
func (m *Model) mintID() string {
	return xid.New().String()
}

// GetClass returns the class definition.
func (m *Model) GetClass(ctx context.Context, id string) (*object.Class, error) {
	cls, err := m.registry.Class(ctx, id)
	return cls, errors.Trace(err)
}

// Classes lists every class definition, ordered by id.
func (m *Model) Classes(ctx context.Context) ([]*object.Class, error) {
	classes, err := m.registry.Classes(ctx)
	return classes, errors.Trace(err)
}

// ClassProps returns the resolved (inherited) property set.
func (m *Model) ClassProps(ctx context.Context, id string) ([]*object.Prop, error) {
	if _, err := m.registry.Class(ctx, id); err != nil {
		return nil, errors.Trace(err)
	}
	props, err := m.registry.Props(ctx, id)
	return props, errors.Trace(err)
}

// visible reports whether the caller may observe the object under the
// ownership rules. Unowned objects and meta/system records are always
// visible.
func (m *Model) visible(obj object.Stored, opts Options, classID string) bool {
	if !opts.EnforceOwnership {
		return true
	}
	if object.IsMeta(classID) {
		return true
	}
	owner := obj.OwnerID()
	return owner == "" || owner == opts.Principal
}

// GetObject returns the object as stored. When ownership enforcement
// hides it, the result is NotFound, indistinguishable from absence.
func (m *Model) GetObject(ctx context.Context, opts Options, classID, id string) (object.Stored, error) {
	lock := m.classLock(classID)
	lock.RLock()
	defer lock.RUnlock()
	return m.getObjectLocked(ctx, opts, classID, id)
}

func (m *Model) getObjectLocked(ctx context.Context, opts Options, classID, id string) (object.Stored, error) {
	if _, err := m.registry.Class(ctx, classID); err != nil {
		return nil, errors.Trace(err)
	}
	obj, err := m.store.Get(ctx, classID, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !m.visible(obj, opts, classID) {
		return nil, errors.Annotatef(coreerrors.NotFound, "object %s/%s", classID, id)
	}
	return obj, nil
}

// FindObject looks an id up across all non-system classes in sorted
// class order; first match wins.
func (m *Model) FindObject(ctx context.Context, opts Options, id string) (object.Stored, error) {
	classes, err := m.registry.Classes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, cls := range classes {
		if cls.IsSystem || object.IsMeta(cls.ID) {
			continue
		}
		obj, err := m.GetObject(ctx, opts, cls.ID, id)
		if err == nil {
			return obj, nil
		}
		if !errors.Is(err, coreerrors.NotFound) {
			return nil, errors.Trace(err)
		}
	}
	return nil, errors.Annotatef(coreerrors.NotFound, "object %q", id)
}

// sortedClassIDs returns ids of all classes, ordered.
func (m *Model) sortedClassIDs(ctx context.Context) ([]string, error) {
	classes, err := m.registry.Classes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ids := make([]string, len(classes))
	for i, cls := range classes {
		ids[i] = cls.ID
	}
	sort.Strings(ids)
	return ids, nil
}
