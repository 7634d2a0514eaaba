// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package genesis populates an empty store with the canonical boot
// content: the reserved meta-classes, their property definitions and
// the default storage binding. Loading is idempotent and is the only
// path permitted to set _version directly. A store already carrying a
// newer definition is left alone and reported as drift.
package genesis

import (
	"context"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
)

var logger = loggo.GetLogger("elementstore.genesis")

//go:embed seed/classes.json seed/props.json seed/objects.json
var seedFS embed.FS

// Data is the parsed seed content.
type Data struct {
	Classes []object.Stored            `json:"classes"`
	Props   []object.Stored            `json:"props"`
	Objects map[string][]object.Stored `json:"objects"`
}

// DriftNote records a definition whose stored version is newer than
// the seed; genesis skips it rather than downgrade.
type DriftNote struct {
	ID            string `json:"id"`
	ClassID       string `json:"class_id"`
	StoredVersion int64  `json:"stored_version"`
	SeedVersion   int64  `json:"seed_version"`
}

// Result reports one load pass.
type Result struct {
	Created []string    `json:"created"`
	Updated []string    `json:"updated"`
	Skipped []string    `json:"skipped"`
	Drift   []DriftNote `json:"drift,omitempty"`
	Objects int         `json:"objects"`
}

// Loader applies the seed to a store.
type Loader struct {
	store    storage.Provider
	registry *registry.Registry
	clock    clock.Clock
	dir      string
}

// New returns a loader. A non-empty dir overrides the embedded seed
// with external files of the same names.
func New(store storage.Provider, reg *registry.Registry, clk clock.Clock, dir string) *Loader {
	return &Loader{store: store, registry: reg, clock: clk, dir: dir}
}

func (l *Loader) readFile(name string) ([]byte, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, errors.Trace(err)
		}
		// Fall through to the embedded copy.
	}
	data, err := seedFS.ReadFile("seed/" + name)
	return data, errors.Trace(err)
}

// SeedData returns the canonical seed content.
func (l *Loader) SeedData() (*Data, error) {
	var data Data
	for name, into := range map[string]interface{}{
		"classes.json": &data.Classes,
		"props.json":   &data.Props,
		"objects.json": &data.Objects,
	} {
		raw, err := l.readFile(name)
		if err != nil {
			return nil, errors.Annotatef(err, "reading seed file %s", name)
		}
		if err := json.Unmarshal(raw, into); err != nil {
			return nil, errors.Annotatef(err, "parsing seed file %s", name)
		}
	}
	return &data, nil
}

// Load applies the seed and returns the pass result.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	data, err := l.SeedData()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, classID := range []string{object.MetaClass, object.MetaProp, object.MetaStorage} {
		if err := l.store.Init(ctx, classID); err != nil {
			return nil, errors.Trace(err)
		}
	}

	result := &Result{}
	for _, def := range data.Classes {
		if err := l.applyDefinition(ctx, object.MetaClass, def, result); err != nil {
			return result, errors.Trace(err)
		}
	}
	for _, def := range data.Props {
		if err := l.applyDefinition(ctx, object.MetaProp, def, result); err != nil {
			return result, errors.Trace(err)
		}
	}
	for classID, objects := range data.Objects {
		if err := l.store.Init(ctx, classID); err != nil {
			return result, errors.Trace(err)
		}
		for _, obj := range objects {
			if err := l.putSeedObject(ctx, classID, obj); err != nil {
				return result, errors.Trace(err)
			}
			result.Objects++
		}
	}
	if l.registry != nil {
		l.registry.Invalidate()
	}
	return result, nil
}

// Seed implements engine.Seeder: load, logging drift instead of
// failing on it.
func (l *Loader) Seed(ctx context.Context) error {
	result, err := l.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, note := range result.Drift {
		logger.Warningf("genesis drift: %s/%s stored _version %d is newer than seed %d",
			note.ClassID, note.ID, note.StoredVersion, note.SeedVersion)
	}
	return nil
}

// Verify reports what a load pass would change, without writing.
func (l *Loader) Verify(ctx context.Context) (*Result, error) {
	data, err := l.SeedData()
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := &Result{}
	check := func(classID string, def object.Stored) error {
		id := def.ID()
		existing, err := l.store.Get(ctx, classID, id)
		if errors.Is(err, coreerrors.NotFound) {
			result.Created = append(result.Created, id)
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		switch {
		case existing.Version() > def.Version():
			result.Drift = append(result.Drift, DriftNote{
				ID: id, ClassID: classID,
				StoredVersion: existing.Version(), SeedVersion: def.Version(),
			})
			result.Skipped = append(result.Skipped, id)
		case existing.Version() == def.Version():
			result.Skipped = append(result.Skipped, id)
		default:
			result.Updated = append(result.Updated, id)
		}
		return nil
	}
	for _, def := range data.Classes {
		if err := check(object.MetaClass, def); err != nil {
			return result, errors.Trace(err)
		}
	}
	for _, def := range data.Props {
		if err := check(object.MetaProp, def); err != nil {
			return result, errors.Trace(err)
		}
	}
	return result, nil
}

// applyDefinition creates, updates or skips one schema definition by
// comparing _version: equal or older stored versions are overwritten,
// newer ones are drift.
func (l *Loader) applyDefinition(ctx context.Context, classID string, def object.Stored, result *Result) error {
	id := def.ID()
	if id == "" {
		return errors.Errorf("seed definition in %s without id", classID)
	}
	existing, err := l.store.Get(ctx, classID, id)
	if err != nil && !errors.Is(err, coreerrors.NotFound) {
		return errors.Trace(err)
	}
	if err == nil {
		if existing.Version() > def.Version() {
			result.Drift = append(result.Drift, DriftNote{
				ID: id, ClassID: classID,
				StoredVersion: existing.Version(), SeedVersion: def.Version(),
			})
			result.Skipped = append(result.Skipped, id)
			return nil
		}
		stamped := l.stamp(classID, def, existing)
		if err := l.store.Put(ctx, classID, id, stamped); err != nil {
			return errors.Trace(err)
		}
		result.Updated = append(result.Updated, id)
		return nil
	}
	stamped := l.stamp(classID, def, nil)
	if err := l.store.Put(ctx, classID, id, stamped); err != nil {
		return errors.Trace(err)
	}
	result.Created = append(result.Created, id)
	return nil
}

func (l *Loader) putSeedObject(ctx context.Context, classID string, obj object.Stored) error {
	id := obj.ID()
	if id == "" {
		return errors.Errorf("seed object in %s without id", classID)
	}
	existing, err := l.store.Get(ctx, classID, id)
	if err != nil && !errors.Is(err, coreerrors.NotFound) {
		return errors.Trace(err)
	}
	return errors.Trace(l.store.Put(ctx, classID, id, l.stamp(classID, obj, existing)))
}

// stamp fills the engine-managed attributes the way the engine would,
// preserving created_at across re-seeds. Genesis records carry no
// owner.
func (l *Loader) stamp(classID string, def, existing object.Stored) object.Stored {
	now := l.clock.Now().UTC().Format(time.RFC3339Nano)
	out := def.Copy()
	out[object.AttrClassID] = classID
	if _, ok := out[object.AttrOwnerID]; !ok {
		out[object.AttrOwnerID] = nil
	}
	if existing != nil && existing.CreatedAt() != "" {
		out[object.AttrCreatedAt] = existing.CreatedAt()
	} else if out.CreatedAt() == "" {
		out[object.AttrCreatedAt] = now
	}
	out[object.AttrUpdatedAt] = now
	if out.Version() == 0 {
		out[object.AttrVersion] = int64(1)
	}
	return out
}
