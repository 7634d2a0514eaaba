// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"

	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/validation"
)

// SetObject is the single entry point for create and update. The
// persisted record is returned.
func (m *Model) SetObject(ctx context.Context, opts Options, classID string, input object.Stored) (object.Stored, error) {
	cls, err := m.registry.Class(ctx, classID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	lock := m.classLock(classID)
	lock.Lock()
	defer lock.Unlock()

	// Identity resolution.
	id := input.ID()
	var existing object.Stored
	create := true
	if id == "" {
		id = m.mintID()
	} else {
		existing, err = m.store.Get(ctx, classID, id)
		if err == nil {
			create = false
		} else if !errors.Is(err, coreerrors.NotFound) {
			return nil, errors.Trace(err)
		} else if !opts.AllowCustomIDs {
			return nil, errors.Annotatef(coreerrors.Conflict,
				"creating %s/%s with a custom id is not allowed", classID, id)
		}
	}

	// Ownership gate on the update path.
	if !create && opts.EnforceOwnership && !object.IsMeta(classID) {
		if owner := existing.OwnerID(); owner != "" && owner != opts.Principal {
			return nil, errors.Annotatef(coreerrors.Forbidden, "object %s/%s", classID, id)
		}
	}

	props, err := m.registry.Props(ctx, classID)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Merge: shallow merge of input over the persisted record;
	// unspecified keys are retained, managed attributes cannot be
	// forged.
	var merged object.Stored
	var fieldErrs []coreerrors.FieldError
	if create {
		merged = make(object.Stored, len(input))
	} else {
		merged = existing.Copy()
	}
	propByKey := make(map[string]*object.Prop, len(props))
	for _, prop := range props {
		propByKey[prop.Key] = prop
	}
	for key, value := range input {
		if object.IsManagedAttr(key) {
			continue
		}
		if prop, ok := propByKey[key]; ok && !create {
			if prop.ReadOnly && !looseEqual(existing[key], value) {
				fieldErrs = append(fieldErrs, coreerrors.FieldError{
					Field: key, Code: "readonly",
					Reason: key + " is read-only",
				})
				continue
			}
			if prop.CreateOnly && !looseEqual(existing[key], value) {
				fieldErrs = append(fieldErrs, coreerrors.FieldError{
					Field: key, Code: "create_only",
					Reason: key + " can only be set at creation",
				})
				continue
			}
		}
		merged[key] = value
	}

	// Defaults, create path only.
	if create {
		for _, prop := range props {
			if _, ok := merged[prop.Key]; ok {
				continue
			}
			if prop.DefaultValue != nil {
				merged[prop.Key] = object.CopyValue(prop.DefaultValue)
			}
		}
	}

	// Coercion and validation; errors collected per field.
	errs, err := m.validator.Validate(ctx, props, merged, validation.Options{Create: create})
	if err != nil {
		return nil, errors.Trace(err)
	}
	fieldErrs = append(fieldErrs, errs...)

	// Meta-objects get structural checks on top of prop validation.
	if object.IsMeta(classID) {
		metaErrs, err := m.checkMetaObject(ctx, classID, id, merged)
		if err != nil {
			return nil, errors.Trace(err)
		}
		fieldErrs = append(fieldErrs, metaErrs...)
	}
	if len(fieldErrs) > 0 {
		return nil, coreerrors.NewValidationError(fieldErrs)
	}

	// Uniqueness.
	if err := m.checkUnique(ctx, cls, id, merged); err != nil {
		return nil, errors.Trace(err)
	}

	// Stamp the managed attributes.
	now := m.now()
	merged[object.AttrID] = id
	merged[object.AttrClassID] = classID
	if create {
		if opts.Principal != "" {
			merged[object.AttrOwnerID] = opts.Principal
		} else {
			merged[object.AttrOwnerID] = nil
		}
		merged[object.AttrCreatedAt] = now
		merged[object.AttrVersion] = int64(1)
	} else {
		merged[object.AttrOwnerID] = existing[object.AttrOwnerID]
		merged[object.AttrCreatedAt] = existing[object.AttrCreatedAt]
		merged[object.AttrVersion] = existing.Version() + 1
	}
	merged[object.AttrUpdatedAt] = now

	if err := m.store.Put(ctx, classID, id, merged); err != nil {
		return nil, errors.Trace(err)
	}
	if classID == object.MetaClass || classID == object.MetaProp {
		m.registry.Invalidate()
	}
	m.emitter.EmitChange(classID, merged, existing, opts.Origin)
	return merged, nil
}

// checkMetaObject enforces the structural invariants of the reserved
// meta-classes that plain prop validation cannot express.
func (m *Model) checkMetaObject(ctx context.Context, classID, id string, merged object.Stored) ([]coreerrors.FieldError, error) {
	candidate := merged.Copy()
	candidate[object.AttrID] = id
	switch classID {
	case object.MetaClass:
		cls, err := object.ClassFromStored(candidate)
		if err != nil {
			return []coreerrors.FieldError{{Field: "id", Code: "invalid", Reason: err.Error()}}, nil
		}
		if cls.ExtendsID != "" {
			if err := m.checkExtendsAcyclic(ctx, cls.ID, cls.ExtendsID); err != nil {
				return nil, errors.Trace(err)
			}
		}
	case object.MetaProp:
		prop, err := object.PropFromStored(candidate)
		if err != nil {
			return []coreerrors.FieldError{{Field: "id", Code: "invalid", Reason: err.Error()}}, nil
		}
		if _, err := m.registry.Class(ctx, prop.ClassID); err != nil {
			if errors.Is(err, coreerrors.NotFound) {
				return []coreerrors.FieldError{{
					Field: "id", Code: "invalid",
					Reason: "owning class " + prop.ClassID + " does not exist",
				}}, nil
			}
			return nil, errors.Trace(err)
		}
	case object.MetaStorage:
		if _, err := object.StorageFromStored(candidate); err != nil {
			return []coreerrors.FieldError{{Field: "type", Code: "invalid", Reason: err.Error()}}, nil
		}
	}
	return nil, nil
}

// checkExtendsAcyclic refuses a class write whose extends chain would
// loop back through the class being written.
func (m *Model) checkExtendsAcyclic(ctx context.Context, classID, extendsID string) error {
	current := extendsID
	for hops := 0; current != ""; hops++ {
		if current == classID {
			return errors.Annotatef(coreerrors.CycleDetected, "class %q extends through itself", classID)
		}
		if hops > maxCascadeDepth*4 {
			return errors.Annotatef(coreerrors.CycleDetected, "extends chain of %q does not terminate", classID)
		}
		parent, err := m.registry.Class(ctx, current)
		if err != nil {
			if errors.Is(err, coreerrors.NotFound) {
				return errors.Annotatef(coreerrors.NotFound, "extends_id %q of class %q", current, classID)
			}
			return errors.Trace(err)
		}
		current = parent.ExtendsID
	}
	return nil
}

// checkUnique scans the class for another object carrying the same
// composite key values as the candidate.
func (m *Model) checkUnique(ctx context.Context, cls *object.Class, id string, candidate object.Stored) error {
	if len(cls.Unique) == 0 {
		return nil
	}
	objects, err := m.store.List(ctx, cls.ID)
	if err != nil {
		return errors.Trace(err)
	}
	for _, keys := range cls.Unique {
		for _, other := range objects {
			if other.ID() == id {
				continue
			}
			collides := true
			for _, key := range keys {
				if !looseEqual(candidate[key], other[key]) {
					collides = false
					break
				}
			}
			if collides {
				return errors.Annotatef(coreerrors.Conflict,
					"unique constraint %v violated by object %q", keys, other.ID())
			}
		}
	}
	return nil
}

// SetField sets a single field through the full write pipeline.
func (m *Model) SetField(ctx context.Context, opts Options, classID, id, key string, value interface{}) (object.Stored, error) {
	obj, err := m.SetObject(ctx, opts, classID, object.Stored{
		object.AttrID: id,
		key:           value,
	})
	return obj, errors.Trace(err)
}
