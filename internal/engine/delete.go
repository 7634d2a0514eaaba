// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

// DeleteObject removes an object, reporting whether it existed, then
// applies the on_orphan policy of every relation prop that pointed at
// it.
func (m *Model) DeleteObject(ctx context.Context, opts Options, classID, id string) (bool, error) {
	return m.deleteObject(ctx, opts, classID, id, 0)
}

func (m *Model) deleteObject(ctx context.Context, opts Options, classID, id string, depth int) (bool, error) {
	if classID == object.MetaClass {
		// A class record only goes away through the class checks, so
		// deleting the definition can never orphan its instances.
		if err := m.DeleteClass(ctx, opts, id); err != nil {
			if errors.Is(err, coreerrors.NotFound) {
				return false, nil
			}
			return false, errors.Trace(err)
		}
		return true, nil
	}
	lock := m.classLock(classID)
	lock.Lock()
	previous, err := m.getObjectLocked(ctx, opts, classID, id)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, coreerrors.NotFound) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	existed, err := m.store.Delete(ctx, classID, id)
	lock.Unlock()
	if err != nil {
		return false, errors.Trace(err)
	}
	if !existed {
		return false, nil
	}
	if object.IsMeta(classID) {
		m.registry.Invalidate()
	}

	if err := m.cascadeOrphans(ctx, opts, classID, id, depth); err != nil {
		// Partial cascade is permitted; the remaining orphans stay
		// visible for the operator to rerun.
		logger.Errorf("orphan cascade after deleting %s/%s aborted: %v", classID, id, err)
	}

	m.emitter.EmitDelete(classID, id, previous, opts.Origin)
	return true, nil
}

// cascadeOrphans walks every relation prop in the repository that
// could point at the deleted object and applies its policy.
func (m *Model) cascadeOrphans(ctx context.Context, opts Options, classID, id string, depth int) error {
	// The deleted object satisfies a relation targeting its own class
	// or any ancestor (unless the prop is strict).
	targets := set.NewStrings(classID)
	strictTargets := set.NewStrings(classID)
	chain, err := m.registry.Ancestors(ctx, classID)
	if err == nil {
		for _, cls := range chain {
			targets.Add(cls.ID)
		}
	}

	allProps, err := m.registry.AllProps(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, props := range allProps {
		for _, prop := range props {
			if prop.DataType != object.Relation || prop.OnOrphan == object.OrphanKeep {
				continue
			}
			match := false
			for _, target := range prop.ObjectClassIDs {
				if prop.ObjectClassStrict && strictTargets.Contains(target) {
					match = true
					break
				}
				if !prop.ObjectClassStrict && targets.Contains(target) {
					match = true
					break
				}
			}
			if !match {
				continue
			}
			if err := m.applyOrphanPolicy(ctx, opts, prop, id, depth); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// applyOrphanPolicy visits the instances of the referring class and
// its subclasses.
func (m *Model) applyOrphanPolicy(ctx context.Context, opts Options, prop *object.Prop, deletedID string, depth int) error {
	referrers := []string{prop.ClassID}
	if subs, err := m.registry.Subclasses(ctx, prop.ClassID); err == nil {
		referrers = append(referrers, subs...)
	}
	for _, refClass := range referrers {
		objects, err := m.store.List(ctx, refClass)
		if err != nil {
			return errors.Trace(err)
		}
		for _, obj := range objects {
			ids := object.RelationIDs(obj[prop.Key])
			refers := false
			for _, refID := range ids {
				if refID == deletedID {
					refers = true
					break
				}
			}
			if !refers {
				continue
			}
			switch prop.OnOrphan {
			case object.OrphanNullify:
				if err := m.nullifyReference(ctx, opts, refClass, obj, prop, deletedID); err != nil {
					return errors.Trace(err)
				}
			case object.OrphanDelete:
				if depth+1 > maxCascadeDepth {
					return errors.WithType(errors.Errorf(
						"cascade depth %d exceeded deleting %s/%s via %s",
						maxCascadeDepth, refClass, obj.ID(), prop.ID), coreerrors.IOError)
				}
				// Cascades ignore ownership: the policy belongs to
				// the schema, not the caller.
				cascadeOpts := opts
				cascadeOpts.EnforceOwnership = false
				if _, err := m.deleteObject(ctx, cascadeOpts, refClass, obj.ID(), depth+1); err != nil {
					return errors.Trace(err)
				}
			}
		}
	}
	return nil
}

// nullifyReference clears the dangling id on a referrer, bumping its
// version and broadcasting the change.
func (m *Model) nullifyReference(ctx context.Context, opts Options, classID string, obj object.Stored, prop *object.Prop, deletedID string) error {
	lock := m.classLock(classID)
	lock.Lock()
	defer lock.Unlock()

	previous := obj.Copy()
	if prop.IsArray {
		ids := object.RelationIDs(obj[prop.Key])
		remaining := make([]interface{}, 0, len(ids))
		for _, refID := range ids {
			if refID != deletedID {
				remaining = append(remaining, refID)
			}
		}
		obj[prop.Key] = remaining
	} else {
		obj[prop.Key] = nil
	}
	obj[object.AttrVersion] = obj.Version() + 1
	obj[object.AttrUpdatedAt] = m.now()
	if err := m.store.Put(ctx, classID, obj.ID(), obj); err != nil {
		return errors.Trace(err)
	}
	m.emitter.EmitChange(classID, obj, previous, opts.Origin)
	return nil
}

// DeleteClass removes a class, its prop children and its container.
// It refuses while instances remain or another class extends it.
func (m *Model) DeleteClass(ctx context.Context, opts Options, id string) error {
	if object.IsMeta(id) {
		return errors.Annotatef(coreerrors.Forbidden, "meta-class %q cannot be deleted", id)
	}
	if _, err := m.registry.Class(ctx, id); err != nil {
		return errors.Trace(err)
	}

	instances, err := m.store.List(ctx, id)
	if err != nil {
		return errors.Trace(err)
	}
	if len(instances) > 0 {
		return errors.Annotatef(coreerrors.Conflict, "class %q has %d instances", id, len(instances))
	}
	classes, err := m.registry.Classes(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, cls := range classes {
		if cls.ExtendsID == id {
			return errors.Annotatef(coreerrors.Conflict, "class %q is extended by %q", id, cls.ID)
		}
	}

	// Remove the prop children first, then the class record itself.
	props, err := m.store.List(ctx, object.MetaProp)
	if err != nil {
		return errors.Trace(err)
	}
	for _, prop := range props {
		if strings.HasPrefix(prop.ID(), id+".") {
			if _, err := m.store.Delete(ctx, object.MetaProp, prop.ID()); err != nil {
				return errors.Trace(err)
			}
			m.emitter.EmitDelete(object.MetaProp, prop.ID(), prop, opts.Origin)
		}
	}
	record, err := m.store.Get(ctx, object.MetaClass, id)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := m.store.Delete(ctx, object.MetaClass, id); err != nil {
		return errors.Trace(err)
	}
	if _, err := m.store.Drop(ctx, id); err != nil {
		return errors.Trace(err)
	}
	m.registry.Invalidate()
	m.emitter.EmitDelete(object.MetaClass, id, record, opts.Origin)
	return nil
}

// Reset drops every non-system class from storage and re-applies
// genesis. It returns the cleared class ids. Development aid.
func (m *Model) Reset(ctx context.Context) ([]string, error) {
	classes, err := m.registry.Classes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var cleared []string
	for _, cls := range classes {
		if cls.IsSystem || object.IsMeta(cls.ID) {
			continue
		}
		if _, err := m.store.Drop(ctx, cls.ID); err != nil {
			return cleared, errors.Trace(err)
		}
		if _, err := m.store.Delete(ctx, object.MetaClass, cls.ID); err != nil {
			return cleared, errors.Trace(err)
		}
		props, err := m.store.List(ctx, object.MetaProp)
		if err != nil {
			return cleared, errors.Trace(err)
		}
		for _, prop := range props {
			if strings.HasPrefix(prop.ID(), cls.ID+".") {
				if _, err := m.store.Delete(ctx, object.MetaProp, prop.ID()); err != nil {
					return cleared, errors.Trace(err)
				}
			}
		}
		cleared = append(cleared, cls.ID)
	}
	m.registry.Invalidate()
	if m.seeder != nil {
		if err := m.seeder.Seed(ctx); err != nil {
			return cleared, errors.Trace(err)
		}
		m.registry.Invalidate()
	}
	return cleared, nil
}
