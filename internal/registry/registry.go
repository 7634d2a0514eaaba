// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package registry resolves class and property definitions over the
// @class/@prop records held in storage. Resolution is pure with
// respect to the current class graph; results are memoized behind a
// read-mostly lock and invalidated whenever the engine commits a
// meta-object.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
)

// Registry resolves classes, ancestry and property sets.
type Registry struct {
	store storage.Provider

	mu       sync.RWMutex
	loaded   bool
	props    map[string][]*object.Prop // owning class id -> own props
	resolved map[string][]*object.Prop // class id -> merged props
}

// New returns a registry reading through the given provider.
func New(store storage.Provider) *Registry {
	return &Registry{
		store:    store,
		props:    make(map[string][]*object.Prop),
		resolved: make(map[string][]*object.Prop),
	}
}

// Invalidate flushes the memoized state. The engine calls it after
// any @class or @prop commit; the cache rebuilds lazily on the next
// resolution.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props = make(map[string][]*object.Prop)
	r.resolved = make(map[string][]*object.Prop)
	r.loaded = false
}

// Class returns the class definition, or NotFound.
func (r *Registry) Class(ctx context.Context, id string) (*object.Class, error) {
	obj, err := r.store.Get(ctx, object.MetaClass, id)
	if err != nil {
		if errors.Is(err, coreerrors.NotFound) {
			return nil, errors.Annotatef(coreerrors.NotFound, "class %q", id)
		}
		return nil, errors.Trace(err)
	}
	cls, err := object.ClassFromStored(obj)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return cls, nil
}

// Classes returns every class definition.
func (r *Registry) Classes(ctx context.Context) ([]*object.Class, error) {
	objects, err := r.store.List(ctx, object.MetaClass)
	if err != nil {
		return nil, errors.Trace(err)
	}
	classes := make([]*object.Class, 0, len(objects))
	for _, obj := range objects {
		cls, err := object.ClassFromStored(obj)
		if err != nil {
			logger.Warningf("skipping malformed class %q: %v", obj.ID(), err)
			continue
		}
		classes = append(classes, cls)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes, nil
}

// Ancestors returns the inheritance chain of the class ordered
// root→leaf, the class itself last. A loop in extends_id yields
// CycleDetected.
func (r *Registry) Ancestors(ctx context.Context, id string) ([]*object.Class, error) {
	var chain []*object.Class
	seen := set.NewStrings()
	current := id
	for current != "" {
		if seen.Contains(current) {
			return nil, errors.Annotatef(coreerrors.CycleDetected, "extends_id loop through %q", current)
		}
		seen.Add(current)
		cls, err := r.Class(ctx, current)
		if err != nil {
			return nil, errors.Trace(err)
		}
		chain = append(chain, cls)
		current = cls.ExtendsID
	}
	// The walk collected leaf→root; callers want root→leaf.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Subclasses returns the ids of every class that descends from id,
// directly or transitively. The class itself is not included.
func (r *Registry) Subclasses(ctx context.Context, id string) ([]string, error) {
	classes, err := r.Classes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	children := make(map[string][]string)
	for _, cls := range classes {
		if cls.ExtendsID != "" {
			children[cls.ExtendsID] = append(children[cls.ExtendsID], cls.ID)
		}
	}
	var out []string
	frontier := []string{id}
	seen := set.NewStrings(id)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[next] {
			if seen.Contains(child) {
				continue
			}
			seen.Add(child)
			out = append(out, child)
			frontier = append(frontier, child)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ownProps returns the props directly defined on classID, ordered by
// display_order then key.
func (r *Registry) ownProps(ctx context.Context, classID string) ([]*object.Prop, error) {
	r.mu.RLock()
	if r.loaded {
		props := r.props[classID]
		r.mu.RUnlock()
		return props, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if err := r.loadPropsLocked(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r.props[classID], nil
}

func (r *Registry) loadPropsLocked(ctx context.Context) error {
	objects, err := r.store.List(ctx, object.MetaProp)
	if err != nil {
		return errors.Trace(err)
	}
	index := make(map[string][]*object.Prop)
	for _, obj := range objects {
		prop, err := object.PropFromStored(obj)
		if err != nil {
			logger.Warningf("skipping malformed prop %q: %v", obj.ID(), err)
			continue
		}
		index[prop.ClassID] = append(index[prop.ClassID], prop)
	}
	for _, props := range index {
		sort.Slice(props, func(i, j int) bool {
			if props[i].DisplayOrder != props[j].DisplayOrder {
				return props[i].DisplayOrder < props[j].DisplayOrder
			}
			return props[i].Key < props[j].Key
		})
	}
	r.props = index
	r.loaded = true
	return nil
}

// Props returns the merged property set of the class: ancestor props
// first, self props last, a child prop overriding a parent prop with
// the same key in place. Deterministic for a given class graph.
func (r *Registry) Props(ctx context.Context, classID string) ([]*object.Prop, error) {
	r.mu.RLock()
	if merged, ok := r.resolved[classID]; ok {
		r.mu.RUnlock()
		return merged, nil
	}
	r.mu.RUnlock()

	chain, err := r.Ancestors(ctx, classID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var merged []*object.Prop
	index := make(map[string]int)
	for _, cls := range chain {
		own, err := r.ownProps(ctx, cls.ID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		for _, prop := range own {
			if at, ok := index[prop.Key]; ok {
				merged[at] = prop
				continue
			}
			index[prop.Key] = len(merged)
			merged = append(merged, prop)
		}
	}

	r.mu.Lock()
	// A concurrent Invalidate may have raced the resolution; only
	// memoize onto the generation the props were read from.
	if r.loaded {
		r.resolved[classID] = merged
	}
	r.mu.Unlock()
	return merged, nil
}

// Prop resolves a single property by key, walking the inheritance
// chain leaf-first. NotFound when no class in the chain defines it.
func (r *Registry) Prop(ctx context.Context, classID, key string) (*object.Prop, error) {
	props, err := r.Props(ctx, classID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, prop := range props {
		if prop.Key == key {
			return prop, nil
		}
	}
	return nil, errors.Annotatef(coreerrors.NotFound, "prop %q on class %q", key, classID)
}

// AllProps returns every prop definition in the repository, keyed by
// owning class.
func (r *Registry) AllProps(ctx context.Context) (map[string][]*object.Prop, error) {
	r.mu.RLock()
	if r.loaded {
		out := r.props
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		if err := r.loadPropsLocked(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r.props, nil
}
