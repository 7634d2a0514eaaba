// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package memory holds an in-process storage provider. It backs unit
// tests and ephemeral deployments; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

// Provider is a map-backed storage provider, safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	classes map[string]map[string]object.Stored
}

// New returns an empty in-memory provider.
func New() *Provider {
	return &Provider{classes: make(map[string]map[string]object.Stored)}
}

// Get implements storage.Provider.
func (p *Provider) Get(_ context.Context, classID, id string) (object.Stored, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.classes[classID][id]
	if !ok {
		return nil, errors.Annotatef(coreerrors.NotFound, "object %s/%s", classID, id)
	}
	return obj.Copy(), nil
}

// List implements storage.Provider.
func (p *Provider) List(_ context.Context, classID string) ([]object.Stored, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	objects := make([]object.Stored, 0, len(p.classes[classID]))
	for _, obj := range p.classes[classID] {
		objects = append(objects, obj.Copy())
	}
	return objects, nil
}

// Put implements storage.Provider.
func (p *Provider) Put(_ context.Context, classID, id string, obj object.Stored) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	class, ok := p.classes[classID]
	if !ok {
		class = make(map[string]object.Stored)
		p.classes[classID] = class
	}
	class[id] = obj.Copy()
	return nil
}

// Delete implements storage.Provider.
func (p *Provider) Delete(_ context.Context, classID, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	class, ok := p.classes[classID]
	if !ok {
		return false, nil
	}
	if _, ok := class[id]; !ok {
		return false, nil
	}
	delete(class, id)
	return true, nil
}

// Exists implements storage.Provider.
func (p *Provider) Exists(_ context.Context, classID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.classes[classID]
	return ok, nil
}

// Drop implements storage.Provider.
func (p *Provider) Drop(_ context.Context, classID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.classes[classID]; !ok {
		return false, nil
	}
	delete(p.classes, classID)
	return true, nil
}

// Init implements storage.Provider.
func (p *Provider) Init(_ context.Context, classID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.classes[classID]; !ok {
		p.classes[classID] = make(map[string]object.Stored)
	}
	return nil
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	return nil
}
