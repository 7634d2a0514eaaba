// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jsonfile holds the filesystem storage provider: one JSON
// file per class under a data root, each holding an id-keyed object
// map. File replacement is atomic (write to temp, rename); writers
// hold a per-class lock in process and a machine-wide mutex across
// processes. Readers take no lock: the rename guarantees any read
// sees a complete snapshot, at worst one committed write stale.
package jsonfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
	"github.com/juju/utils/v4"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

const fileSuffix = ".json"

// Provider stores each class as <root>/<class_id>.json.
type Provider struct {
	root      string
	clock     clock.Clock
	mutexName string
	writers   *kmutex.Kmutex
}

// New returns a provider rooted at dir, creating it if needed.
func New(dir string, clk clock.Clock) (*Provider, error) {
	if dir == "" {
		return nil, errors.New("data root not specified")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Annotate(err, "creating data root")
	}
	sum := sha256.Sum256([]byte(dir))
	return &Provider{
		root:      dir,
		clock:     clk,
		mutexName: "elementstore-" + hex.EncodeToString(sum[:8]),
		writers:   kmutex.New(),
	}, nil
}

// path maps a class id to its file. Ids are percent-escaped so that
// ids starting with @ and ids containing separators stay URL-safe on
// disk.
func (p *Provider) path(classID string) string {
	return filepath.Join(p.root, url.PathEscape(classID)+fileSuffix)
}

func (p *Provider) load(classID string) (map[string]object.Stored, error) {
	data, err := os.ReadFile(p.path(classID))
	if os.IsNotExist(err) {
		return nil, errors.Annotatef(coreerrors.NotFound, "class container %q", classID)
	} else if err != nil {
		return nil, errors.WithType(errors.Annotate(err, "reading class file"), coreerrors.IOError)
	}
	var objects map[string]object.Stored
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "corrupt class file for %q", classID), coreerrors.IOError)
	}
	if objects == nil {
		objects = make(map[string]object.Stored)
	}
	return objects, nil
}

func (p *Provider) store(classID string, objects map[string]object.Stored) error {
	data, err := json.Marshal(objects)
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(p.path(classID), data, 0644); err != nil {
		return errors.WithType(errors.Annotatef(err, "writing class file for %q", classID), coreerrors.IOError)
	}
	return nil
}

// acquire takes the per-class in-process lock plus the machine mutex
// guarding the data root against other processes.
func (p *Provider) acquire(ctx context.Context, classID string) (func(), error) {
	p.writers.Lock(classID)
	spec := mutex.Spec{
		Name:    p.mutexName,
		Clock:   p.clock,
		Delay:   10 * time.Millisecond,
		Timeout: deadlineTimeout(ctx),
		Cancel:  ctx.Done(),
	}
	releaser, err := mutex.Acquire(spec)
	if err != nil {
		p.writers.Unlock(classID)
		return nil, errors.WithType(errors.Annotate(err, "acquiring data root mutex"), coreerrors.Unavailable)
	}
	return func() {
		releaser.Release()
		p.writers.Unlock(classID)
	}, nil
}

func deadlineTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 0
}

// Get implements storage.Provider.
func (p *Provider) Get(ctx context.Context, classID, id string) (object.Stored, error) {
	objects, err := p.load(classID)
	if err != nil {
		if errors.Is(err, coreerrors.NotFound) {
			return nil, errors.Annotatef(coreerrors.NotFound, "object %s/%s", classID, id)
		}
		return nil, errors.Trace(err)
	}
	obj, ok := objects[id]
	if !ok {
		return nil, errors.Annotatef(coreerrors.NotFound, "object %s/%s", classID, id)
	}
	return obj, nil
}

// List implements storage.Provider.
func (p *Provider) List(ctx context.Context, classID string) ([]object.Stored, error) {
	objects, err := p.load(classID)
	if errors.Is(err, coreerrors.NotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]object.Stored, 0, len(objects))
	for _, obj := range objects {
		out = append(out, obj)
	}
	return out, nil
}

// Put implements storage.Provider.
func (p *Provider) Put(ctx context.Context, classID, id string, obj object.Stored) error {
	release, err := p.acquire(ctx, classID)
	if err != nil {
		return errors.Trace(err)
	}
	defer release()

	objects, err := p.load(classID)
	if errors.Is(err, coreerrors.NotFound) {
		objects = make(map[string]object.Stored)
	} else if err != nil {
		return errors.Trace(err)
	}
	objects[id] = obj
	return errors.Trace(p.store(classID, objects))
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, classID, id string) (bool, error) {
	release, err := p.acquire(ctx, classID)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer release()

	objects, err := p.load(classID)
	if errors.Is(err, coreerrors.NotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	if _, ok := objects[id]; !ok {
		return false, nil
	}
	delete(objects, id)
	return true, errors.Trace(p.store(classID, objects))
}

// Exists implements storage.Provider.
func (p *Provider) Exists(ctx context.Context, classID string) (bool, error) {
	_, err := os.Stat(p.path(classID))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	return true, nil
}

// Drop implements storage.Provider.
func (p *Provider) Drop(ctx context.Context, classID string) (bool, error) {
	release, err := p.acquire(ctx, classID)
	if err != nil {
		return false, errors.Trace(err)
	}
	defer release()

	err = os.Remove(p.path(classID))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	return true, nil
}

// Init implements storage.Provider.
func (p *Provider) Init(ctx context.Context, classID string) error {
	release, err := p.acquire(ctx, classID)
	if err != nil {
		return errors.Trace(err)
	}
	defer release()

	if _, err := os.Stat(p.path(classID)); err == nil {
		return nil
	}
	return errors.Trace(p.store(classID, make(map[string]object.Stored)))
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	return nil
}
