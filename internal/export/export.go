// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package export snapshots the schema and all non-system data into
// content-addressed bundle files. Identical content hashes to the same
// bundle id, so repeated exports of an unchanged store deduplicate.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
)

var logger = loggo.GetLogger("elementstore.export")

// BundleVersion is the bundle format version stamped into every export.
const BundleVersion = 1

const (
	filePrefix = "export_"
	fileSuffix = ".json"
	hashLen    = 12
)

// Bundle is one full snapshot: every class definition plus the
// instances of every non-system class.
type Bundle struct {
	ID         string                     `json:"id"`
	ExportedAt string                     `json:"exported_at"`
	Version    int                        `json:"version"`
	Classes    []object.Stored            `json:"classes"`
	Data       map[string][]object.Stored `json:"data"`
}

// Metadata describes a stored bundle without its payload.
type Metadata struct {
	ID         string `json:"id"`
	ExportedAt string `json:"exported_at"`
	Classes    int    `json:"classes"`
	Objects    int    `json:"objects"`
	Size       int64  `json:"size"`
}

// Service reads snapshots out of a store and keeps the bundle files
// under <root>/exports.
type Service struct {
	store    storage.Provider
	registry *registry.Registry
	clock    clock.Clock
	dir      string
}

// New returns an export service writing bundles under root/exports.
func New(store storage.Provider, reg *registry.Registry, clk clock.Clock, root string) *Service {
	return &Service{
		store:    store,
		registry: reg,
		clock:    clk,
		dir:      filepath.Join(root, "exports"),
	}
}

// Create snapshots the store and writes the bundle, returning its
// metadata. An existing bundle with the same content is reused.
func (s *Service) Create(ctx context.Context) (*Metadata, error) {
	bundle, err := s.snapshot(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	id, err := bundleID(bundle)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bundle.ID = id

	payload, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		logger.Debugf("export %s already present, reusing", id)
	} else if err := utils.AtomicWriteFile(path, payload, 0o644); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "writing bundle %s", id), coreerrors.IOError)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	meta := metadataOf(bundle)
	meta.Size = info.Size()
	return meta, nil
}

// Get returns a stored bundle by id.
func (s *Service) Get(id string) (*Bundle, error) {
	if !validID(id) {
		return nil, errors.WithType(errors.Errorf("export %q not found", id), coreerrors.NotFound)
	}
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return nil, errors.WithType(errors.Errorf("export %q not found", id), coreerrors.NotFound)
	} else if err != nil {
		return nil, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "parsing export %s", id), coreerrors.IOError)
	}
	return &bundle, nil
}

// Delete removes a bundle, reporting whether it existed.
func (s *Service) Delete(id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	return true, nil
}

// List returns metadata for every stored bundle, newest first.
func (s *Service) List() ([]*Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	var out []*Metadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		bundle, err := s.Get(id)
		if err != nil {
			logger.Warningf("skipping unreadable export %s: %v", name, err)
			continue
		}
		meta := metadataOf(bundle)
		if info, err := entry.Info(); err == nil {
			meta.Size = info.Size()
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExportedAt != out[j].ExportedAt {
			return out[i].ExportedAt > out[j].ExportedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) path(id string) string {
	return filepath.Join(s.dir, filePrefix+id+fileSuffix)
}

// snapshot collects every class definition and the instances of every
// non-system class, in a deterministic order so the content hash is
// stable.
func (s *Service) snapshot(ctx context.Context) (*Bundle, error) {
	classes, err := s.registry.Classes(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	bundle := &Bundle{
		ExportedAt: s.clock.Now().UTC().Format(time.RFC3339Nano),
		Version:    BundleVersion,
		Data:       map[string][]object.Stored{},
	}
	for _, class := range classes {
		bundle.Classes = append(bundle.Classes, class.Stored())
		if class.IsSystem || object.IsMeta(class.ID) {
			continue
		}
		objects, err := s.store.List(ctx, class.ID)
		if errors.Is(err, coreerrors.NotFound) {
			continue
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		sort.Slice(objects, func(i, j int) bool { return objects[i].ID() < objects[j].ID() })
		bundle.Data[class.ID] = objects
	}
	return bundle, nil
}

// bundleID is the short content hash over the bundle with the
// non-deterministic fields blanked.
func bundleID(bundle *Bundle) (string, error) {
	hashed := *bundle
	hashed.ID = ""
	hashed.ExportedAt = ""
	payload, err := json.Marshal(&hashed)
	if err != nil {
		return "", errors.Trace(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hashLen], nil
}

func metadataOf(bundle *Bundle) *Metadata {
	meta := &Metadata{
		ID:         bundle.ID,
		ExportedAt: bundle.ExportedAt,
		Classes:    len(bundle.Classes),
	}
	for _, objects := range bundle.Data {
		meta.Objects += len(objects)
	}
	return meta
}

// validID keeps bundle lookups inside the exports directory.
func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		ok := r >= '0' && r <= '9' || r >= 'a' && r <= 'f'
		if !ok {
			return false
		}
	}
	return true
}
