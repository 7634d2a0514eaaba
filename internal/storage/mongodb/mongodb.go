// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package mongodb holds the document-DB storage provider. Each class
// maps to one collection; the object id is the document _id, so the
// backend's per-document consistency gives the per-id linearization
// the engine requires.
package mongodb

import (
	"context"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

const dialTimeout = 10 * time.Second

// Config holds the provider connection settings.
type Config struct {
	// URL is a mongodb connection string, e.g. mongodb://host:27017.
	URL string
	// Database is the database holding all class collections.
	Database string
}

// Provider is the MongoDB storage provider.
type Provider struct {
	session  *mgo.Session
	database string
}

// New dials the backend and returns the provider.
func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("mongo URL not specified")
	}
	if cfg.Database == "" {
		cfg.Database = "elementstore"
	}
	session, err := mgo.DialWithTimeout(cfg.URL, dialTimeout)
	if err != nil {
		return nil, errors.WithType(errors.Annotate(err, "dialing mongo"), coreerrors.Unavailable)
	}
	session.SetMode(mgo.Strong, true)
	return &Provider{session: session, database: cfg.Database}, nil
}

// collectionName maps a class id to a legal collection name. Dots are
// namespace separators in mongo and dollars are reserved, so both are
// percent-escaped; the mapping is deterministic.
func collectionName(classID string) string {
	return strings.NewReplacer(".", "%2E", "$", "%24").Replace(classID)
}

// collection returns the class collection on a copied session. The
// closer must be called when done, mirroring how juju state hands out
// collections.
func (p *Provider) collection(classID string) (*mgo.Collection, func()) {
	session := p.session.Copy()
	return session.DB(p.database).C(collectionName(classID)), session.Close
}

func normalizeError(err error, format string, args ...interface{}) error {
	switch {
	case err == mgo.ErrNotFound:
		return errors.Annotatef(coreerrors.NotFound, format, args...)
	case mgo.IsDup(err):
		return errors.WithType(errors.Annotatef(err, format, args...), coreerrors.Conflict)
	case err == mgo.ErrCursor || strings.Contains(err.Error(), "i/o timeout"):
		return errors.WithType(errors.Annotatef(err, format, args...), coreerrors.Unavailable)
	}
	return errors.WithType(errors.Annotatef(err, format, args...), coreerrors.IOError)
}

// Get implements storage.Provider.
func (p *Provider) Get(ctx context.Context, classID, id string) (object.Stored, error) {
	col, closer := p.collection(classID)
	defer closer()

	var doc bson.M
	if err := col.FindId(id).One(&doc); err != nil {
		return nil, normalizeError(err, "object %s/%s", classID, id)
	}
	return docToObject(doc), nil
}

// List implements storage.Provider.
func (p *Provider) List(ctx context.Context, classID string) ([]object.Stored, error) {
	col, closer := p.collection(classID)
	defer closer()

	var docs []bson.M
	if err := col.Find(nil).All(&docs); err != nil {
		return nil, normalizeError(err, "listing class %s", classID)
	}
	objects := make([]object.Stored, 0, len(docs))
	for _, doc := range docs {
		objects = append(objects, docToObject(doc))
	}
	return objects, nil
}

// Put implements storage.Provider.
func (p *Provider) Put(ctx context.Context, classID, id string, obj object.Stored) error {
	col, closer := p.collection(classID)
	defer closer()

	doc := make(bson.M, len(obj)+1)
	for k, v := range obj {
		doc[k] = v
	}
	doc["_id"] = id
	if _, err := col.UpsertId(id, doc); err != nil {
		return normalizeError(err, "storing object %s/%s", classID, id)
	}
	return nil
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, classID, id string) (bool, error) {
	col, closer := p.collection(classID)
	defer closer()

	err := col.RemoveId(id)
	if err == mgo.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, normalizeError(err, "deleting object %s/%s", classID, id)
	}
	return true, nil
}

// Exists implements storage.Provider.
func (p *Provider) Exists(ctx context.Context, classID string) (bool, error) {
	session := p.session.Copy()
	defer session.Close()

	names, err := session.DB(p.database).CollectionNames()
	if err != nil {
		return false, normalizeError(err, "listing collections")
	}
	want := collectionName(classID)
	for _, name := range names {
		if name == want {
			return true, nil
		}
	}
	return false, nil
}

// Drop implements storage.Provider.
func (p *Provider) Drop(ctx context.Context, classID string) (bool, error) {
	exists, err := p.Exists(ctx, classID)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !exists {
		return false, nil
	}
	col, closer := p.collection(classID)
	defer closer()
	if err := col.DropCollection(); err != nil {
		return false, normalizeError(err, "dropping class %s", classID)
	}
	return true, nil
}

// Init implements storage.Provider.
func (p *Provider) Init(ctx context.Context, classID string) error {
	exists, err := p.Exists(ctx, classID)
	if err != nil {
		return errors.Trace(err)
	}
	if exists {
		return nil
	}
	col, closer := p.collection(classID)
	defer closer()
	err = col.Create(&mgo.CollectionInfo{})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return normalizeError(err, "creating class %s", classID)
	}
	return nil
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	p.session.Close()
	return nil
}

func docToObject(doc bson.M) object.Stored {
	obj := make(object.Stored, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		obj[k] = normalizeBSON(v)
	}
	return obj
}

// normalizeBSON converts bson decoding artifacts into the shapes the
// rest of the engine expects from encoding/json.
func normalizeBSON(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeBSON(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeBSON(e)
		}
		return out
	}
	return v
}
