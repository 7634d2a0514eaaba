// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package object

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
)

// StorageType enumerates the supported storage bindings. "local" is
// an alias of the filesystem JSON provider.
type StorageType string

const (
	StorageLocal   StorageType = "local"
	StorageJSON    StorageType = "json"
	StorageCouchDB StorageType = "couchdb"
	StorageMongo   StorageType = "mongo"
	StorageREST    StorageType = "rest"
)

// StorageBinding is the typed façade over a @storage record.
type StorageBinding struct {
	ID       string
	Type     StorageType
	URL      string
	Database string
	Username string
	Password string

	raw Stored
}

var storageFields = schema.Fields{
	"id":       schema.NonEmptyString("id"),
	"type":     schema.NonEmptyString("type"),
	"url":      schema.String(),
	"database": schema.String(),
	"username": schema.String(),
	"password": schema.String(),
}

var storageDefaults = schema.Defaults{
	"url":      "",
	"database": "",
	"username": "",
	"password": "",
}

var storageChecker = schema.FieldMap(storageFields, storageDefaults)

// StorageFromStored decodes a @storage record.
func StorageFromStored(obj Stored) (*StorageBinding, error) {
	coerced, err := storageChecker.Coerce(map[string]interface{}(obj), nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid storage definition")
	}
	m := coerced.(map[string]interface{})
	b := &StorageBinding{
		ID:   m["id"].(string),
		Type: StorageType(m["type"].(string)),
		raw:  obj.Copy(),
	}
	switch b.Type {
	case StorageLocal, StorageJSON, StorageCouchDB, StorageMongo, StorageREST:
	default:
		return nil, errors.Errorf("storage %q: unknown type %q", b.ID, b.Type)
	}
	if v, ok := m["url"].(string); ok {
		b.URL = v
	}
	if v, ok := m["database"].(string); ok {
		b.Database = v
	}
	if v, ok := m["username"].(string); ok {
		b.Username = v
	}
	if v, ok := m["password"].(string); ok {
		b.Password = v
	}
	return b, nil
}

// Stored returns the raw record backing the façade.
func (b *StorageBinding) Stored() Stored {
	return b.raw
}
