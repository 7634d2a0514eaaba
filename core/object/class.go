// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package object

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Class is the typed façade over a @class record.
type Class struct {
	ID          string
	Name        string
	Description string
	ExtendsID   string
	StorageID   string
	IsSystem    bool
	Unique      [][]string
	Version     int64

	raw Stored
}

var classFields = schema.Fields{
	"id":          schema.NonEmptyString("id"),
	"name":        schema.String(),
	"description": schema.String(),
	"extends_id":  schema.OneOf(schema.Const(nil), schema.String()),
	"storage_id":  schema.OneOf(schema.Const(nil), schema.String()),
	"is_system":   schema.Bool(),
	"unique":      schema.List(schema.Any()),
	"_version":    schema.ForceInt(),
}

var classDefaults = schema.Defaults{
	"name":        "",
	"description": "",
	"extends_id":  schema.Omit,
	"storage_id":  schema.Omit,
	"is_system":   false,
	"unique":      schema.Omit,
	"_version":    schema.Omit,
}

var classChecker = schema.FieldMap(classFields, classDefaults)

// ClassFromStored decodes a @class record. Unknown attributes are
// retained on the raw map but not interpreted.
func ClassFromStored(obj Stored) (*Class, error) {
	coerced, err := classChecker.Coerce(map[string]interface{}(obj), nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid class definition")
	}
	m := coerced.(map[string]interface{})
	c := &Class{
		ID:  m["id"].(string),
		raw: obj.Copy(),
	}
	if v, ok := m["name"].(string); ok {
		c.Name = v
	}
	if v, ok := m["description"].(string); ok {
		c.Description = v
	}
	if v, ok := m["extends_id"].(string); ok {
		c.ExtendsID = v
	}
	if v, ok := m["storage_id"].(string); ok {
		c.StorageID = v
	}
	if v, ok := m["is_system"].(bool); ok {
		c.IsSystem = v
	}
	if v, ok := m["_version"]; ok {
		c.Version = AsInt(v)
	}
	if v, ok := m["unique"]; ok {
		c.Unique = uniqueConstraints(v)
	}
	return c, nil
}

// uniqueConstraints normalizes the unique constraint descriptors.
// Accepted element shapes: a bare key, a list of keys, or a map with
// a "keys" list.
func uniqueConstraints(v interface{}) [][]string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out [][]string
	for _, e := range list {
		switch t := e.(type) {
		case string:
			if t != "" {
				out = append(out, []string{t})
			}
		case []interface{}:
			if keys := StringList(t); len(keys) > 0 {
				out = append(out, keys)
			}
		case map[string]interface{}:
			if keys := StringList(t["keys"]); len(keys) > 0 {
				out = append(out, keys)
			}
		}
	}
	return out
}

// Stored returns the raw record backing the façade.
func (c *Class) Stored() Stored {
	return c.raw
}
