// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package object holds the data model of the element store: the raw
// stored object representation and the typed façades over the three
// reserved meta-classes.
//
// There is no inheritance hierarchy of Go types mirroring the class
// graph. Every persisted record is a Stored map; Class, Prop and
// StorageBinding are thin views decoded from such maps on demand.
package object

import (
	"fmt"
)

// Reserved meta-class identifiers. They are stored like any other
// object, under the @class meta-class.
const (
	MetaClass   = "@class"
	MetaProp    = "@prop"
	MetaStorage = "@storage"
)

// Engine-managed attribute keys present on every stored object.
// Clients cannot forge them; the engine overwrites them on write.
const (
	AttrID        = "id"
	AttrClassID   = "class_id"
	AttrOwnerID   = "owner_id"
	AttrCreatedAt = "created_at"
	AttrUpdatedAt = "updated_at"
	AttrVersion   = "_version"
)

// IsMeta reports whether id names one of the reserved meta-classes.
func IsMeta(id string) bool {
	return id == MetaClass || id == MetaProp || id == MetaStorage
}

// IsManagedAttr reports whether key is one of the engine-managed
// attributes.
func IsManagedAttr(key string) bool {
	switch key {
	case AttrID, AttrClassID, AttrOwnerID, AttrCreatedAt, AttrUpdatedAt, AttrVersion:
		return true
	}
	return false
}

// DataType enumerates the property value types.
type DataType string

const (
	String   DataType = "string"
	Boolean  DataType = "boolean"
	Integer  DataType = "integer"
	Float    DataType = "float"
	Object   DataType = "object"
	Relation DataType = "relation"
	Function DataType = "function"
)

// KnownDataType reports whether t is one of the declared data types.
func KnownDataType(t DataType) bool {
	switch t {
	case String, Boolean, Integer, Float, Object, Relation, Function:
		return true
	}
	return false
}

// OrphanPolicy enumerates the behaviors applied to referrers when the
// target of a relation is deleted.
type OrphanPolicy string

const (
	OrphanKeep    OrphanPolicy = "keep"
	OrphanDelete  OrphanPolicy = "delete"
	OrphanNullify OrphanPolicy = "nullify"
)

// Stored is a raw persisted object: an id-keyed map of attribute
// values as decoded from JSON. Providers treat it as opaque.
type Stored map[string]interface{}

// ID returns the object id, or "" when unset.
func (o Stored) ID() string {
	s, _ := o[AttrID].(string)
	return s
}

// ClassID returns the owning class id, or "" when unset.
func (o Stored) ClassID() string {
	s, _ := o[AttrClassID].(string)
	return s
}

// OwnerID returns the owner principal, or "" when the object has no
// owner.
func (o Stored) OwnerID() string {
	s, _ := o[AttrOwnerID].(string)
	return s
}

// Version returns the monotonic object version, 0 when unset.
func (o Stored) Version() int64 {
	return AsInt(o[AttrVersion])
}

// CreatedAt returns the creation timestamp as stored.
func (o Stored) CreatedAt() string {
	s, _ := o[AttrCreatedAt].(string)
	return s
}

// UpdatedAt returns the last-write timestamp as stored.
func (o Stored) UpdatedAt() string {
	s, _ := o[AttrUpdatedAt].(string)
	return s
}

// Copy returns a deep copy of the object. Mutating the copy never
// aliases the original, which matters once objects are handed to the
// broadcast plane.
func (o Stored) Copy() Stored {
	if o == nil {
		return nil
	}
	out := make(Stored, len(o))
	for k, v := range o {
		out[k] = copyValue(v)
	}
	return out
}

// CopyValue deep-copies a single attribute value.
func CopyValue(v interface{}) interface{} {
	return copyValue(v)
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case Stored:
		return map[string]interface{}(t.Copy())
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}

// AsInt coerces the numeric shapes JSON decoding produces into int64.
// Non-numeric values coerce to 0.
func AsInt(v interface{}) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	}
	return 0
}

// NormalizeClassIDs accepts the scalar-or-array shapes of
// object_class_id found in the wild and returns the always-array
// normal form.
func NormalizeClassIDs(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringList coerces a JSON-decoded value into a string slice,
// skipping non-string elements.
func StringList(v interface{}) []string {
	return NormalizeClassIDs(v)
}

// RelationIDs returns the referenced ids held by a relation value,
// which may be a scalar id or a list of ids.
func RelationIDs(v interface{}) []string {
	return NormalizeClassIDs(v)
}

// PropID composes the property id convention <class>.<key>.
func PropID(classID, key string) string {
	return fmt.Sprintf("%s.%s", classID, key)
}
