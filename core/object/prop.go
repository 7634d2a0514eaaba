// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package object

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"
)

// PropOptions carries the constraint container of a property
// definition: enum values, numeric range, length bounds and pattern.
type PropOptions struct {
	Values    []interface{}
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   string
}

// Prop is the typed façade over a @prop record. The owning class is
// derived from the id convention <class>.<key>.
type Prop struct {
	ID                string
	ClassID           string
	Key               string
	Label             string
	Description       string
	DataType          DataType
	IsArray           bool
	ObjectClassIDs    []string
	ObjectClassStrict bool
	OnOrphan          OrphanPolicy
	Required          bool
	ReadOnly          bool
	CreateOnly        bool
	DefaultValue      interface{}
	DisplayOrder      int64
	GroupName         string
	Hidden            bool
	Options           PropOptions
	Validators        []string
	Editor            string

	raw Stored
}

var propFields = schema.Fields{
	"id":                  schema.NonEmptyString("id"),
	"key":                 schema.NonEmptyString("key"),
	"label":               schema.String(),
	"description":         schema.String(),
	"data_type":           schema.NonEmptyString("data_type"),
	"is_array":            schema.Bool(),
	"object_class_id":     schema.Any(),
	"object_class_strict": schema.Bool(),
	"on_orphan":           schema.String(),
	"required":            schema.Bool(),
	"readonly":            schema.Bool(),
	"create_only":         schema.Bool(),
	"default_value":       schema.Any(),
	"display_order":       schema.ForceInt(),
	"group_name":          schema.String(),
	"hidden":              schema.Bool(),
	"options":             schema.StringMap(schema.Any()),
	"validators":          schema.List(schema.String()),
	"editor":              schema.String(),
}

var propDefaults = schema.Defaults{
	"label":               "",
	"description":         "",
	"is_array":            false,
	"object_class_id":     schema.Omit,
	"object_class_strict": false,
	"on_orphan":           string(OrphanKeep),
	"required":            false,
	"readonly":            false,
	"create_only":         false,
	"default_value":       schema.Omit,
	"display_order":       schema.Omit,
	"group_name":          "",
	"hidden":              false,
	"options":             schema.Omit,
	"validators":          schema.Omit,
	"editor":              "",
}

var propChecker = schema.FieldMap(propFields, propDefaults)

// PropFromStored decodes a @prop record, enforcing the id convention
// and the known data type set.
func PropFromStored(obj Stored) (*Prop, error) {
	coerced, err := propChecker.Coerce(map[string]interface{}(obj), nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid prop definition")
	}
	m := coerced.(map[string]interface{})
	p := &Prop{
		ID:  m["id"].(string),
		Key: m["key"].(string),
		raw: obj.Copy(),
	}
	suffix := "." + p.Key
	if !strings.HasSuffix(p.ID, suffix) || len(p.ID) == len(suffix) {
		return nil, errors.Errorf("prop id %q does not match <class>.%s", p.ID, p.Key)
	}
	p.ClassID = strings.TrimSuffix(p.ID, suffix)

	p.DataType = DataType(m["data_type"].(string))
	if !KnownDataType(p.DataType) {
		return nil, errors.Errorf("prop %q: unknown data type %q", p.ID, p.DataType)
	}
	if v, ok := m["label"].(string); ok {
		p.Label = v
	}
	if v, ok := m["description"].(string); ok {
		p.Description = v
	}
	if v, ok := m["is_array"].(bool); ok {
		p.IsArray = v
	}
	if v, ok := m["object_class_id"]; ok {
		p.ObjectClassIDs = NormalizeClassIDs(v)
	}
	if v, ok := m["object_class_strict"].(bool); ok {
		p.ObjectClassStrict = v
	}
	p.OnOrphan = OrphanKeep
	if v, ok := m["on_orphan"].(string); ok && v != "" {
		switch policy := OrphanPolicy(v); policy {
		case OrphanKeep, OrphanDelete, OrphanNullify:
			p.OnOrphan = policy
		default:
			return nil, errors.Errorf("prop %q: unknown on_orphan policy %q", p.ID, v)
		}
	}
	if v, ok := m["required"].(bool); ok {
		p.Required = v
	}
	if v, ok := m["readonly"].(bool); ok {
		p.ReadOnly = v
	}
	if v, ok := m["create_only"].(bool); ok {
		p.CreateOnly = v
	}
	if v, ok := m["default_value"]; ok {
		p.DefaultValue = v
	}
	if v, ok := m["display_order"]; ok {
		p.DisplayOrder = AsInt(v)
	}
	if v, ok := m["group_name"].(string); ok {
		p.GroupName = v
	}
	if v, ok := m["hidden"].(bool); ok {
		p.Hidden = v
	}
	if v, ok := m["options"].(map[string]interface{}); ok {
		p.Options = propOptions(v)
	}
	if v, ok := m["validators"]; ok {
		p.Validators = StringList(v)
	}
	if v, ok := m["editor"].(string); ok {
		p.Editor = v
	}
	return p, nil
}

func propOptions(m map[string]interface{}) PropOptions {
	var opts PropOptions
	if v, ok := m["values"].([]interface{}); ok {
		opts.Values = v
	}
	if v, ok := floatOpt(m["min"]); ok {
		opts.Min = &v
	}
	if v, ok := floatOpt(m["max"]); ok {
		opts.Max = &v
	}
	if v, ok := floatOpt(m["min_length"]); ok {
		n := int(v)
		opts.MinLength = &n
	}
	if v, ok := floatOpt(m["max_length"]); ok {
		n := int(v)
		opts.MaxLength = &n
	}
	if v, ok := m["pattern"].(string); ok {
		opts.Pattern = v
	}
	return opts
}

func floatOpt(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// Stored returns the raw record backing the façade.
func (p *Prop) Stored() Stored {
	return p.raw
}
