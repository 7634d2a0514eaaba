// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package validation implements the per-property coercion and
// validation pipeline every write traverses. Scalar rules apply to
// each element of array-valued props; errors are collected per field
// and surfaced in one ValidationFailed result.
package validation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
)

// maxObjectDepth bounds recursion through nested object-typed props.
const maxObjectDepth = 8

// Options tunes a single validation pass.
type Options struct {
	// Create selects the create-path rules (defaults are inserted by
	// the engine only on create; required checks always run).
	Create bool
	// SkipRelations suppresses relation target existence checks.
	// Genesis seeding uses it, as seed files may reference forward.
	SkipRelations bool
}

// Validator coerces and validates object values against resolved
// property definitions.
type Validator struct {
	registry *registry.Registry
	store    storage.Provider
}

// New returns a validator resolving against reg and checking relation
// targets through store.
func New(reg *registry.Registry, store storage.Provider) *Validator {
	return &Validator{registry: reg, store: store}
}

// Validate coerces obj values in place and returns the collected
// field errors. A non-nil error reports an infrastructure failure,
// not a validation outcome.
func (v *Validator) Validate(ctx context.Context, props []*object.Prop, obj object.Stored, opts Options) ([]coreerrors.FieldError, error) {
	return v.validate(ctx, props, obj, opts, 0)
}

func (v *Validator) validate(ctx context.Context, props []*object.Prop, obj object.Stored, opts Options, depth int) ([]coreerrors.FieldError, error) {
	if depth > maxObjectDepth {
		return []coreerrors.FieldError{{
			Field:  "",
			Code:   "nesting_too_deep",
			Reason: fmt.Sprintf("object nesting exceeds %d levels", maxObjectDepth),
		}}, nil
	}
	var fieldErrs []coreerrors.FieldError
	for _, prop := range props {
		value, present := obj[prop.Key]
		if !present || value == nil {
			if prop.Required {
				fieldErrs = append(fieldErrs, coreerrors.FieldError{
					Field:  prop.Key,
					Code:   "required",
					Reason: fmt.Sprintf("%s is required", prop.Key),
				})
			}
			continue
		}

		coerced, errs, err := v.coerceValue(ctx, prop, value, opts, depth)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(errs) > 0 {
			fieldErrs = append(fieldErrs, errs...)
			continue
		}
		obj[prop.Key] = coerced

		for _, name := range prop.Validators {
			if reason := runNamedValidator(name, coerced); reason != "" {
				fieldErrs = append(fieldErrs, coreerrors.FieldError{
					Field:  prop.Key,
					Code:   name,
					Reason: reason,
				})
			}
		}
	}
	return fieldErrs, nil
}

// coerceValue applies the scalar rules, mapping arrays element-wise.
func (v *Validator) coerceValue(ctx context.Context, prop *object.Prop, value interface{}, opts Options, depth int) (interface{}, []coreerrors.FieldError, error) {
	if prop.IsArray && prop.DataType != object.Relation {
		list, ok := value.([]interface{})
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected a list"), nil
		}
		out := make([]interface{}, len(list))
		for i, elem := range list {
			coerced, errs, err := v.coerceScalar(ctx, prop, elem, opts, depth)
			if err != nil {
				return nil, nil, errors.Trace(err)
			}
			if len(errs) > 0 {
				return nil, errs, nil
			}
			out[i] = coerced
		}
		return out, nil, nil
	}
	return v.coerceScalar(ctx, prop, value, opts, depth)
}

func (v *Validator) coerceScalar(ctx context.Context, prop *object.Prop, value interface{}, opts Options, depth int) (interface{}, []coreerrors.FieldError, error) {
	switch prop.DataType {
	case object.String:
		s, ok := coerceString(value)
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected a string"), nil
		}
		return s, checkString(prop, s), nil

	case object.Integer:
		n, ok := coerceInt(value)
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected an integer"), nil
		}
		return n, checkNumber(prop, float64(n)), nil

	case object.Float:
		f, ok := coerceFloat(value)
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected a number"), nil
		}
		return f, checkNumber(prop, f), nil

	case object.Boolean:
		b, ok := coerceBool(value)
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected a boolean"), nil
		}
		return b, nil, nil

	case object.Object:
		m, ok := asMap(value)
		if !ok {
			// Untyped object props carry opaque payloads; anything
			// the codec produced is acceptable. Typed ones must be
			// maps.
			if len(prop.ObjectClassIDs) == 0 {
				return value, nil, nil
			}
			return nil, fieldError(prop.Key, "type", "expected an object"), nil
		}
		if len(prop.ObjectClassIDs) == 0 {
			return m, nil, nil
		}
		nestedProps, err := v.registry.Props(ctx, prop.ObjectClassIDs[0])
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		nestedErrs, err := v.validate(ctx, nestedProps, m, opts, depth+1)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return m, prefixFields(prop.Key, nestedErrs), nil

	case object.Relation:
		ids := object.RelationIDs(value)
		if len(ids) == 0 {
			return nil, fieldError(prop.Key, "type", "expected an id or a list of ids"), nil
		}
		if !prop.IsArray && len(ids) > 1 {
			return nil, fieldError(prop.Key, "type", "expected a single id"), nil
		}
		if !opts.SkipRelations {
			for _, id := range ids {
				found, err := v.relationTargetExists(ctx, prop, id)
				if err != nil {
					return nil, nil, errors.Trace(err)
				}
				if !found {
					return nil, fieldError(prop.Key, "relation_target_missing",
						fmt.Sprintf("no object %q in classes %s", id, strings.Join(prop.ObjectClassIDs, ", "))), nil
				}
			}
		}
		if prop.IsArray {
			out := make([]interface{}, len(ids))
			for i, id := range ids {
				out[i] = id
			}
			return out, nil, nil
		}
		return ids[0], nil, nil

	case object.Function:
		s, ok := value.(string)
		if !ok {
			return nil, fieldError(prop.Key, "type", "expected a function body string"), nil
		}
		// Opaque text; never evaluated server-side.
		return s, nil, nil
	}
	return nil, fieldError(prop.Key, "type", fmt.Sprintf("unknown data type %q", prop.DataType)), nil
}

// relationTargetExists checks the declared target classes and, unless
// the prop is strict, their subclasses.
func (v *Validator) relationTargetExists(ctx context.Context, prop *object.Prop, id string) (bool, error) {
	classIDs := append([]string{}, prop.ObjectClassIDs...)
	if !prop.ObjectClassStrict {
		for _, target := range prop.ObjectClassIDs {
			subs, err := v.registry.Subclasses(ctx, target)
			if err != nil {
				return false, errors.Trace(err)
			}
			classIDs = append(classIDs, subs...)
		}
	}
	for _, classID := range classIDs {
		_, err := v.store.Get(ctx, classID, id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, coreerrors.NotFound) {
			return false, errors.Trace(err)
		}
	}
	return false, nil
}

func fieldError(field, code, reason string) []coreerrors.FieldError {
	return []coreerrors.FieldError{{Field: field, Code: code, Reason: reason}}
}

func prefixFields(prefix string, errs []coreerrors.FieldError) []coreerrors.FieldError {
	for i := range errs {
		if errs[i].Field == "" {
			errs[i].Field = prefix
		} else {
			errs[i].Field = prefix + "." + errs[i].Field
		}
	}
	return errs
}

func asMap(v interface{}) (object.Stored, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return object.Stored(t), true
	case object.Stored:
		return t, true
	}
	return nil, false
}

func coerceString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

func coerceInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if math.IsNaN(t) || math.Trunc(t) != t || t > math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func coerceFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) {
			return 0, false
		}
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func coerceBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		if t == 0 {
			return false, true
		} else if t == 1 {
			return true, true
		}
	case int:
		if t == 0 {
			return false, true
		} else if t == 1 {
			return true, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

func checkString(prop *object.Prop, s string) []coreerrors.FieldError {
	opts := prop.Options
	if opts.MinLength != nil && len(s) < *opts.MinLength {
		return fieldError(prop.Key, "min_length",
			fmt.Sprintf("%s must be at least %d characters", prop.Key, *opts.MinLength))
	}
	if opts.MaxLength != nil && len(s) > *opts.MaxLength {
		return fieldError(prop.Key, "max_length",
			fmt.Sprintf("%s must be at most %d characters", prop.Key, *opts.MaxLength))
	}
	if opts.Pattern != "" {
		matched, err := matchPattern(opts.Pattern, s)
		if err != nil {
			return fieldError(prop.Key, "pattern", fmt.Sprintf("invalid pattern %q", opts.Pattern))
		}
		if !matched {
			return fieldError(prop.Key, "pattern",
				fmt.Sprintf("%s does not match %q", prop.Key, opts.Pattern))
		}
	}
	if len(opts.Values) > 0 && !containsValue(opts.Values, s) {
		return fieldError(prop.Key, "enum",
			fmt.Sprintf("%s must be one of the declared values", prop.Key))
	}
	return nil
}

func checkNumber(prop *object.Prop, f float64) []coreerrors.FieldError {
	opts := prop.Options
	if opts.Min != nil && f < *opts.Min {
		return fieldError(prop.Key, "min",
			fmt.Sprintf("%s must be >= %v", prop.Key, *opts.Min))
	}
	if opts.Max != nil && f > *opts.Max {
		return fieldError(prop.Key, "max",
			fmt.Sprintf("%s must be <= %v", prop.Key, *opts.Max))
	}
	if len(opts.Values) > 0 && !containsValue(opts.Values, f) {
		return fieldError(prop.Key, "enum",
			fmt.Sprintf("%s must be one of the declared values", prop.Key))
	}
	return nil
}

// containsValue compares loosely across the numeric shapes JSON
// decoding produces.
func containsValue(values []interface{}, want interface{}) bool {
	for _, v := range values {
		if v == want {
			return true
		}
		vf, vok := coerceFloat(v)
		wf, wok := coerceFloat(want)
		if vok && wok && vf == wf {
			// Strings that happen to parse as numbers must not match
			// numbers.
			_, vs := v.(string)
			_, ws := want.(string)
			if vs == ws {
				return true
			}
		}
	}
	return false
}
