// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"sort"
	"strconv"

	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

// QueryOptions controls sorting and pagination of query results.
type QueryOptions struct {
	// Sort names the field to order by; empty means unspecified
	// storage order with an id tie-break.
	Sort string
	// Descending reverses the order; the default is ascending.
	Descending bool
	// Limit bounds the result count; 0 means unlimited.
	Limit int
	// Offset skips results after filtering and sorting.
	Offset int
}

// Query equality-matches objects of a class on any set of fields.
// When ownership is enforced, results are filtered to the caller
// before sort, limit and offset apply.
func (m *Model) Query(ctx context.Context, opts Options, classID string, filters map[string]interface{}, q QueryOptions) ([]object.Stored, error) {
	if _, err := m.registry.Class(ctx, classID); err != nil {
		return nil, errors.Trace(err)
	}
	lock := m.classLock(classID)
	lock.RLock()
	objects, err := m.store.List(ctx, classID)
	lock.RUnlock()
	if err != nil {
		return nil, errors.Trace(err)
	}

	matched := make([]object.Stored, 0, len(objects))
	for _, obj := range objects {
		if !m.visible(obj, opts, classID) {
			continue
		}
		match := true
		for field, want := range filters {
			if !looseEqual(obj[field], want) {
				match = false
				break
			}
		}
		if match {
			matched = append(matched, obj)
		}
	}

	sortObjects(matched, q.Sort, q.Descending)

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []object.Stored{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// ListObjects returns every visible object of the class.
func (m *Model) ListObjects(ctx context.Context, opts Options, classID string) ([]object.Stored, error) {
	objects, err := m.Query(ctx, opts, classID, nil, QueryOptions{})
	return objects, errors.Trace(err)
}

// GetField returns a single field value. Relation values are resolved
// one level when resolve is set: ids are replaced by the referenced
// objects.
func (m *Model) GetField(ctx context.Context, opts Options, classID, id, key string, resolve bool) (interface{}, error) {
	obj, err := m.GetObject(ctx, opts, classID, id)
	if err != nil {
		return nil, errors.Trace(err)
	}
	value, ok := obj[key]
	if !ok {
		if _, err := m.registry.Prop(ctx, classID, key); err != nil {
			return nil, errors.Trace(err)
		}
		return nil, nil
	}
	if !resolve {
		return value, nil
	}
	prop, err := m.registry.Prop(ctx, classID, key)
	if err != nil {
		if errors.Is(err, coreerrors.NotFound) {
			return value, nil
		}
		return nil, errors.Trace(err)
	}
	if prop.DataType != object.Relation || value == nil {
		return value, nil
	}

	candidates := append([]string{}, prop.ObjectClassIDs...)
	if !prop.ObjectClassStrict {
		for _, target := range prop.ObjectClassIDs {
			if subs, err := m.registry.Subclasses(ctx, target); err == nil {
				candidates = append(candidates, subs...)
			}
		}
	}
	resolveOne := func(refID string) interface{} {
		for _, candidate := range candidates {
			if ref, err := m.GetObject(ctx, opts, candidate, refID); err == nil {
				return ref
			}
		}
		return refID
	}
	ids := object.RelationIDs(value)
	if prop.IsArray {
		out := make([]interface{}, len(ids))
		for i, refID := range ids {
			out[i] = resolveOne(refID)
		}
		return out, nil
	}
	if len(ids) == 1 {
		return resolveOne(ids[0]), nil
	}
	return value, nil
}

// sortObjects orders objects per the query contract: natural numeric
// compare for numbers, code-point compare for strings, false before
// true for booleans. Missing values order before present ones
// ascending; ties break by id ascending for determinism.
func sortObjects(objects []object.Stored, field string, descending bool) {
	sort.SliceStable(objects, func(i, j int) bool {
		if field != "" {
			c := compareValues(objects[i][field], objects[j][field])
			if c != 0 {
				if descending {
					return c > 0
				}
				return c < 0
			}
		}
		return objects[i].ID() < objects[j].ID()
	})
}

// compareValues returns -1, 0 or 1. nil orders first; mixed types
// fall back to their string forms.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			}
			return 0
		}
	}
	as := stringForm(a)
	bs := stringForm(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func numeric(v interface{}) (float64, bool) {
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

func stringForm(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// looseEqual compares across the value shapes JSON, BSON and URL
// query decoding produce: numbers compare numerically, everything
// else by canonical string form.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	return stringForm(a) == stringForm(b)
}
