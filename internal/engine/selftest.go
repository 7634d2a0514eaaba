// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/rs/xid"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

// TestStep is one entry of the self-test report.
type TestStep struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// TestReport is the structured pass/fail result of RunTests.
type TestReport struct {
	Passed int        `json:"passed"`
	Failed int        `json:"failed"`
	Steps  []TestStep `json:"steps"`
}

func (r *TestReport) record(name string, err error) {
	step := TestStep{Name: name, OK: err == nil}
	if err != nil {
		step.Detail = err.Error()
		r.Failed++
	} else {
		r.Passed++
	}
	r.Steps = append(r.Steps, step)
}

// RunTests exercises a scripted set of schema and data operations
// against a scratch class and reports per-step results. Testing aid,
// not part of the data path; the scratch class is removed afterwards.
func (m *Model) RunTests(ctx context.Context) (*TestReport, error) {
	report := &TestReport{}
	opts := Options{Principal: "selftest", AllowCustomIDs: true}
	base := "probe_" + xid.New().String()
	sub := base + "_sub"

	defer func() {
		cleanup := func(classID string) {
			objects, err := m.store.List(ctx, classID)
			if err == nil {
				for _, obj := range objects {
					m.store.Delete(ctx, classID, obj.ID())
				}
			}
			if err := m.DeleteClass(ctx, opts, classID); err != nil && !errors.Is(err, coreerrors.NotFound) {
				logger.Warningf("self-test cleanup of %q: %v", classID, err)
			}
		}
		cleanup(sub)
		cleanup(base)
	}()

	report.record("create class", func() error {
		_, err := m.SetObject(ctx, opts, object.MetaClass, object.Stored{
			"id":   base,
			"name": "Self-test probe",
		})
		return err
	}())

	report.record("create required string prop", func() error {
		_, err := m.SetObject(ctx, opts, object.MetaProp, object.Stored{
			"id":        object.PropID(base, "title"),
			"key":       "title",
			"data_type": "string",
			"required":  true,
		})
		return err
	}())

	report.record("create defaulted prop", func() error {
		_, err := m.SetObject(ctx, opts, object.MetaProp, object.Stored{
			"id":            object.PropID(base, "sound"),
			"key":           "sound",
			"data_type":     "string",
			"default_value": "noise",
		})
		return err
	}())

	report.record("reject instance missing required field", func() error {
		_, err := m.SetObject(ctx, opts, base, object.Stored{"sound": "hum"})
		if err == nil {
			return errors.New("write unexpectedly succeeded")
		}
		if !errors.Is(err, coreerrors.ValidationFailed) {
			return errors.Annotate(err, "expected a validation failure")
		}
		return nil
	}())

	var created object.Stored
	report.record("create instance with defaults", func() error {
		var err error
		created, err = m.SetObject(ctx, opts, base, object.Stored{"title": "one"})
		if err != nil {
			return err
		}
		if created.Version() != 1 {
			return errors.Errorf("fresh object has _version %d", created.Version())
		}
		if created["sound"] != "noise" {
			return errors.Errorf("default not applied, sound=%v", created["sound"])
		}
		return nil
	}())

	report.record("partial update retains fields", func() error {
		if created == nil {
			return errors.New("skipped: create failed")
		}
		updated, err := m.SetObject(ctx, opts, base, object.Stored{
			"id":    created.ID(),
			"sound": "hum",
		})
		if err != nil {
			return err
		}
		if updated["title"] != "one" {
			return errors.Errorf("title lost on partial update: %v", updated["title"])
		}
		if updated.Version() != 2 {
			return errors.Errorf("updated object has _version %d", updated.Version())
		}
		return nil
	}())

	report.record("inheritance override", func() error {
		if _, err := m.SetObject(ctx, opts, object.MetaClass, object.Stored{
			"id":         sub,
			"extends_id": base,
		}); err != nil {
			return err
		}
		if _, err := m.SetObject(ctx, opts, object.MetaProp, object.Stored{
			"id":            object.PropID(sub, "sound"),
			"key":           "sound",
			"data_type":     "string",
			"default_value": "bark",
		}); err != nil {
			return err
		}
		obj, err := m.SetObject(ctx, opts, sub, object.Stored{"title": "pup"})
		if err != nil {
			return err
		}
		if obj["sound"] != "bark" {
			return errors.Errorf("override default not applied, sound=%v", obj["sound"])
		}
		props, err := m.registry.Props(ctx, sub)
		if err != nil {
			return err
		}
		sounds := 0
		for _, prop := range props {
			if prop.Key == "sound" {
				sounds++
			}
		}
		if sounds != 1 {
			return errors.Errorf("resolved props carry %d sound entries", sounds)
		}
		return nil
	}())

	report.record("reject missing relation target", func() error {
		if _, err := m.SetObject(ctx, opts, object.MetaProp, object.Stored{
			"id":              object.PropID(base, "parent_id"),
			"key":             "parent_id",
			"data_type":       "relation",
			"object_class_id": []interface{}{base},
		}); err != nil {
			return err
		}
		_, err := m.SetObject(ctx, opts, base, object.Stored{
			"title":     "two",
			"parent_id": "no-such-object",
		})
		if err == nil {
			return errors.New("write unexpectedly succeeded")
		}
		if !errors.Is(err, coreerrors.ValidationFailed) {
			return errors.Annotate(err, "expected a validation failure")
		}
		return nil
	}())

	report.record("delete instance", func() error {
		if created == nil {
			return errors.New("skipped: create failed")
		}
		// The sub-class instance and any relation rows must go too or
		// class deletion below reports a conflict; the deferred
		// cleanup deletes remaining instances.
		existed, err := m.DeleteObject(ctx, opts, base, created.ID())
		if err != nil {
			return err
		}
		if !existed {
			return errors.New("object was already gone")
		}
		if _, err := m.GetObject(ctx, opts, base, created.ID()); !errors.Is(err, coreerrors.NotFound) {
			return fmt.Errorf("deleted object still readable (err=%v)", err)
		}
		return nil
	}())

	return report, nil
}
