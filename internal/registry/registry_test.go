// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package registry_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage/memory"
)

type registrySuite struct {
	testing.IsolationSuite

	store    *memory.Provider
	registry *registry.Registry
}

var _ = gc.Suite(&registrySuite{})

func (s *registrySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = memory.New()
	s.registry = registry.New(s.store)
}

func (s *registrySuite) addClass(c *gc.C, id, extends string) {
	cls := object.Stored{"id": id}
	if extends != "" {
		cls["extends_id"] = extends
	}
	err := s.store.Put(context.Background(), object.MetaClass, id, cls)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *registrySuite) addProp(c *gc.C, classID, key string, attrs object.Stored) {
	prop := object.Stored{
		"id":        object.PropID(classID, key),
		"key":       key,
		"data_type": "string",
	}
	for k, v := range attrs {
		prop[k] = v
	}
	err := s.store.Put(context.Background(), object.MetaProp, prop.ID(), prop)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *registrySuite) TestClassNotFound(c *gc.C) {
	_, err := s.registry.Class(context.Background(), "ghost")
	c.Assert(err, jc.ErrorIs, coreerrors.NotFound)
}

func (s *registrySuite) TestClassesSorted(c *gc.C) {
	s.addClass(c, "zebra", "")
	s.addClass(c, "aardvark", "")
	classes, err := s.registry.Classes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(classes, gc.HasLen, 2)
	c.Check(classes[0].ID, gc.Equals, "aardvark")
	c.Check(classes[1].ID, gc.Equals, "zebra")
}

func (s *registrySuite) TestClassesSkipsMalformed(c *gc.C) {
	s.addClass(c, "good", "")
	err := s.store.Put(context.Background(), object.MetaClass, "bad", object.Stored{"name": "no id"})
	c.Assert(err, jc.ErrorIsNil)
	classes, err := s.registry.Classes(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(classes, gc.HasLen, 1)
	c.Check(classes[0].ID, gc.Equals, "good")
}

func (s *registrySuite) TestAncestorsRootToLeaf(c *gc.C) {
	s.addClass(c, "animal", "")
	s.addClass(c, "dog", "animal")
	s.addClass(c, "puppy", "dog")
	chain, err := s.registry.Ancestors(context.Background(), "puppy")
	c.Assert(err, jc.ErrorIsNil)
	ids := make([]string, len(chain))
	for i, cls := range chain {
		ids[i] = cls.ID
	}
	c.Check(ids, jc.DeepEquals, []string{"animal", "dog", "puppy"})
}

func (s *registrySuite) TestAncestorsCycleDetected(c *gc.C) {
	s.addClass(c, "a", "b")
	s.addClass(c, "b", "a")
	_, err := s.registry.Ancestors(context.Background(), "a")
	c.Assert(err, jc.ErrorIs, coreerrors.CycleDetected)
}

func (s *registrySuite) TestSubclassesTransitive(c *gc.C) {
	s.addClass(c, "animal", "")
	s.addClass(c, "dog", "animal")
	s.addClass(c, "cat", "animal")
	s.addClass(c, "puppy", "dog")
	subs, err := s.registry.Subclasses(context.Background(), "animal")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(subs, jc.DeepEquals, []string{"cat", "dog", "puppy"})
}

func (s *registrySuite) TestPropsMergeAndOverride(c *gc.C) {
	s.addClass(c, "animal", "")
	s.addClass(c, "dog", "animal")
	s.addProp(c, "animal", "sound", object.Stored{"default_value": "noise", "display_order": 1})
	s.addProp(c, "animal", "legs", object.Stored{"data_type": "integer", "display_order": 2})
	s.addProp(c, "dog", "sound", object.Stored{"default_value": "bark"})

	props, err := s.registry.Props(context.Background(), "dog")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(props, gc.HasLen, 2)
	// The override replaces the parent prop in place, keeping the
	// ancestor-then-self ordering.
	c.Check(props[0].Key, gc.Equals, "sound")
	c.Check(props[0].DefaultValue, gc.Equals, "bark")
	c.Check(props[1].Key, gc.Equals, "legs")
}

func (s *registrySuite) TestPropsOrderedByDisplayOrderThenKey(c *gc.C) {
	s.addClass(c, "book", "")
	s.addProp(c, "book", "title", object.Stored{"display_order": 2})
	s.addProp(c, "book", "author", object.Stored{"display_order": 1})
	s.addProp(c, "book", "isbn", nil)
	props, err := s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	keys := make([]string, len(props))
	for i, prop := range props {
		keys[i] = prop.Key
	}
	// Unset display_order sorts first at 0, then 1, then 2.
	c.Check(keys, jc.DeepEquals, []string{"isbn", "author", "title"})
}

func (s *registrySuite) TestPropWalksChain(c *gc.C) {
	s.addClass(c, "animal", "")
	s.addClass(c, "dog", "animal")
	s.addProp(c, "animal", "sound", nil)
	prop, err := s.registry.Prop(context.Background(), "dog", "sound")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(prop.ClassID, gc.Equals, "animal")

	_, err = s.registry.Prop(context.Background(), "dog", "ghost")
	c.Assert(err, jc.ErrorIs, coreerrors.NotFound)
}

func (s *registrySuite) TestInvalidateFlushesCache(c *gc.C) {
	s.addClass(c, "book", "")
	s.addProp(c, "book", "title", nil)
	props, err := s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(props, gc.HasLen, 1)

	// A stale cache would miss the new prop.
	s.addProp(c, "book", "author", nil)
	props, err = s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(props, gc.HasLen, 1)

	s.registry.Invalidate()
	props, err = s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(props, gc.HasLen, 2)
}

func (s *registrySuite) TestPropsPureAcrossCallers(c *gc.C) {
	s.addClass(c, "book", "")
	s.addProp(c, "book", "title", nil)
	first, err := s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	second, err := s.registry.Props(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, jc.DeepEquals, first)
}
