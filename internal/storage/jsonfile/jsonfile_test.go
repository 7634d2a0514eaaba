// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonfile_test

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/storage/jsonfile"
)

type jsonfileSuite struct {
	testing.IsolationSuite

	root     string
	provider *jsonfile.Provider
}

var _ = gc.Suite(&jsonfileSuite{})

func (s *jsonfileSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.root = c.MkDir()
	var err error
	s.provider, err = jsonfile.New(s.root, clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *jsonfileSuite) TestNewRequiresRoot(c *gc.C) {
	_, err := jsonfile.New("", clock.WallClock)
	c.Assert(err, gc.ErrorMatches, "data root not specified")
}

func (s *jsonfileSuite) TestNewCreatesRoot(c *gc.C) {
	dir := filepath.Join(c.MkDir(), "nested", "data")
	_, err := jsonfile.New(dir, clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	info, err := os.Stat(dir)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.IsDir(), jc.IsTrue)
}

func (s *jsonfileSuite) TestPutGetRoundtrip(c *gc.C) {
	ctx := context.Background()
	obj := object.Stored{"id": "b1", "class_id": "book", "title": "one"}
	err := s.provider.Put(ctx, "book", "b1", obj)
	c.Assert(err, jc.ErrorIsNil)

	got, err := s.provider.Get(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got["title"], gc.Equals, "one")
	c.Check(got.ID(), gc.Equals, "b1")
}

func (s *jsonfileSuite) TestGetNotFound(c *gc.C) {
	ctx := context.Background()
	_, err := s.provider.Get(ctx, "book", "absent")
	c.Assert(err, jc.ErrorIs, coreerrors.NotFound)

	err = s.provider.Put(ctx, "book", "b1", object.Stored{"id": "b1"})
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.provider.Get(ctx, "book", "absent")
	c.Assert(err, jc.ErrorIs, coreerrors.NotFound)
}

func (s *jsonfileSuite) TestListEmptyContainer(c *gc.C) {
	objects, err := s.provider.List(context.Background(), "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(objects, gc.HasLen, 0)
}

func (s *jsonfileSuite) TestList(c *gc.C) {
	ctx := context.Background()
	for _, id := range []string{"b1", "b2", "b3"} {
		err := s.provider.Put(ctx, "book", id, object.Stored{"id": id})
		c.Assert(err, jc.ErrorIsNil)
	}
	objects, err := s.provider.List(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(objects, gc.HasLen, 3)
	ids := make([]string, len(objects))
	for i, obj := range objects {
		ids[i] = obj.ID()
	}
	sort.Strings(ids)
	c.Check(ids, jc.DeepEquals, []string{"b1", "b2", "b3"})
}

func (s *jsonfileSuite) TestDelete(c *gc.C) {
	ctx := context.Background()
	err := s.provider.Put(ctx, "book", "b1", object.Stored{"id": "b1"})
	c.Assert(err, jc.ErrorIsNil)

	existed, err := s.provider.Delete(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(existed, jc.IsTrue)

	existed, err = s.provider.Delete(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(existed, jc.IsFalse)

	existed, err = s.provider.Delete(ctx, "nothing", "b1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(existed, jc.IsFalse)
}

func (s *jsonfileSuite) TestExistsInitDrop(c *gc.C) {
	ctx := context.Background()
	ok, err := s.provider.Exists(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	err = s.provider.Init(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	ok, err = s.provider.Exists(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)

	// Init is idempotent and keeps existing data.
	err = s.provider.Put(ctx, "book", "b1", object.Stored{"id": "b1"})
	c.Assert(err, jc.ErrorIsNil)
	err = s.provider.Init(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.provider.Get(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIsNil)

	existed, err := s.provider.Drop(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(existed, jc.IsTrue)
	ok, err = s.provider.Exists(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	existed, err = s.provider.Drop(ctx, "book")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(existed, jc.IsFalse)
}

func (s *jsonfileSuite) TestFileLayoutEscapesClassIDs(c *gc.C) {
	ctx := context.Background()
	err := s.provider.Put(ctx, "@class", "book", object.Stored{"id": "book"})
	c.Assert(err, jc.ErrorIsNil)

	name := url.PathEscape("@class") + ".json"
	_, err = os.Stat(filepath.Join(s.root, name))
	c.Assert(err, jc.ErrorIsNil)
}

func (s *jsonfileSuite) TestPersistsAcrossInstances(c *gc.C) {
	ctx := context.Background()
	err := s.provider.Put(ctx, "book", "b1", object.Stored{"id": "b1", "title": "kept"})
	c.Assert(err, jc.ErrorIsNil)

	reopened, err := jsonfile.New(s.root, clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	got, err := reopened.Get(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got["title"], gc.Equals, "kept")
}

func (s *jsonfileSuite) TestCorruptFileIsIOError(c *gc.C) {
	ctx := context.Background()
	err := os.WriteFile(filepath.Join(s.root, "book.json"), []byte("{not json"), 0644)
	c.Assert(err, jc.ErrorIsNil)

	_, err = s.provider.Get(ctx, "book", "b1")
	c.Assert(err, jc.ErrorIs, coreerrors.IOError)
	_, err = s.provider.List(ctx, "book")
	c.Assert(err, jc.ErrorIs, coreerrors.IOError)
}

func (s *jsonfileSuite) TestClose(c *gc.C) {
	c.Check(s.provider.Close(), jc.ErrorIsNil)
}
