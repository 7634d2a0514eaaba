// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage_test

import (
	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
	"github.com/omc-ai/elementStore-sub001/internal/storage/jsonfile"
)

type factorySuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&factorySuite{})

func (s *factorySuite) TestLocalAndJSONAliasJsonfile(c *gc.C) {
	for _, kind := range []object.StorageType{object.StorageLocal, object.StorageJSON, ""} {
		provider, err := storage.NewProvider(storage.ProviderConfig{
			Type: kind, DataRoot: c.MkDir(),
		}, clock.WallClock)
		c.Assert(err, jc.ErrorIsNil)
		_, ok := provider.(*jsonfile.Provider)
		c.Check(ok, jc.IsTrue)
		c.Check(provider.Close(), jc.ErrorIsNil)
	}
}

func (s *factorySuite) TestUnknownType(c *gc.C) {
	_, err := storage.NewProvider(storage.ProviderConfig{Type: "carrier-pigeon"}, clock.WallClock)
	c.Assert(err, gc.ErrorMatches, `unknown storage type "carrier-pigeon"`)
}
