// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors_test

import (
	stderrors "errors"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
)

type errorsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&errorsSuite{})

func (s *errorsSuite) TestCodes(c *gc.C) {
	for kind, code := range map[error]string{
		coreerrors.NotFound:         "not_found",
		coreerrors.Forbidden:        "forbidden",
		coreerrors.Conflict:         "conflict",
		coreerrors.ValidationFailed: "validation_failed",
		coreerrors.CycleDetected:    "cycle_detected",
		coreerrors.IOError:          "io_error",
		coreerrors.Unavailable:      "unavailable",
	} {
		c.Check(coreerrors.Code(kind), gc.Equals, code)
	}
	c.Check(coreerrors.Code(stderrors.New("boom")), gc.Equals, "internal_error")
}

func (s *errorsSuite) TestCodeSurvivesAnnotation(c *gc.C) {
	err := errors.Annotatef(coreerrors.NotFound, "object book/b1")
	c.Check(coreerrors.Code(err), gc.Equals, "not_found")
	c.Check(err, jc.ErrorIs, coreerrors.NotFound)

	err = errors.Trace(errors.WithType(stderrors.New("disk full"), coreerrors.IOError))
	c.Check(coreerrors.Code(err), gc.Equals, "io_error")
}

func (s *errorsSuite) TestValidationError(c *gc.C) {
	err := coreerrors.NewValidationError([]coreerrors.FieldError{
		{Field: "title", Code: "required", Reason: "title is required"},
		{Field: "pages", Code: "type", Reason: "pages is not an integer"},
	})
	c.Check(err, jc.ErrorIs, coreerrors.ValidationFailed)
	c.Check(coreerrors.Code(err), gc.Equals, "validation_failed")
	c.Check(err, gc.ErrorMatches,
		"validation failed: title: title is required; pages: pages is not an integer")

	fields := coreerrors.ValidationFields(errors.Trace(err))
	c.Assert(fields, gc.HasLen, 2)
	c.Check(fields[0].Field, gc.Equals, "title")
}

func (s *errorsSuite) TestValidationFieldsOnOtherErrors(c *gc.C) {
	c.Check(coreerrors.ValidationFields(coreerrors.Conflict), gc.IsNil)
	c.Check(coreerrors.ValidationFields(nil), gc.IsNil)
}
