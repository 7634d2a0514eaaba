// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/omc-ai/elementStore-sub001/apiserver"
	"github.com/omc-ai/elementStore-sub001/internal/broadcast"
	"github.com/omc-ai/elementStore-sub001/internal/engine"
	"github.com/omc-ai/elementStore-sub001/internal/export"
	"github.com/omc-ai/elementStore-sub001/internal/genesis"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage/memory"
)

type apiserverSuite struct {
	testing.IsolationSuite

	store *memory.Provider
	model *engine.Model
	srv   *httptest.Server
}

var _ = gc.Suite(&apiserverSuite{})

func (s *apiserverSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = memory.New()
	reg := registry.New(s.store)
	loader := genesis.New(s.store, reg, clock.WallClock, "")
	_, err := loader.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	s.model, err = engine.New(engine.Config{
		Store:    s.store,
		Registry: reg,
		Emitter:  broadcast.NewEmitter(""),
		Clock:    clock.WallClock,
		Seeder:   loader,
	})
	c.Assert(err, jc.ErrorIsNil)

	server, err := apiserver.New(apiserver.Config{
		Model:   s.model,
		Genesis: loader,
		Export:  export.New(s.store, reg, clock.WallClock, c.MkDir()),
		Version: "test",
	})
	c.Assert(err, jc.ErrorIsNil)
	s.srv = httptest.NewServer(server)
	s.AddCleanup(func(*gc.C) { s.srv.Close() })
}

// do performs a request and decodes the JSON response into out, which
// may be nil when only the status matters.
func (s *apiserverSuite) do(c *gc.C, method, path string, headers map[string]string, body, out interface{}) int {
	var reader io.Reader
	switch payload := body.(type) {
	case nil:
	case string:
		reader = bytes.NewReader([]byte(payload))
	default:
		raw, err := json.Marshal(payload)
		c.Assert(err, jc.ErrorIsNil)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	c.Assert(err, jc.ErrorIsNil)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(resp.Header.Get("Content-Type"), gc.Equals, "application/json")
	if out != nil {
		c.Assert(json.Unmarshal(raw, out), jc.ErrorIsNil, gc.Commentf("body: %s", raw))
	}
	return resp.StatusCode
}

func asUser(user string) map[string]string {
	return map[string]string{"X-User-Id": user}
}

// defineBookClass posts a book class with a required title and an
// optional genre through the schema endpoint.
func (s *apiserverSuite) defineBookClass(c *gc.C) {
	status := s.do(c, "POST", "/class", asUser("admin"), map[string]interface{}{
		"id": "book",
	}, nil)
	c.Assert(status, gc.Equals, http.StatusOK)
	for _, prop := range []map[string]interface{}{
		{"class_id": "@prop", "id": "book.title", "key": "title", "data_type": "string", "required": true},
		{"class_id": "@prop", "id": "book.genre", "key": "genre", "data_type": "string"},
	} {
		status = s.do(c, "POST", "/class", asUser("admin"), prop, nil)
		c.Assert(status, gc.Equals, http.StatusOK)
	}
}

func (s *apiserverSuite) createBook(c *gc.C, user, title string) string {
	var created map[string]interface{}
	status := s.do(c, "POST", "/store/book", asUser(user), map[string]interface{}{
		"title": title,
	}, &created)
	c.Assert(status, gc.Equals, http.StatusOK)
	id, _ := created["id"].(string)
	c.Assert(id, gc.Not(gc.Equals), "")
	return id
}

func (s *apiserverSuite) TestHealth(c *gc.C) {
	var body map[string]interface{}
	status := s.do(c, "GET", "/health", nil, nil, &body)
	c.Check(status, gc.Equals, http.StatusOK)
	c.Check(body["status"], gc.Equals, "ok")
	c.Check(body["service"], gc.Equals, "elementstore")
	c.Check(body["version"], gc.Equals, "test")
}

func (s *apiserverSuite) TestInfoCatalogue(c *gc.C) {
	var body map[string]interface{}
	status := s.do(c, "GET", "/info", nil, nil, &body)
	c.Check(status, gc.Equals, http.StatusOK)
	endpoints, ok := body["endpoints"].([]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Check(len(endpoints) > 10, jc.IsTrue)
}

func (s *apiserverSuite) TestUnknownEndpoint(c *gc.C) {
	var body map[string]interface{}
	status := s.do(c, "GET", "/nowhere", nil, nil, &body)
	c.Check(status, gc.Equals, http.StatusNotFound)
	c.Check(body["code"], gc.Equals, "not_found")
}

func (s *apiserverSuite) TestClassLifecycle(c *gc.C) {
	s.defineBookClass(c)

	var cls map[string]interface{}
	status := s.do(c, "GET", "/class/book", nil, nil, &cls)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(cls["id"], gc.Equals, "book")

	var props []map[string]interface{}
	status = s.do(c, "GET", "/class/book/props", nil, nil, &props)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(props, gc.HasLen, 2)
	keys := []string{props[0]["key"].(string), props[1]["key"].(string)}
	c.Check(keys, jc.SameContents, []string{"title", "genre"})

	var classes []map[string]interface{}
	status = s.do(c, "GET", "/class", nil, nil, &classes)
	c.Assert(status, gc.Equals, http.StatusOK)
	ids := make([]string, len(classes))
	for i, cls := range classes {
		ids[i] = cls["id"].(string)
	}
	c.Check(ids, jc.SameContents, []string{"@class", "@prop", "@storage", "book"})
}

func (s *apiserverSuite) TestClassBodyMustBeMeta(c *gc.C) {
	var body map[string]interface{}
	status := s.do(c, "POST", "/class", asUser("admin"), map[string]interface{}{
		"class_id": "book", "id": "x",
	}, &body)
	c.Check(status, gc.Equals, http.StatusBadRequest)
	c.Check(body["code"], gc.Equals, "validation_failed")
}

func (s *apiserverSuite) TestDeleteClassWithInstancesConflicts(c *gc.C) {
	s.defineBookClass(c)
	s.createBook(c, "u1", "x")

	var body map[string]interface{}
	status := s.do(c, "DELETE", "/class/book", asUser("admin"), nil, &body)
	c.Check(status, gc.Equals, http.StatusConflict)
	c.Check(body["code"], gc.Equals, "conflict")
}

func (s *apiserverSuite) TestStoreCRUD(c *gc.C) {
	s.defineBookClass(c)

	var created map[string]interface{}
	status := s.do(c, "POST", "/store/book", asUser("u1"), map[string]interface{}{
		"title": "first",
	}, &created)
	c.Assert(status, gc.Equals, http.StatusOK)
	id := created["id"].(string)
	c.Check(created["class_id"], gc.Equals, "book")
	c.Check(created["owner_id"], gc.Equals, "u1")
	c.Check(created["_version"], gc.Equals, float64(1))

	var fetched map[string]interface{}
	status = s.do(c, "GET", "/store/book/"+id, asUser("u1"), nil, &fetched)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(fetched["title"], gc.Equals, "first")

	var updated map[string]interface{}
	status = s.do(c, "PUT", "/store/book/"+id, asUser("u1"), map[string]interface{}{
		"genre": "scifi",
	}, &updated)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(updated["title"], gc.Equals, "first")
	c.Check(updated["genre"], gc.Equals, "scifi")
	c.Check(updated["_version"], gc.Equals, float64(2))

	var list []map[string]interface{}
	status = s.do(c, "GET", "/store/book", asUser("u1"), nil, &list)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(list, gc.HasLen, 1)

	var deleted map[string]interface{}
	status = s.do(c, "DELETE", "/store/book/"+id, asUser("u1"), nil, &deleted)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(deleted["deleted"], gc.Equals, true)

	var errBody map[string]interface{}
	status = s.do(c, "GET", "/store/book/"+id, asUser("u1"), nil, &errBody)
	c.Check(status, gc.Equals, http.StatusNotFound)
	c.Check(errBody["code"], gc.Equals, "not_found")
}

func (s *apiserverSuite) TestValidationErrorBody(c *gc.C) {
	s.defineBookClass(c)

	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details []struct {
			Field  string `json:"field"`
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"details"`
	}
	status := s.do(c, "POST", "/store/book", asUser("u1"), map[string]interface{}{}, &body)
	c.Check(status, gc.Equals, http.StatusBadRequest)
	c.Check(body.Code, gc.Equals, "validation_failed")
	c.Assert(body.Details, gc.HasLen, 1)
	c.Check(body.Details[0].Field, gc.Equals, "title")
	c.Check(body.Details[0].Code, gc.Equals, "required")
}

func (s *apiserverSuite) TestMalformedBody(c *gc.C) {
	s.defineBookClass(c)
	var body map[string]interface{}
	status := s.do(c, "POST", "/store/book", asUser("u1"), "{not json", &body)
	c.Check(status, gc.Equals, http.StatusBadRequest)
	c.Check(body["code"], gc.Equals, "validation_failed")
}

func (s *apiserverSuite) TestOwnershipHeaders(c *gc.C) {
	s.defineBookClass(c)
	id := s.createBook(c, "u1", "private")

	status := s.do(c, "GET", "/store/book/"+id, asUser("u2"), nil, nil)
	c.Check(status, gc.Equals, http.StatusNotFound)

	status = s.do(c, "GET", "/store/book/"+id, map[string]string{
		"X-User-Id":           "u2",
		"X-Disable-Ownership": "1",
	}, nil, nil)
	c.Check(status, gc.Equals, http.StatusOK)

	var body map[string]interface{}
	status = s.do(c, "PUT", "/store/book/"+id, asUser("u2"), map[string]interface{}{
		"title": "stolen",
	}, &body)
	c.Check(status, gc.Equals, http.StatusForbidden)
	c.Check(body["code"], gc.Equals, "forbidden")
}

func (s *apiserverSuite) TestCustomIDHeader(c *gc.C) {
	s.defineBookClass(c)

	var body map[string]interface{}
	status := s.do(c, "POST", "/store/book", asUser("u1"), map[string]interface{}{
		"id": "mine", "title": "x",
	}, &body)
	c.Check(status, gc.Equals, http.StatusConflict)
	c.Check(body["code"], gc.Equals, "conflict")

	var created map[string]interface{}
	status = s.do(c, "POST", "/store/book", map[string]string{
		"X-User-Id":          "u1",
		"X-Allow-Custom-Ids": "1",
	}, map[string]interface{}{"id": "mine", "title": "x"}, &created)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(created["id"], gc.Equals, "mine")
}

func (s *apiserverSuite) TestFieldEndpoints(c *gc.C) {
	s.defineBookClass(c)
	id := s.createBook(c, "u1", "before")

	var updated map[string]interface{}
	status := s.do(c, "PUT", fmt.Sprintf("/store/book/%s/title", id), asUser("u1"), `"after"`, &updated)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(updated["title"], gc.Equals, "after")
	c.Check(updated["_version"], gc.Equals, float64(2))

	var value interface{}
	status = s.do(c, "GET", fmt.Sprintf("/store/book/%s/title", id), asUser("u1"), nil, &value)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(value, gc.Equals, "after")
}

func (s *apiserverSuite) TestQueryParams(c *gc.C) {
	s.defineBookClass(c)
	for _, row := range []map[string]interface{}{
		{"title": "a", "genre": "scifi"},
		{"title": "b", "genre": "scifi"},
		{"title": "c", "genre": "crime"},
	} {
		status := s.do(c, "POST", "/store/book", asUser("u1"), row, nil)
		c.Assert(status, gc.Equals, http.StatusOK)
	}

	var out []map[string]interface{}
	status := s.do(c, "GET", "/query/book?genre=scifi&_sort=title&_order=desc", asUser("u1"), nil, &out)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(out, gc.HasLen, 2)
	c.Check(out[0]["title"], gc.Equals, "b")
	c.Check(out[1]["title"], gc.Equals, "a")

	out = nil
	status = s.do(c, "GET", "/query/book?_sort=title&_limit=1&_offset=1", asUser("u1"), nil, &out)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(out, gc.HasLen, 1)
	c.Check(out[0]["title"], gc.Equals, "b")

	var errBody map[string]interface{}
	status = s.do(c, "GET", "/query/book?_order=sideways", asUser("u1"), nil, &errBody)
	c.Check(status, gc.Equals, http.StatusBadRequest)
	c.Check(errBody["code"], gc.Equals, "validation_failed")
}

func (s *apiserverSuite) TestFind(c *gc.C) {
	s.defineBookClass(c)
	id := s.createBook(c, "u1", "somewhere")

	var found map[string]interface{}
	status := s.do(c, "GET", "/find/"+id, asUser("u1"), nil, &found)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(found["class_id"], gc.Equals, "book")

	status = s.do(c, "GET", "/find/nothing", asUser("u1"), nil, nil)
	c.Check(status, gc.Equals, http.StatusNotFound)
}

func (s *apiserverSuite) TestReset(c *gc.C) {
	s.defineBookClass(c)
	s.createBook(c, "u1", "doomed")

	var body map[string]interface{}
	status := s.do(c, "POST", "/reset", nil, nil, &body)
	c.Assert(status, gc.Equals, http.StatusOK)
	cleared, ok := body["cleared"].([]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Check(cleared, jc.DeepEquals, []interface{}{"book"})

	status = s.do(c, "GET", "/class/book", nil, nil, nil)
	c.Check(status, gc.Equals, http.StatusNotFound)
	status = s.do(c, "GET", "/class/@class", nil, nil, nil)
	c.Check(status, gc.Equals, http.StatusOK)
}

func (s *apiserverSuite) TestGenesisEndpoints(c *gc.C) {
	var verify map[string]interface{}
	status := s.do(c, "GET", "/genesis", nil, nil, &verify)
	c.Assert(status, gc.Equals, http.StatusOK)
	skipped, ok := verify["skipped"].([]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Check(len(skipped) > 0, jc.IsTrue)

	status = s.do(c, "POST", "/genesis", nil, nil, nil)
	c.Check(status, gc.Equals, http.StatusOK)

	var data map[string]interface{}
	status = s.do(c, "GET", "/genesis/data", nil, nil, &data)
	c.Assert(status, gc.Equals, http.StatusOK)
	classes, ok := data["classes"].([]interface{})
	c.Assert(ok, jc.IsTrue)
	c.Check(classes, gc.HasLen, 3)
}

func (s *apiserverSuite) TestExportEndpoints(c *gc.C) {
	s.defineBookClass(c)
	s.createBook(c, "u1", "kept")

	var meta map[string]interface{}
	status := s.do(c, "POST", "/export", nil, nil, &meta)
	c.Assert(status, gc.Equals, http.StatusOK)
	hash := meta["id"].(string)
	c.Assert(hash, gc.Not(gc.Equals), "")

	var list []map[string]interface{}
	status = s.do(c, "GET", "/exports", nil, nil, &list)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Assert(list, gc.HasLen, 1)
	c.Check(list[0]["id"], gc.Equals, hash)

	var bundle map[string]interface{}
	status = s.do(c, "GET", "/export/"+hash, nil, nil, &bundle)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(bundle["version"], gc.Equals, float64(export.BundleVersion))

	var deleted map[string]interface{}
	status = s.do(c, "DELETE", "/export/"+hash, nil, nil, &deleted)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(deleted["deleted"], gc.Equals, true)

	status = s.do(c, "GET", "/export/"+hash, nil, nil, nil)
	c.Check(status, gc.Equals, http.StatusNotFound)
}

func (s *apiserverSuite) TestSelfTestEndpoint(c *gc.C) {
	var report map[string]interface{}
	status := s.do(c, "POST", "/tests", nil, nil, &report)
	c.Assert(status, gc.Equals, http.StatusOK)
	c.Check(report["failed"], gc.Equals, float64(0))
}
