// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package couchdb holds the CouchDB storage provider. One database
// per class; the object id is the document id. The provider talks to
// the backend over its plain HTTP API and normalizes its errors to
// the engine's kinds. Revision conflicts on replace are retried with
// a fresh _rev, which preserves last-writer-wins semantics.
package couchdb

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

const (
	requestTimeout   = 30 * time.Second
	conflictAttempts = 5
)

// Config holds the provider connection settings.
type Config struct {
	// URL is the server base URL, e.g. http://localhost:5984.
	URL string
	// Username and Password are optional basic-auth credentials.
	Username string
	Password string
	// Prefix namespaces the databases created by this provider.
	// Defaults to "es".
	Prefix string
}

// Provider is the CouchDB storage provider.
type Provider struct {
	base   string
	auth   string
	prefix string
	clock  clock.Clock
	client *http.Client
}

// New validates the config and returns the provider. The backend is
// not contacted until the first operation.
func New(cfg Config, clk clock.Clock) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("couchdb URL not specified")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Annotate(err, "parsing couchdb URL")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "es"
	}
	p := &Provider{
		base:   strings.TrimRight(base.String(), "/"),
		prefix: prefix,
		clock:  clk,
		client: &http.Client{Timeout: requestTimeout},
	}
	if cfg.Username != "" {
		p.auth = cfg.Username + ":" + cfg.Password
	}
	return p, nil
}

// dbName maps a class id onto a legal couch database name. Couch only
// allows a restricted lowercase alphabet, so the id is hex-encoded
// under the provider prefix; the mapping is deterministic.
func (p *Provider) dbName(classID string) string {
	return p.prefix + "-" + hex.EncodeToString([]byte(classID))
}

func (p *Provider) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.auth != "" {
		parts := strings.SplitN(p.auth, ":", 2)
		req.SetBasicAuth(parts[0], parts[1])
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, errors.WithType(errors.Annotate(err, "couchdb request"), coreerrors.Unavailable)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, resp.Header, errors.WithType(errors.Trace(err), coreerrors.IOError)
		}
	}
	return resp.StatusCode, resp.Header, nil
}

func statusError(status int, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case status == http.StatusNotFound:
		return errors.Annotatef(coreerrors.NotFound, "%s", msg)
	case status == http.StatusConflict:
		return errors.Annotatef(coreerrors.Conflict, "%s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Annotatef(coreerrors.Forbidden, "%s", msg)
	case status >= 500:
		return errors.WithType(errors.Errorf("%s: couchdb status %d", msg, status), coreerrors.Unavailable)
	}
	return errors.WithType(errors.Errorf("%s: couchdb status %d", msg, status), coreerrors.IOError)
}

// rev returns the current document revision, or "" when absent.
func (p *Provider) rev(ctx context.Context, db, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.base+"/"+db+"/"+url.PathEscape(id), nil)
	if err != nil {
		return "", errors.Trace(err)
	}
	if p.auth != "" {
		parts := strings.SplitN(p.auth, ":", 2)
		req.SetBasicAuth(parts[0], parts[1])
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.WithType(errors.Annotate(err, "couchdb request"), coreerrors.Unavailable)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return strings.Trim(resp.Header.Get("ETag"), `"`), nil
	case http.StatusNotFound:
		return "", nil
	}
	return "", statusError(resp.StatusCode, "fetching revision of %s/%s", db, id)
}

// Get implements storage.Provider.
func (p *Provider) Get(ctx context.Context, classID, id string) (object.Stored, error) {
	var doc map[string]interface{}
	status, _, err := p.do(ctx, http.MethodGet, "/"+p.dbName(classID)+"/"+url.PathEscape(id), nil, &doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status != http.StatusOK {
		return nil, statusError(status, "object %s/%s", classID, id)
	}
	return docToObject(doc), nil
}

// List implements storage.Provider.
func (p *Provider) List(ctx context.Context, classID string) ([]object.Stored, error) {
	var result struct {
		Rows []struct {
			Doc map[string]interface{} `json:"doc"`
		} `json:"rows"`
	}
	path := "/" + p.dbName(classID) + "/_all_docs?include_docs=true"
	status, _, err := p.do(ctx, http.MethodGet, path, nil, &result)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, statusError(status, "listing class %s", classID)
	}
	objects := make([]object.Stored, 0, len(result.Rows))
	for _, row := range result.Rows {
		if row.Doc != nil {
			objects = append(objects, docToObject(row.Doc))
		}
	}
	return objects, nil
}

// Put implements storage.Provider.
func (p *Provider) Put(ctx context.Context, classID, id string, obj object.Stored) error {
	db := p.dbName(classID)
	err := retry.Call(retry.CallArgs{
		Clock:    p.clock,
		Attempts: conflictAttempts,
		Delay:    50 * time.Millisecond,
		Stop:     ctx.Done(),
		IsFatalError: func(err error) bool {
			return !errors.Is(err, coreerrors.Conflict)
		},
		Func: func() error {
			rev, err := p.rev(ctx, db, id)
			if err != nil {
				return errors.Trace(err)
			}
			doc := make(map[string]interface{}, len(obj)+1)
			for k, v := range obj {
				doc[k] = v
			}
			if rev != "" {
				doc["_rev"] = rev
			}
			status, _, err := p.do(ctx, http.MethodPut, "/"+db+"/"+url.PathEscape(id), doc, nil)
			if err != nil {
				return errors.Trace(err)
			}
			if status != http.StatusCreated && status != http.StatusOK {
				return statusError(status, "storing object %s/%s", classID, id)
			}
			return nil
		},
	})
	return errors.Trace(err)
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, classID, id string) (bool, error) {
	db := p.dbName(classID)
	rev, err := p.rev(ctx, db, id)
	if err != nil {
		return false, errors.Trace(err)
	}
	if rev == "" {
		return false, nil
	}
	path := "/" + db + "/" + url.PathEscape(id) + "?rev=" + url.QueryEscape(rev)
	status, _, err := p.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK, http.StatusAccepted:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "deleting object %s/%s", classID, id)
}

// Exists implements storage.Provider.
func (p *Provider) Exists(ctx context.Context, classID string) (bool, error) {
	status, _, err := p.do(ctx, http.MethodHead, "/"+p.dbName(classID), nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "checking class %s", classID)
}

// Drop implements storage.Provider.
func (p *Provider) Drop(ctx context.Context, classID string) (bool, error) {
	status, _, err := p.do(ctx, http.MethodDelete, "/"+p.dbName(classID), nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK, http.StatusAccepted:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "dropping class %s", classID)
}

// Init implements storage.Provider.
func (p *Provider) Init(ctx context.Context, classID string) error {
	status, _, err := p.do(ctx, http.MethodPut, "/"+p.dbName(classID), nil, nil)
	if err != nil {
		return errors.Trace(err)
	}
	switch status {
	case http.StatusCreated, http.StatusAccepted, http.StatusPreconditionFailed:
		// 412 means the database already exists.
		return nil
	}
	return statusError(status, "creating class %s", classID)
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func docToObject(doc map[string]interface{}) object.Stored {
	obj := make(object.Stored, len(doc))
	for k, v := range doc {
		if k == "_id" || k == "_rev" {
			continue
		}
		obj[k] = v
	}
	return obj
}
