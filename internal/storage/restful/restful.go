// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package restful holds the generic REST storage provider. It maps
// engine operations onto a remote object service speaking the same
// container/object layout this server exposes:
//
//	GET/PUT/DELETE {base}/{class}/{id}
//	GET            {base}/{class}
//	PUT/DELETE     {base}/{class}
//
// It backs the "rest" @storage type and is the delegation path for
// chaining element stores.
package restful

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"

	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
)

const requestTimeout = 30 * time.Second

// Provider delegates storage to a remote REST service.
type Provider struct {
	base   string
	client *http.Client
}

// New returns a provider delegating to base.
func New(base string) (*Provider, error) {
	if base == "" {
		return nil, errors.New("rest base URL not specified")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Annotate(err, "parsing rest base URL")
	}
	return &Provider{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (p *Provider) objectURL(classID, id string) string {
	return p.base + "/" + url.PathEscape(classID) + "/" + url.PathEscape(id)
}

func (p *Provider) classURL(classID string) string {
	return p.base + "/" + url.PathEscape(classID)
}

func (p *Provider) do(ctx context.Context, method, target string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, errors.WithType(errors.Annotate(err, "rest storage request"), coreerrors.Unavailable)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errors.WithType(errors.Trace(err), coreerrors.IOError)
	}
	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, errors.WithType(errors.Trace(err), coreerrors.IOError)
		}
	}
	return resp.StatusCode, nil
}

func statusError(status int, format string, args ...interface{}) error {
	switch {
	case status == http.StatusNotFound:
		return errors.Annotatef(coreerrors.NotFound, format, args...)
	case status == http.StatusConflict:
		return errors.Annotatef(coreerrors.Conflict, format, args...)
	case status >= 500:
		return errors.WithType(errors.Errorf(format+": status %d", append(args, status)...), coreerrors.Unavailable)
	}
	return errors.WithType(errors.Errorf(format+": status %d", append(args, status)...), coreerrors.IOError)
}

// Get implements storage.Provider.
func (p *Provider) Get(ctx context.Context, classID, id string) (object.Stored, error) {
	var obj object.Stored
	status, err := p.do(ctx, http.MethodGet, p.objectURL(classID, id), nil, &obj)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status != http.StatusOK {
		return nil, statusError(status, "object %s/%s", classID, id)
	}
	return obj, nil
}

// List implements storage.Provider.
func (p *Provider) List(ctx context.Context, classID string) ([]object.Stored, error) {
	var objects []object.Stored
	status, err := p.do(ctx, http.MethodGet, p.classURL(classID), nil, &objects)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, statusError(status, "listing class %s", classID)
	}
	return objects, nil
}

// Put implements storage.Provider.
func (p *Provider) Put(ctx context.Context, classID, id string, obj object.Stored) error {
	status, err := p.do(ctx, http.MethodPut, p.objectURL(classID, id), obj, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return statusError(status, "storing object %s/%s", classID, id)
	}
	return nil
}

// Delete implements storage.Provider.
func (p *Provider) Delete(ctx context.Context, classID, id string) (bool, error) {
	status, err := p.do(ctx, http.MethodDelete, p.objectURL(classID, id), nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "deleting object %s/%s", classID, id)
}

// Exists implements storage.Provider.
func (p *Provider) Exists(ctx context.Context, classID string) (bool, error) {
	status, err := p.do(ctx, http.MethodHead, p.classURL(classID), nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "checking class %s", classID)
}

// Drop implements storage.Provider.
func (p *Provider) Drop(ctx context.Context, classID string) (bool, error) {
	status, err := p.do(ctx, http.MethodDelete, p.classURL(classID), nil, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(status, "dropping class %s", classID)
}

// Init implements storage.Provider.
func (p *Provider) Init(ctx context.Context, classID string) error {
	status, err := p.do(ctx, http.MethodPut, p.classURL(classID), nil, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent && status != http.StatusConflict {
		return statusError(status, "creating class %s", classID)
	}
	return nil
}

// Close implements storage.Provider.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
