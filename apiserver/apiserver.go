// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver is the REST shell over the class model. It parses
// requests, derives the per-request engine options from headers, and
// maps error kinds onto HTTP statuses. All domain behavior lives in
// the engine; the shell stays thin.
package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/omc-ai/elementStore-sub001/apiserver/params"
	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/internal/engine"
	"github.com/omc-ai/elementStore-sub001/internal/export"
	"github.com/omc-ai/elementStore-sub001/internal/genesis"
)

var logger = loggo.GetLogger("elementstore.apiserver")

const (
	serviceName = "elementstore"

	// requestTimeout bounds every request; provider calls inherit it
	// through the context.
	requestTimeout = 30 * time.Second
)

// Request headers consumed by the shell.
const (
	headerUserID           = "X-User-Id"
	headerDisableOwnership = "X-Disable-Ownership"
	headerAllowCustomIDs   = "X-Allow-Custom-Ids"
	headerConnectionID     = "X-WS-Connection-Id"
)

// Config assembles a Server.
type Config struct {
	Model   *engine.Model
	Genesis *genesis.Loader
	Export  *export.Service
	Version string
}

// Validate checks the mandatory collaborators.
func (c Config) Validate() error {
	if c.Model == nil {
		return errors.New("nil Model")
	}
	if c.Genesis == nil {
		return errors.New("nil Genesis")
	}
	if c.Export == nil {
		return errors.New("nil Export")
	}
	return nil
}

// Server routes the REST surface.
type Server struct {
	config Config
	router *mux.Router
}

// New returns a Server over the given collaborators.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{config: config}
	s.router = s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), requestTimeout)
	defer cancel()
	s.router.ServeHTTP(w, req.WithContext(ctx))
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/info", s.handleInfo).Methods("GET")

	router.HandleFunc("/class", s.handleListClasses).Methods("GET")
	router.HandleFunc("/class", s.handleSetClass).Methods("POST")
	router.HandleFunc("/class/{id}", s.handleGetClass).Methods("GET")
	router.HandleFunc("/class/{id}", s.handleDeleteClass).Methods("DELETE")
	router.HandleFunc("/class/{id}/props", s.handleClassProps).Methods("GET")

	router.HandleFunc("/store/{class}", s.handleListObjects).Methods("GET")
	router.HandleFunc("/store/{class}", s.handleCreateObject).Methods("POST")
	router.HandleFunc("/store/{class}/{id}", s.handleGetObject).Methods("GET")
	router.HandleFunc("/store/{class}/{id}", s.handleUpdateObject).Methods("PUT")
	router.HandleFunc("/store/{class}/{id}", s.handleDeleteObject).Methods("DELETE")
	router.HandleFunc("/store/{class}/{id}/{prop}", s.handleGetField).Methods("GET")
	router.HandleFunc("/store/{class}/{id}/{prop}", s.handleSetField).Methods("PUT")

	router.HandleFunc("/find/{id}", s.handleFind).Methods("GET")
	router.HandleFunc("/query/{class}", s.handleQuery).Methods("GET")

	router.HandleFunc("/reset", s.handleReset).Methods("POST")
	router.HandleFunc("/tests", s.handleRunTests).Methods("POST")

	router.HandleFunc("/genesis", s.handleGenesisLoad).Methods("POST")
	router.HandleFunc("/genesis", s.handleGenesisVerify).Methods("GET")
	router.HandleFunc("/genesis/data", s.handleGenesisData).Methods("GET")

	router.HandleFunc("/export", s.handleCreateExport).Methods("POST")
	router.HandleFunc("/exports", s.handleListExports).Methods("GET")
	router.HandleFunc("/export/{hash}", s.handleGetExport).Methods("GET")
	router.HandleFunc("/export/{hash}", s.handleDeleteExport).Methods("DELETE")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sendStatusAndJSON(w, http.StatusNotFound, &params.Error{
			Error: "no such endpoint " + req.URL.Path,
			Code:  "not_found",
		})
	})
	return router
}

// requestOptions derives the engine options from the request headers.
// Ownership enforcement defaults on; the disable header is an explicit
// opt-out.
func requestOptions(req *http.Request) engine.Options {
	return engine.Options{
		Principal:        req.Header.Get(headerUserID),
		EnforceOwnership: !truthy(req.Header.Get(headerDisableOwnership)),
		AllowCustomIDs:   truthy(req.Header.Get(headerAllowCustomIDs)),
		Origin:           req.Header.Get(headerConnectionID),
	}
}

func truthy(value string) bool {
	switch value {
	case "", "0", "false", "no":
		return false
	}
	return true
}

func sendStatusAndJSON(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("cannot marshal response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// sendError maps the error kind onto an HTTP status and writes the
// uniform error body. Validation failures carry the field list.
func (s *Server) sendError(w http.ResponseWriter, req *http.Request, err error) {
	code := coreerrors.Code(err)
	status := statusFor(code)
	if status >= 500 {
		logger.Errorf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	} else {
		logger.Debugf("returning error from %s %s: %v", req.Method, req.URL, err)
	}
	sendStatusAndJSON(w, status, &params.Error{
		Error:   err.Error(),
		Code:    code,
		Details: coreerrors.ValidationFields(err),
	})
}

func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "conflict":
		return http.StatusConflict
	case "validation_failed", "cycle_detected":
		return http.StatusBadRequest
	case "unavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON request body into out, limited to a sane
// size.
func decodeBody(req *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, req.Body, 16<<20))
	if err := decoder.Decode(out); err != nil {
		return coreerrors.NewValidationError([]coreerrors.FieldError{{
			Field: "body", Code: "malformed", Reason: "request body is not valid JSON: " + err.Error(),
		}})
	}
	return nil
}
