// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/omc-ai/elementStore-sub001/apiserver/params"
	coreerrors "github.com/omc-ai/elementStore-sub001/core/errors"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/engine"
	"github.com/omc-ai/elementStore-sub001/internal/export"
)

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	sendStatusAndJSON(w, http.StatusOK, &params.Health{
		Status:  "ok",
		Service: serviceName,
		Version: s.config.Version,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, req *http.Request) {
	sendStatusAndJSON(w, http.StatusOK, &params.Info{
		Service: serviceName,
		Version: s.config.Version,
		Endpoints: []params.Endpoint{
			{Method: "GET", Path: "/health", Description: "service liveness"},
			{Method: "GET", Path: "/info", Description: "this catalogue"},
			{Method: "GET", Path: "/class", Description: "list class definitions"},
			{Method: "POST", Path: "/class", Description: "create or update a schema object"},
			{Method: "GET", Path: "/class/{id}", Description: "class definition"},
			{Method: "DELETE", Path: "/class/{id}", Description: "delete an empty class"},
			{Method: "GET", Path: "/class/{id}/props", Description: "resolved property set"},
			{Method: "GET", Path: "/store/{class}", Description: "list objects"},
			{Method: "POST", Path: "/store/{class}", Description: "create an object"},
			{Method: "GET", Path: "/store/{class}/{id}", Description: "single object"},
			{Method: "PUT", Path: "/store/{class}/{id}", Description: "partial update"},
			{Method: "DELETE", Path: "/store/{class}/{id}", Description: "delete an object"},
			{Method: "GET", Path: "/store/{class}/{id}/{prop}", Description: "single field, relations resolved one level"},
			{Method: "PUT", Path: "/store/{class}/{id}/{prop}", Description: "set a single field"},
			{Method: "GET", Path: "/find/{id}", Description: "cross-class lookup by id"},
			{Method: "GET", Path: "/query/{class}", Description: "equality query with _sort/_order/_limit/_offset"},
			{Method: "POST", Path: "/reset", Description: "drop non-system classes and re-seed"},
			{Method: "POST", Path: "/tests", Description: "run the scripted self-test"},
			{Method: "POST", Path: "/genesis", Description: "apply the seed"},
			{Method: "GET", Path: "/genesis", Description: "dry-run the seed, reporting drift"},
			{Method: "GET", Path: "/genesis/data", Description: "canonical seed content"},
			{Method: "POST", Path: "/export", Description: "snapshot a bundle"},
			{Method: "GET", Path: "/exports", Description: "list bundles, newest first"},
			{Method: "GET", Path: "/export/{hash}", Description: "bundle payload"},
			{Method: "DELETE", Path: "/export/{hash}", Description: "delete a bundle"},
		},
	})
}

func (s *Server) handleListClasses(w http.ResponseWriter, req *http.Request) {
	classes, err := s.config.Model.Classes(req.Context())
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	out := make([]object.Stored, len(classes))
	for i, cls := range classes {
		out[i] = cls.Stored()
	}
	sendStatusAndJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetClass(w http.ResponseWriter, req *http.Request) {
	cls, err := s.config.Model.GetClass(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, cls.Stored())
}

func (s *Server) handleClassProps(w http.ResponseWriter, req *http.Request) {
	props, err := s.config.Model.ClassProps(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	out := make([]object.Stored, len(props))
	for i, prop := range props {
		out[i] = prop.Stored()
	}
	sendStatusAndJSON(w, http.StatusOK, out)
}

// handleSetClass writes a schema object. The body's class_id selects
// the meta-class, defaulting to @class, so prop and storage
// definitions are posted through the same endpoint.
func (s *Server) handleSetClass(w http.ResponseWriter, req *http.Request) {
	var body object.Stored
	if err := decodeBody(req, &body); err != nil {
		s.sendError(w, req, err)
		return
	}
	classID := body.ClassID()
	if classID == "" {
		classID = object.MetaClass
	}
	if !object.IsMeta(classID) {
		s.sendError(w, req, coreerrors.NewValidationError([]coreerrors.FieldError{{
			Field: "class_id", Code: "invalid",
			Reason: "class_id must name a meta-class",
		}}))
		return
	}
	// Schema objects always carry caller-chosen ids.
	opts := requestOptions(req)
	opts.AllowCustomIDs = true
	obj, err := s.config.Model.SetObject(req.Context(), opts, classID, body)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, req *http.Request) {
	err := s.config.Model.DeleteClass(req.Context(), requestOptions(req), mux.Vars(req)["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, &params.Deleted{Deleted: true})
}

func (s *Server) handleListObjects(w http.ResponseWriter, req *http.Request) {
	objects, err := s.config.Model.ListObjects(req.Context(), requestOptions(req), mux.Vars(req)["class"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, objects)
}

func (s *Server) handleGetObject(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	obj, err := s.config.Model.GetObject(req.Context(), requestOptions(req), vars["class"], vars["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

func (s *Server) handleFind(w http.ResponseWriter, req *http.Request) {
	obj, err := s.config.Model.FindObject(req.Context(), requestOptions(req), mux.Vars(req)["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

func (s *Server) handleCreateObject(w http.ResponseWriter, req *http.Request) {
	var body object.Stored
	if err := decodeBody(req, &body); err != nil {
		s.sendError(w, req, err)
		return
	}
	obj, err := s.config.Model.SetObject(req.Context(), requestOptions(req), mux.Vars(req)["class"], body)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

func (s *Server) handleUpdateObject(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	var body object.Stored
	if err := decodeBody(req, &body); err != nil {
		s.sendError(w, req, err)
		return
	}
	body[object.AttrID] = vars["id"]
	obj, err := s.config.Model.SetObject(req.Context(), requestOptions(req), vars["class"], body)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	deleted, err := s.config.Model.DeleteObject(req.Context(), requestOptions(req), vars["class"], vars["id"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, &params.Deleted{Deleted: deleted})
}

func (s *Server) handleGetField(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	value, err := s.config.Model.GetField(req.Context(), requestOptions(req), vars["class"], vars["id"], vars["prop"], true)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, value)
}

// handleSetField routes a single-field write through the full
// pipeline. The body is the bare JSON value.
func (s *Server) handleSetField(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	var value interface{}
	if err := decodeBody(req, &value); err != nil {
		s.sendError(w, req, err)
		return
	}
	obj, err := s.config.Model.SetField(req.Context(), requestOptions(req), vars["class"], vars["id"], vars["prop"], value)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, obj)
}

// Reserved query parameters of /query/{class}.
const (
	paramSort   = "_sort"
	paramOrder  = "_order"
	paramLimit  = "_limit"
	paramOffset = "_offset"
)

func (s *Server) handleQuery(w http.ResponseWriter, req *http.Request) {
	values := req.URL.Query()
	var q engine.QueryOptions
	var fieldErrs []coreerrors.FieldError

	q.Sort = values.Get(paramSort)
	switch order := values.Get(paramOrder); order {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		fieldErrs = append(fieldErrs, coreerrors.FieldError{
			Field: paramOrder, Code: "invalid", Reason: "_order must be asc or desc",
		})
	}
	if raw := values.Get(paramLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			fieldErrs = append(fieldErrs, coreerrors.FieldError{
				Field: paramLimit, Code: "invalid", Reason: "_limit must be a natural number",
			})
		} else {
			q.Limit = limit
		}
	}
	if raw := values.Get(paramOffset); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			fieldErrs = append(fieldErrs, coreerrors.FieldError{
				Field: paramOffset, Code: "invalid", Reason: "_offset must be zero or positive",
			})
		} else {
			q.Offset = offset
		}
	}
	if len(fieldErrs) > 0 {
		s.sendError(w, req, coreerrors.NewValidationError(fieldErrs))
		return
	}

	filters := make(map[string]interface{})
	for field, raw := range values {
		switch field {
		case paramSort, paramOrder, paramLimit, paramOffset:
			continue
		}
		if len(raw) > 0 {
			filters[field] = raw[0]
		}
	}

	objects, err := s.config.Model.Query(req.Context(), requestOptions(req), mux.Vars(req)["class"], filters, q)
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, objects)
}

func (s *Server) handleReset(w http.ResponseWriter, req *http.Request) {
	cleared, err := s.config.Model.Reset(req.Context())
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	if cleared == nil {
		cleared = []string{}
	}
	sendStatusAndJSON(w, http.StatusOK, &params.Reset{Cleared: cleared})
}

func (s *Server) handleRunTests(w http.ResponseWriter, req *http.Request) {
	report, err := s.config.Model.RunTests(req.Context())
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, report)
}

func (s *Server) handleGenesisLoad(w http.ResponseWriter, req *http.Request) {
	result, err := s.config.Genesis.Load(req.Context())
	if err != nil {
		s.sendError(w, req, errors.WithType(err, coreerrors.IOError))
		return
	}
	sendStatusAndJSON(w, http.StatusOK, result)
}

func (s *Server) handleGenesisVerify(w http.ResponseWriter, req *http.Request) {
	result, err := s.config.Genesis.Verify(req.Context())
	if err != nil {
		s.sendError(w, req, errors.WithType(err, coreerrors.IOError))
		return
	}
	sendStatusAndJSON(w, http.StatusOK, result)
}

func (s *Server) handleGenesisData(w http.ResponseWriter, req *http.Request) {
	data, err := s.config.Genesis.SeedData()
	if err != nil {
		s.sendError(w, req, errors.WithType(err, coreerrors.IOError))
		return
	}
	sendStatusAndJSON(w, http.StatusOK, data)
}

func (s *Server) handleCreateExport(w http.ResponseWriter, req *http.Request) {
	meta, err := s.config.Export.Create(req.Context())
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, meta)
}

func (s *Server) handleListExports(w http.ResponseWriter, req *http.Request) {
	list, err := s.config.Export.List()
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	if list == nil {
		list = []*export.Metadata{}
	}
	sendStatusAndJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetExport(w http.ResponseWriter, req *http.Request) {
	bundle, err := s.config.Export.Get(mux.Vars(req)["hash"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleDeleteExport(w http.ResponseWriter, req *http.Request) {
	deleted, err := s.config.Export.Delete(mux.Vars(req)["hash"])
	if err != nil {
		s.sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, &params.Deleted{Deleted: deleted})
}
