// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.


package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/unrolled/render"
)

type catalogHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newCatalogHandler(svr *server.Server, rd *render.Render) *catalogHandler {
	return &catalogHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *catalogHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svr.GetAPI().ListTenants(r.Context())
	if err != nil {
		renderError(h.rd, w, err)
		return
	}
	if tenants == nil {
		tenants = []string{}
	}
	h.rd.JSON(w, http.StatusOK, tenants)
}

func (h *catalogHandler) ListDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.svr.GetAPI().ListDatabases(r.Context(), mux.Vars(r)["tenant"])
	if err != nil {
		renderError(h.rd, w, err)
		return
	}
	if dbs == nil {
		dbs = []*catalog.DatabaseInfo{}
	}
	h.rd.JSON(w, http.StatusOK, dbs)
}

func (h *catalogHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tables, err := h.svr.GetAPI().ListTables(r.Context(), catalog.DatabaseNameIdent{Tenant: vars["tenant"], DBName: vars["db"]})
	if err != nil {
		renderError(h.rd, w, err)
		return
	}
	if tables == nil {
		tables = []*catalog.TableInfo{}
	}
	h.rd.JSON(w, http.StatusOK, tables)
}

// ListDropped lists the objects past retention. The optional limit query
// parameter bounds the result.
func (h *catalogHandler) ListDropped(w http.ResponseWriter, r *http.Request) {
	req := &catalog.ListDroppedTableReq{Tenant: mux.Vars(r)["tenant"]}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.rd.JSON(w, http.StatusBadRequest, "invalid limit "+limit)
			return
		}
		req.Limit = n
	}
	reply, err := h.svr.GetAPI().ListDroppedTables(r.Context(), req)
	if err != nil {
		renderError(h.rd, w, err)
		return
	}
	if reply.DroppedIDs == nil {
		reply.DroppedIDs = []catalog.DroppedID{}
	}
	h.rd.JSON(w, http.StatusOK, reply.DroppedIDs)
}
