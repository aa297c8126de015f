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

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/unrolled/render"
)

type gcHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newGCHandler(svr *server.Server, rd *render.Render) *gcHandler {
	return &gcHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *gcHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.GCStatus())
}

// Vacuum runs one vacuum pass over the tenant and reports what it removed.
func (h *gcHandler) Vacuum(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	res, err := h.svr.Vacuum(r.Context(), tenant)
	if err != nil {
		renderError(h.rd, w, err)
		return
	}
	if res.Error != "" {
		h.rd.JSON(w, http.StatusInternalServerError, res)
		return
	}
	h.rd.JSON(w, http.StatusOK, res)
}
