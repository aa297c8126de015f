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
	"time"

	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/unrolled/render"
)

type status struct {
	Name           string    `json:"name"`
	Backend        string    `json:"backend"`
	Version        string    `json:"version"`
	GitHash        string    `json:"git_hash"`
	StorageVersion string    `json:"storage_version"`
	StartTime      time.Time `json:"start_time"`
}

type statusHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newStatusHandler(svr *server.Server, rd *render.Render) *statusHandler {
	return &statusHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *statusHandler) Get(w http.ResponseWriter, r *http.Request) {
	version := h.svr.StorageVersion()
	h.rd.JSON(w, http.StatusOK, &status{
		Name:           h.svr.Name(),
		Backend:        h.svr.GetConfig().Backend,
		Version:        server.MetaReleaseVersion,
		GitHash:        server.MetaGitHash,
		StorageVersion: version.String(),
		StartTime:      h.svr.StartTime(),
	})
}

type confHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newConfHandler(svr *server.Server, rd *render.Render) *confHandler {
	return &confHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *confHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.svr.GetConfig())
}

type logHandler struct {
	svr *server.Server
	rd  *render.Render
}

func newLogHandler(svr *server.Server, rd *render.Render) *logHandler {
	return &logHandler{
		svr: svr,
		rd:  rd,
	}
}

func (h *logHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var level string
	if err := readJSON(r.Body, &level); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svr.SetLogLevel(level); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}
