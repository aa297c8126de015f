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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
)

const (
	apiPrefix = "/meta"
	pingAPI   = "/ping"
)

// NewHandler creates the status API of svr, with prometheus metrics on
// /metrics.
func NewHandler(svr *server.Server) http.Handler {
	engine := negroni.New()
	engine.Use(negroni.NewRecovery())
	root := http.NewServeMux()
	root.Handle(apiPrefix+"/", createRouter(apiPrefix, svr))
	root.Handle("/metrics", promhttp.Handler())
	engine.UseHandler(root)
	return engine
}

func createRouter(prefix string, svr *server.Server) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})

	router := mux.NewRouter().PathPrefix(prefix).Subrouter()

	statusHandler := newStatusHandler(svr, rd)
	router.HandleFunc("/api/v1/status", statusHandler.Get).Methods("GET")

	confHandler := newConfHandler(svr, rd)
	router.HandleFunc("/api/v1/config", confHandler.Get).Methods("GET")

	logHandler := newLogHandler(svr, rd)
	router.HandleFunc("/api/v1/admin/log", logHandler.Handle).Methods("POST")

	gcHandler := newGCHandler(svr, rd)
	router.HandleFunc("/api/v1/gc", gcHandler.Get).Methods("GET")
	router.HandleFunc("/api/v1/gc/{tenant}", gcHandler.Vacuum).Methods("POST")

	catalogHandler := newCatalogHandler(svr, rd)
	router.HandleFunc("/api/v1/tenants", catalogHandler.ListTenants).Methods("GET")
	router.HandleFunc("/api/v1/tenants/{tenant}/databases", catalogHandler.ListDatabases).Methods("GET")
	router.HandleFunc("/api/v1/tenants/{tenant}/databases/{db}/tables", catalogHandler.ListTables).Methods("GET")
	router.HandleFunc("/api/v1/tenants/{tenant}/dropped", catalogHandler.ListDropped).Methods("GET")

	router.HandleFunc(pingAPI, func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")
	return router
}
