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
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/pkg/errors"
	"github.com/unrolled/render"
)

func readJSON(r io.ReadCloser, data interface{}) error {
	defer r.Close()

	b, err := ioutil.ReadAll(r)
	if err != nil {
		return errors.WithStack(err)
	}
	err = json.Unmarshal(b, data)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// errorStatus maps an error to the http status it is reported with.
func errorStatus(err error) int {
	switch errors.Cause(err) {
	case server.ErrGCThrottled:
		return http.StatusTooManyRequests
	case server.ErrGCQueueFull, server.ErrServerNotStarted:
		return http.StatusServiceUnavailable
	}
	switch catalog.ErrorCode(err) {
	case 0:
		return http.StatusInternalServerError
	case catalog.CodeUnknownDatabase, catalog.CodeUnknownDatabaseID,
		catalog.CodeUnknownTable, catalog.CodeUnknownTableID,
		catalog.CodeUnknownIndex, catalog.CodeUnknownCatalog, catalog.CodeUnknownDictionary:
		return http.StatusNotFound
	case catalog.CodeDatabaseAlreadyExists, catalog.CodeTableAlreadyExists,
		catalog.CodeIndexAlreadyExists, catalog.CodeCatalogAlreadyExists,
		catalog.CodeDictionaryAlreadyExists, catalog.CodeTableVersionMismatched:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func renderError(rd *render.Render, w http.ResponseWriter, err error) {
	rd.JSON(w, errorStatus(err), err.Error())
}
