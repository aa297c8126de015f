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

package catalog

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCode classifies a business rule violation.
type ErrCode int

// Error codes.
const (
	CodeDatabaseAlreadyExists ErrCode = iota + 1
	CodeUnknownDatabase
	CodeUnknownDatabaseID
	CodeCreateDatabaseWithDropTime
	CodeDropDbWithDropTime
	CodeUndropDbHasNoHistory
	CodeUndropDbWithNoDropTime
	CodeTableAlreadyExists
	CodeUnknownTable
	CodeUnknownTableID
	CodeCreateTableWithDropTime
	CodeDropTableWithDropTime
	CodeUndropTableHasNoHistory
	CodeUndropTableWithNoDropTime
	CodeUndropTableAlreadyExists
	CodeCommitTableMetaError
	CodeTableVersionMismatched
	CodeDuplicatedUpsertFiles
	CodeIndexAlreadyExists
	CodeUnknownIndex
	CodeDuplicatedIndexColumnID
	CodeUnknownColumnID
	CodeUnknownColumn
	CodeTableLockExpired
	CodeCatalogAlreadyExists
	CodeUnknownCatalog
	CodeDictionaryAlreadyExists
	CodeUnknownDictionary
	CodeTableHistoryCorrupted
	CodeMaskPolicyChangeNotAllowed
)

var codeNames = map[ErrCode]string{
	CodeDatabaseAlreadyExists:      "DatabaseAlreadyExists",
	CodeUnknownDatabase:            "UnknownDatabase",
	CodeUnknownDatabaseID:          "UnknownDatabaseId",
	CodeCreateDatabaseWithDropTime: "CreateDatabaseWithDropTime",
	CodeDropDbWithDropTime:         "DropDbWithDropTime",
	CodeUndropDbHasNoHistory:       "UndropDbHasNoHistory",
	CodeUndropDbWithNoDropTime:     "UndropDbWithNoDropTime",
	CodeTableAlreadyExists:         "TableAlreadyExists",
	CodeUnknownTable:               "UnknownTable",
	CodeUnknownTableID:             "UnknownTableId",
	CodeCreateTableWithDropTime:    "CreateTableWithDropTime",
	CodeDropTableWithDropTime:      "DropTableWithDropTime",
	CodeUndropTableHasNoHistory:    "UndropTableHasNoHistory",
	CodeUndropTableWithNoDropTime:  "UndropTableWithNoDropTime",
	CodeUndropTableAlreadyExists:   "UndropTableAlreadyExists",
	CodeCommitTableMetaError:       "CommitTableMetaError",
	CodeTableVersionMismatched:     "TableVersionMismatched",
	CodeDuplicatedUpsertFiles:      "DuplicatedUpsertFiles",
	CodeIndexAlreadyExists:         "IndexAlreadyExists",
	CodeUnknownIndex:               "UnknownIndex",
	CodeDuplicatedIndexColumnID:    "DuplicatedIndexColumnId",
	CodeUnknownColumnID:            "UnknownColumnId",
	CodeUnknownColumn:              "UnknownColumn",
	CodeTableLockExpired:           "TableLockExpired",
	CodeCatalogAlreadyExists:       "CatalogAlreadyExists",
	CodeUnknownCatalog:             "UnknownCatalog",
	CodeDictionaryAlreadyExists:    "DictionaryAlreadyExists",
	CodeUnknownDictionary:          "UnknownDictionary",
	CodeTableHistoryCorrupted:      "TableHistoryCorrupted",
	CodeMaskPolicyChangeNotAllowed: "MaskPolicyChangeNotAllowed",
}

func (c ErrCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrCode(%d)", int(c))
}

// Error is a business rule violation. It is returned as soon as it is
// detected and never retried.
type Error struct {
	Code ErrCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// Is matches any *Error with the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code ErrCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrDatabaseAlreadyExists      = &Error{Code: CodeDatabaseAlreadyExists}
	ErrUnknownDatabase            = &Error{Code: CodeUnknownDatabase}
	ErrUnknownDatabaseID          = &Error{Code: CodeUnknownDatabaseID}
	ErrCreateDatabaseWithDropTime = &Error{Code: CodeCreateDatabaseWithDropTime}
	ErrDropDbWithDropTime         = &Error{Code: CodeDropDbWithDropTime}
	ErrUndropDbHasNoHistory       = &Error{Code: CodeUndropDbHasNoHistory}
	ErrUndropDbWithNoDropTime     = &Error{Code: CodeUndropDbWithNoDropTime}
	ErrTableAlreadyExists         = &Error{Code: CodeTableAlreadyExists}
	ErrUnknownTable               = &Error{Code: CodeUnknownTable}
	ErrUnknownTableID             = &Error{Code: CodeUnknownTableID}
	ErrCreateTableWithDropTime    = &Error{Code: CodeCreateTableWithDropTime}
	ErrDropTableWithDropTime      = &Error{Code: CodeDropTableWithDropTime}
	ErrUndropTableHasNoHistory    = &Error{Code: CodeUndropTableHasNoHistory}
	ErrUndropTableWithNoDropTime  = &Error{Code: CodeUndropTableWithNoDropTime}
	ErrUndropTableAlreadyExists   = &Error{Code: CodeUndropTableAlreadyExists}
	ErrCommitTableMeta            = &Error{Code: CodeCommitTableMetaError}
	ErrTableVersionMismatched     = &Error{Code: CodeTableVersionMismatched}
	ErrDuplicatedUpsertFiles      = &Error{Code: CodeDuplicatedUpsertFiles}
	ErrIndexAlreadyExists         = &Error{Code: CodeIndexAlreadyExists}
	ErrUnknownIndex               = &Error{Code: CodeUnknownIndex}
	ErrDuplicatedIndexColumnID    = &Error{Code: CodeDuplicatedIndexColumnID}
	ErrUnknownColumnID            = &Error{Code: CodeUnknownColumnID}
	ErrUnknownColumn              = &Error{Code: CodeUnknownColumn}
	ErrTableLockExpired           = &Error{Code: CodeTableLockExpired}
	ErrCatalogAlreadyExists       = &Error{Code: CodeCatalogAlreadyExists}
	ErrUnknownCatalog             = &Error{Code: CodeUnknownCatalog}
	ErrDictionaryAlreadyExists    = &Error{Code: CodeDictionaryAlreadyExists}
	ErrUnknownDictionary          = &Error{Code: CodeUnknownDictionary}
	ErrTableHistoryCorrupted      = &Error{Code: CodeTableHistoryCorrupted}
	ErrMaskPolicyChangeNotAllowed = &Error{Code: CodeMaskPolicyChangeNotAllowed}
)

// TableVersionMismatchedError is returned when a table meta is not at the
// seq the caller based its update on.
type TableVersionMismatchedError struct {
	TableID  uint64
	Expected uint64
	Actual   uint64
	Context  string
}

func (e *TableVersionMismatchedError) Error() string {
	return fmt.Sprintf("%s: table %d expects seq %d but is at %d while %s",
		CodeTableVersionMismatched, e.TableID, e.Expected, e.Actual, e.Context)
}

// Is matches ErrTableVersionMismatched.
func (e *TableVersionMismatchedError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == CodeTableVersionMismatched
}

// ErrorCode returns the code of a business rule violation, or 0.
func ErrorCode(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var mismatched *TableVersionMismatchedError
	if errors.As(err, &mismatched) {
		return CodeTableVersionMismatched
	}
	return 0
}
