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
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	databasePrefix         = "__fd_database"
	databaseByIDPrefix     = "__fd_database_by_id"
	databaseIDToNamePrefix = "__fd_database_id_to_name"
	dbIDListPrefix         = "__fd_db_id_list"

	tablePrefix           = "__fd_table"
	tableByIDPrefix       = "__fd_table_by_id"
	tableIDToNamePrefix   = "__fd_table_id_to_name"
	tableIDListPrefix     = "__fd_table_id_list"
	tableCopiedFilePrefix = "__fd_table_copied_files"
	tableLockPrefix       = "__fd_table_lock"

	indexPrefix         = "__fd_index"
	indexByIDPrefix     = "__fd_index_by_id"
	indexIDToNamePrefix = "__fd_index_id_to_name"

	catalogPrefix         = "__fd_catalog"
	catalogByIDPrefix     = "__fd_catalog_by_id"
	catalogIDToNamePrefix = "__fd_catalog_id_to_name"

	dictionaryPrefix     = "__fd_dictionary"
	dictionaryByIDPrefix = "__fd_dictionary_by_id"

	maskPolicyTableIDListPrefix = "__fd_mask_policy_table_id_list"

	orphanNamePrefix = "orphan@"
)

func escape(s string) string {
	return url.PathEscape(s)
}

func joinKey(prefix string, segments ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String()
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// dirOf returns the listing prefix of keys under prefix/segments.
func dirOf(prefix string, segments ...string) string {
	return joinKey(prefix, segments...) + "/"
}

// lastSegment returns the unescaped last segment of a listed key.
func lastSegment(key string) (string, error) {
	i := strings.LastIndexByte(key, '/')
	if i < 0 {
		return "", errors.Errorf("malformed key %q", key)
	}
	s, err := url.PathUnescape(key[i+1:])
	if err != nil {
		return "", errors.Wrapf(err, "malformed key %q", key)
	}
	return s, nil
}

// firstSegment returns the unescaped segment of key right after prefix.
func firstSegment(key, prefix string) (string, error) {
	if !strings.HasPrefix(key, prefix+"/") {
		return "", errors.Errorf("key %q is not under %q", key, prefix)
	}
	rest := key[len(prefix)+1:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	s, err := url.PathUnescape(rest)
	if err != nil {
		return "", errors.Wrapf(err, "malformed key %q", key)
	}
	return s, nil
}

func lastSegmentU64(key string) (uint64, error) {
	s, err := lastSegment(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed key %q", key)
	}
	return v, nil
}

// OrphanName returns the synthetic table name staging a not yet committed
// table created at unixNanos.
func OrphanName(unixNanos int64) string {
	return orphanNamePrefix + strconv.FormatInt(unixNanos, 10)
}

// IsOrphanName reports whether name is a synthetic orphan name.
func IsOrphanName(name string) bool {
	return strings.HasPrefix(name, orphanNamePrefix)
}

// DatabaseNameIdent names a database: tenant/db -> db_id.
type DatabaseNameIdent struct {
	Tenant string `msgpack:"tenant"`
	DBName string `msgpack:"db_name"`
}

// StringKey implements kvapi.Key.
func (k DatabaseNameIdent) StringKey() string {
	return joinKey(databasePrefix, escape(k.Tenant), escape(k.DBName))
}

func (k DatabaseNameIdent) String() string {
	return fmt.Sprintf("'%s'.'%s'", k.Tenant, k.DBName)
}

// DatabaseID keys a DatabaseMeta.
type DatabaseID struct {
	DBID uint64
}

// StringKey implements kvapi.Key.
func (k DatabaseID) StringKey() string {
	return joinKey(databaseByIDPrefix, u64(k.DBID))
}

// DatabaseIDToName keys the reverse index db_id -> DatabaseNameIdent.
type DatabaseIDToName struct {
	DBID uint64
}

// StringKey implements kvapi.Key.
func (k DatabaseIDToName) StringKey() string {
	return joinKey(databaseIDToNamePrefix, u64(k.DBID))
}

// DBIDListKey keys the history of db ids bound to a database name.
type DBIDListKey struct {
	Tenant string
	DBName string
}

// StringKey implements kvapi.Key.
func (k DBIDListKey) StringKey() string {
	return joinKey(dbIDListPrefix, escape(k.Tenant), escape(k.DBName))
}

// TableNameIdent names a table as the sql layer sees it.
type TableNameIdent struct {
	Tenant    string
	DBName    string
	TableName string
}

func (k TableNameIdent) dbIdent() DatabaseNameIdent {
	return DatabaseNameIdent{Tenant: k.Tenant, DBName: k.DBName}
}

func (k TableNameIdent) String() string {
	return fmt.Sprintf("'%s'.'%s'.'%s'", k.Tenant, k.DBName, k.TableName)
}

// DBIDTableName names a table inside a database: db_id/table -> table_id.
// It is also the value of the table id-to-name reverse index.
type DBIDTableName struct {
	DBID      uint64 `msgpack:"db_id"`
	TableName string `msgpack:"table_name"`
}

// StringKey implements kvapi.Key.
func (k DBIDTableName) StringKey() string {
	return joinKey(tablePrefix, u64(k.DBID), escape(k.TableName))
}

// TableID keys a TableMeta.
type TableID struct {
	TableID uint64
}

// StringKey implements kvapi.Key.
func (k TableID) StringKey() string {
	return joinKey(tableByIDPrefix, u64(k.TableID))
}

// TableIDToName keys the reverse index table_id -> DBIDTableName.
type TableIDToName struct {
	TableID uint64
}

// StringKey implements kvapi.Key.
func (k TableIDToName) StringKey() string {
	return joinKey(tableIDToNamePrefix, u64(k.TableID))
}

// TableIDListKey keys the history of table ids bound to a table name,
// including synthetic orphan names.
type TableIDListKey struct {
	DBID      uint64
	TableName string
}

// StringKey implements kvapi.Key.
func (k TableIDListKey) StringKey() string {
	return joinKey(tableIDListPrefix, u64(k.DBID), escape(k.TableName))
}

// TableCopiedFileKey keys one copied-file record of a table.
type TableCopiedFileKey struct {
	TableID uint64
	File    string
}

// StringKey implements kvapi.Key.
func (k TableCopiedFileKey) StringKey() string {
	return joinKey(tableCopiedFilePrefix, u64(k.TableID), escape(k.File))
}

// TableLockKey keys one lock revision of a table.
type TableLockKey struct {
	TableID  uint64
	Revision uint64
}

// StringKey implements kvapi.Key.
func (k TableLockKey) StringKey() string {
	return joinKey(tableLockPrefix, u64(k.TableID), u64(k.Revision))
}

// IndexNameIdent names an aggregating index: tenant/index -> index_id.
type IndexNameIdent struct {
	Tenant    string `msgpack:"tenant"`
	IndexName string `msgpack:"index_name"`
}

// StringKey implements kvapi.Key.
func (k IndexNameIdent) StringKey() string {
	return joinKey(indexPrefix, escape(k.Tenant), escape(k.IndexName))
}

// IndexID keys an IndexMeta.
type IndexID struct {
	IndexID uint64
}

// StringKey implements kvapi.Key.
func (k IndexID) StringKey() string {
	return joinKey(indexByIDPrefix, u64(k.IndexID))
}

// IndexIDToName keys the reverse index index_id -> IndexNameIdent.
type IndexIDToName struct {
	IndexID uint64
}

// StringKey implements kvapi.Key.
func (k IndexIDToName) StringKey() string {
	return joinKey(indexIDToNamePrefix, u64(k.IndexID))
}

// CatalogNameIdent names a catalog: tenant/catalog -> catalog_id.
type CatalogNameIdent struct {
	Tenant      string `msgpack:"tenant"`
	CatalogName string `msgpack:"catalog_name"`
}

// StringKey implements kvapi.Key.
func (k CatalogNameIdent) StringKey() string {
	return joinKey(catalogPrefix, escape(k.Tenant), escape(k.CatalogName))
}

// CatalogID keys a CatalogMeta.
type CatalogID struct {
	CatalogID uint64
}

// StringKey implements kvapi.Key.
func (k CatalogID) StringKey() string {
	return joinKey(catalogByIDPrefix, u64(k.CatalogID))
}

// CatalogIDToName keys the reverse index catalog_id -> CatalogNameIdent.
type CatalogIDToName struct {
	CatalogID uint64
}

// StringKey implements kvapi.Key.
func (k CatalogIDToName) StringKey() string {
	return joinKey(catalogIDToNamePrefix, u64(k.CatalogID))
}

// DictionaryNameIdent names a dictionary inside a database.
type DictionaryNameIdent struct {
	Tenant   string
	DBID     uint64
	DictName string
}

// StringKey implements kvapi.Key.
func (k DictionaryNameIdent) StringKey() string {
	return joinKey(dictionaryPrefix, escape(k.Tenant), u64(k.DBID), escape(k.DictName))
}

// DictionaryID keys a DictionaryMeta.
type DictionaryID struct {
	DictID uint64
}

// StringKey implements kvapi.Key.
func (k DictionaryID) StringKey() string {
	return joinKey(dictionaryByIDPrefix, u64(k.DictID))
}

// MaskPolicyTableIDListKey keys the ids of tables using a column mask policy.
type MaskPolicyTableIDListKey struct {
	Tenant     string
	PolicyName string
}

// StringKey implements kvapi.Key.
func (k MaskPolicyTableIDListKey) StringKey() string {
	return joinKey(maskPolicyTableIDListPrefix, escape(k.Tenant), escape(k.PolicyName))
}

// rawKey is a key already in string form, as returned by a listing.
type rawKey string

func (k rawKey) StringKey() string { return string(k) }
