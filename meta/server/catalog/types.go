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
	"time"
)

// CreateOption selects what a create does when the name is taken.
type CreateOption int

const (
	// Create fails with an AlreadyExists error.
	Create CreateOption = iota
	// CreateIfNotExists returns the existing object untouched.
	CreateIfNotExists
	// CreateOrReplace soft-drops the existing object and binds the name to a
	// new one.
	CreateOrReplace
)

func (o CreateOption) String() string {
	switch o {
	case Create:
		return "create"
	case CreateIfNotExists:
		return "create_if_not_exists"
	case CreateOrReplace:
		return "create_or_replace"
	}
	return "unknown"
}

// DatabaseMeta is the value stored under a db id.
type DatabaseMeta struct {
	Engine        string            `msgpack:"engine"`
	EngineOptions map[string]string `msgpack:"engine_options"`
	Options       map[string]string `msgpack:"options"`
	Comment       string            `msgpack:"comment"`
	CreatedOn     time.Time         `msgpack:"created_on"`
	UpdatedOn     time.Time         `msgpack:"updated_on"`
	// DropOn is set when the database is soft-dropped.
	DropOn *time.Time `msgpack:"drop_on"`
}

// TableField is one column of a table schema.
type TableField struct {
	Name     string `msgpack:"name"`
	ColumnID uint32 `msgpack:"column_id"`
	DataType string `msgpack:"data_type"`
}

// TableSchema is the column list of a table or dictionary.
type TableSchema struct {
	Fields []TableField `msgpack:"fields"`
}

// Field returns the field named name.
func (s *TableSchema) Field(name string) (TableField, bool) {
	if s == nil {
		return TableField{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return TableField{}, false
}

// HasColumnID reports whether the schema has a column with id.
func (s *TableSchema) HasColumnID(id uint32) bool {
	if s == nil {
		return false
	}
	for _, f := range s.Fields {
		if f.ColumnID == id {
			return true
		}
	}
	return false
}

// TableIndex is an index declared inside a table meta.
type TableIndex struct {
	Name      string            `msgpack:"name"`
	ColumnIDs []uint32          `msgpack:"column_ids"`
	Sync      bool              `msgpack:"sync"`
	Options   map[string]string `msgpack:"options"`
}

// TableStatistics is maintained by the storage engine.
type TableStatistics struct {
	NumberOfRows     uint64 `msgpack:"number_of_rows"`
	DataBytes        uint64 `msgpack:"data_bytes"`
	CompressedBytes  uint64 `msgpack:"compressed_bytes"`
	NumberOfSegments uint64 `msgpack:"number_of_segments"`
	NumberOfBlocks   uint64 `msgpack:"number_of_blocks"`
}

// TableMeta is the value stored under a table id.
type TableMeta struct {
	Schema        *TableSchema          `msgpack:"schema"`
	Engine        string                `msgpack:"engine"`
	EngineOptions map[string]string     `msgpack:"engine_options"`
	Options       map[string]string     `msgpack:"options"`
	ClusterKey    string                `msgpack:"cluster_key"`
	ClusterKeySeq uint32                `msgpack:"cluster_key_seq"`
	Statistics    TableStatistics       `msgpack:"statistics"`
	Indexes       map[string]TableIndex `msgpack:"indexes"`
	// ColumnMaskPolicy maps a column name to its mask policy name.
	ColumnMaskPolicy map[string]string `msgpack:"column_mask_policy"`
	Comment          string            `msgpack:"comment"`
	CreatedOn        time.Time         `msgpack:"created_on"`
	UpdatedOn        time.Time         `msgpack:"updated_on"`
	// DropOn is set when the table is soft-dropped or staged.
	DropOn *time.Time `msgpack:"drop_on"`
}

// TableCopiedFileInfo records a file already loaded into a table.
type TableCopiedFileInfo struct {
	ETag          string     `msgpack:"etag"`
	ContentLength uint64     `msgpack:"content_length"`
	LastModified  *time.Time `msgpack:"last_modified"`
}

// IndexMeta is the value stored under an aggregating index id.
type IndexMeta struct {
	TableID   uint64     `msgpack:"table_id"`
	IndexType string     `msgpack:"index_type"`
	Query     string     `msgpack:"query"`
	CreatedOn time.Time  `msgpack:"created_on"`
	UpdatedOn *time.Time `msgpack:"updated_on"`
	DroppedOn *time.Time `msgpack:"dropped_on"`
}

// LockMeta is the value of a table lock revision.
type LockMeta struct {
	User       string     `msgpack:"user"`
	Node       string     `msgpack:"node"`
	QueryID    string     `msgpack:"query_id"`
	CreatedOn  time.Time  `msgpack:"created_on"`
	AcquiredOn *time.Time `msgpack:"acquired_on"`
}

// CatalogMeta is the value stored under a catalog id.
type CatalogMeta struct {
	CatalogType string            `msgpack:"catalog_type"`
	Options     map[string]string `msgpack:"options"`
	CreatedOn   time.Time         `msgpack:"created_on"`
}

// DictionaryMeta is the value stored under a dictionary id.
type DictionaryMeta struct {
	Source    string            `msgpack:"source"`
	Options   map[string]string `msgpack:"options"`
	Schema    *TableSchema      `msgpack:"schema"`
	Comment   string            `msgpack:"comment"`
	CreatedOn time.Time         `msgpack:"created_on"`
	UpdatedOn *time.Time        `msgpack:"updated_on"`
}

// DatabaseInfo is a resolved database.
type DatabaseInfo struct {
	DBID uint64
	// Seq is the seq of the database meta.
	Seq  uint64
	Name DatabaseNameIdent
	Meta *DatabaseMeta
}

// TableInfo is a resolved table.
type TableInfo struct {
	TableID uint64
	// Seq is the seq of the table meta.
	Seq  uint64
	DBID uint64
	Name string
	Meta *TableMeta
}

// IndexInfo is a resolved aggregating index.
type IndexInfo struct {
	IndexID uint64
	Seq     uint64
	Name    IndexNameIdent
	Meta    *IndexMeta
}

// LockInfo is one lock revision of a table.
type LockInfo struct {
	TableID  uint64
	Revision uint64
	Seq      uint64
	ExpireAt *time.Time
	Meta     *LockMeta
}

// CatalogInfo is a resolved catalog.
type CatalogInfo struct {
	CatalogID uint64
	Name      CatalogNameIdent
	Meta      *CatalogMeta
}

// DictionaryInfo is a resolved dictionary.
type DictionaryInfo struct {
	DictID uint64
	Seq    uint64
	Name   DictionaryNameIdent
	Meta   *DictionaryMeta
}

// CreateDatabaseReq creates a database.
type CreateDatabaseReq struct {
	CreateOption CreateOption
	NameIdent    DatabaseNameIdent
	Meta         DatabaseMeta
}

// CreateDatabaseReply is the result of CreateDatabase.
type CreateDatabaseReply struct {
	DBID uint64
}

// DropDatabaseReq drops a database.
type DropDatabaseReq struct {
	IfExists  bool
	NameIdent DatabaseNameIdent
}

// DropDatabaseReply is the result of DropDatabase. DBID is 0 when nothing
// was dropped.
type DropDatabaseReply struct {
	DBID uint64
}

// UndropDatabaseReq restores the last dropped database of a name.
type UndropDatabaseReq struct {
	NameIdent DatabaseNameIdent
}

// RenameDatabaseReq renames a database within its tenant.
type RenameDatabaseReq struct {
	IfExists  bool
	NameIdent DatabaseNameIdent
	NewDBName string
}

// CreateTableReq creates a table.
type CreateTableReq struct {
	CreateOption CreateOption
	NameIdent    TableNameIdent
	Meta         TableMeta
	// AsDropped stages the table: it is created invisible, in an orphan
	// id-history list, until CommitTableMeta.
	AsDropped bool
}

// CreateTableReply is the result of CreateTable.
type CreateTableReply struct {
	DBID    uint64
	TableID uint64
	// NewTable is false when CreateIfNotExists found an existing table.
	NewTable bool
	// OrphanTableName is the staging list name of an AsDropped table.
	OrphanTableName string
}

// CommitTableMetaReq makes a staged table visible under its name.
type CommitTableMetaReq struct {
	NameIdent       TableNameIdent
	TableID         uint64
	OrphanTableName string
	// PrevTableID is the table the staged one replaces, if any.
	PrevTableID *uint64
}

// DropTableByIDReq drops a table by id.
type DropTableByIDReq struct {
	IfExists bool
	Tenant   string
	TableID  uint64
}

// DropTableReply is the result of DropTableByID.
type DropTableReply struct {
	// Dropped is false when IfExists found nothing to drop.
	Dropped bool
}

// RenameTableReq renames a table, possibly into another database.
type RenameTableReq struct {
	IfExists     bool
	NameIdent    TableNameIdent
	NewDBName    string
	NewTableName string
}

// UndropTableReq restores the last dropped table of a name.
type UndropTableReq struct {
	NameIdent TableNameIdent
}

// UndropTableByIDReq restores a specific dropped table id under a name.
type UndropTableByIDReq struct {
	NameIdent TableNameIdent
	DBID      uint64
	TableID   uint64
	// Force replaces a live table bound to the name.
	Force bool
}

// TruncateTableReq removes the copied-file records of a table.
type TruncateTableReq struct {
	TableID uint64
	// BatchSize bounds the records deleted per transaction.
	BatchSize int
}

// UpsertTableOptionReq sets or removes (nil value) table options.
type UpsertTableOptionReq struct {
	TableID uint64
	// Seq is the meta seq the caller read. 0 matches any seq.
	Seq     uint64
	Options map[string]*string
}

// UpsertTableOptionReply is the result of UpsertTableOption.
type UpsertTableOptionReply struct {
	Seq uint64
}

// UpdateTableMetaReq replaces a table meta read at Seq.
type UpdateTableMetaReq struct {
	TableID uint64
	Seq     uint64
	NewMeta TableMeta
}

// UpsertTableCopiedFileReq records files copied into a table.
type UpsertTableCopiedFileReq struct {
	TableID  uint64
	FileInfo map[string]TableCopiedFileInfo
	TTL      time.Duration
	// InsertIfNotExists fails with DuplicatedUpsertFiles when a file is
	// already recorded.
	InsertIfNotExists bool
}

// UpdateMultiTableMetaReq updates several tables in one transaction.
type UpdateMultiTableMetaReq struct {
	UpdateTableMetas []UpdateTableMetaReq
	CopiedFiles      []UpsertTableCopiedFileReq
}

// UpdateMultiTableMetaReply lists the new meta seqs, by table id.
type UpdateMultiTableMetaReply struct {
	Seqs map[uint64]uint64
}

// SetTableColumnMaskPolicyReq sets or unsets (nil) the mask policy of a
// column.
type SetTableColumnMaskPolicyReq struct {
	Tenant     string
	TableID    uint64
	Seq        uint64
	ColumnName string
	NewPolicy  *string
}

// CreateTableIndexReq adds an index to a table meta.
type CreateTableIndexReq struct {
	CreateOption CreateOption
	TableID      uint64
	Name         string
	ColumnIDs    []uint32
	Sync         bool
	Options      map[string]string
}

// DropTableIndexReq removes an index from a table meta.
type DropTableIndexReq struct {
	IfExists bool
	TableID  uint64
	Name     string
}

// CreateIndexReq creates an aggregating index.
type CreateIndexReq struct {
	CreateOption CreateOption
	NameIdent    IndexNameIdent
	Meta         IndexMeta
}

// CreateIndexReply is the result of CreateIndex.
type CreateIndexReply struct {
	IndexID uint64
}

// DropIndexReq drops an aggregating index.
type DropIndexReq struct {
	IfExists  bool
	NameIdent IndexNameIdent
}

// ListIndexesReq lists the live aggregating indexes of a tenant.
type ListIndexesReq struct {
	Tenant string
	// TableID filters by table when set.
	TableID *uint64
}

// CreateLockRevReq creates a lock revision on a table.
type CreateLockRevReq struct {
	TableID uint64
	TTL     time.Duration
	User    string
	Node    string
	QueryID string
}

// CreateLockRevReply is the result of CreateLockRevision.
type CreateLockRevReply struct {
	Revision uint64
}

// ExtendLockRevReq refreshes the ttl of a lock revision.
type ExtendLockRevReq struct {
	TableID     uint64
	Revision    uint64
	TTL         time.Duration
	AcquireLock bool
}

// DeleteLockRevReq releases a lock revision.
type DeleteLockRevReq struct {
	TableID  uint64
	Revision uint64
}

// CreateCatalogReq creates a catalog.
type CreateCatalogReq struct {
	IfNotExists bool
	NameIdent   CatalogNameIdent
	Meta        CatalogMeta
}

// CreateCatalogReply is the result of CreateCatalog.
type CreateCatalogReply struct {
	CatalogID uint64
}

// DropCatalogReq drops a catalog.
type DropCatalogReq struct {
	IfExists  bool
	NameIdent CatalogNameIdent
}

// CreateDictionaryReq creates a dictionary.
type CreateDictionaryReq struct {
	CreateOption CreateOption
	NameIdent    DictionaryNameIdent
	Meta         DictionaryMeta
}

// CreateDictionaryReply is the result of CreateDictionary.
type CreateDictionaryReply struct {
	DictID uint64
}

// UpdateDictionaryReq replaces a dictionary meta.
type UpdateDictionaryReq struct {
	NameIdent DictionaryNameIdent
	Meta      DictionaryMeta
}

// DropDictionaryReq drops a dictionary.
type DropDictionaryReq struct {
	IfExists  bool
	NameIdent DictionaryNameIdent
}

// DroppedID identifies an object for GcDroppedTables. TableID 0 means the
// whole database.
type DroppedID struct {
	DBID    uint64
	TableID uint64
	// ListName is the id-history list name holding TableID, which for a
	// staged table is its orphan name.
	ListName string
}

// ListDroppedTableReq lists GC candidates of a tenant.
type ListDroppedTableReq struct {
	Tenant string
	// Limit bounds the number of returned ids, 0 means no limit.
	Limit int
}

// ListDroppedTableReply lists dropped objects older than the retention.
type ListDroppedTableReply struct {
	DroppedIDs []DroppedID
}

// GcDroppedTableReq permanently removes dropped objects.
type GcDroppedTableReq struct {
	Tenant     string
	DroppedIDs []DroppedID
}

// VacuumReply summarizes a Vacuum pass.
type VacuumReply struct {
	Databases int
	Tables    int
	Indexes   int
}
