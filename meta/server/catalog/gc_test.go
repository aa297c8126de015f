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

	. "github.com/pingcap/check"
)

func (s *testCatalogSuite) dropTable(c *C, tableID uint64) {
	reply, err := s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: tableID})
	c.Assert(err, IsNil)
	c.Assert(reply.Dropped, IsTrue)
}

func (s *testCatalogSuite) TestGCDroppedTable(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	tableID := s.createTable(c, "t1", "d1", "t")
	s.dropTable(c, tableID)

	s.advance(time.Hour)
	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, HasLen, 0)

	s.advance(24 * time.Hour)
	dropped, err = s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, DeepEquals, []DroppedID{{DBID: dbID, TableID: tableID, ListName: "t"}})

	reply, err := s.api.GcDroppedTables(s.ctx, &GcDroppedTableReq{Tenant: "t1", DroppedIDs: dropped.DroppedIDs})
	c.Assert(err, IsNil)
	c.Assert(reply.Tables, Equals, 1)
	c.Assert(reply.Databases, Equals, 0)

	_, err = s.api.GetTableByID(s.ctx, tableID)
	assertCode(c, err, CodeUnknownTableID)
	c.Assert(s.idList(c, TableIDListKey{DBID: dbID, TableName: "t"}), IsNil)
	err = s.api.UndropTable(s.ctx, &UndropTableReq{NameIdent: ident})
	assertCode(c, err, CodeUndropTableHasNoHistory)

	// A second pass finds nothing.
	reply, err = s.api.GcDroppedTables(s.ctx, &GcDroppedTableReq{Tenant: "t1", DroppedIDs: dropped.DroppedIDs})
	c.Assert(err, IsNil)
	c.Assert(reply.Tables, Equals, 0)
}

func (s *testCatalogSuite) TestGCKeepsReplacedTableHistory(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	first := s.createTable(c, "t1", "d1", "t")
	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, CreateOption: CreateOrReplace})
	c.Assert(err, IsNil)

	s.advance(25 * time.Hour)
	gc, err := s.api.Vacuum(s.ctx, "t1", 0)
	c.Assert(err, IsNil)
	c.Assert(gc.Tables, Equals, 1)
	_, err = s.api.GetTableByID(s.ctx, first)
	assertCode(c, err, CodeUnknownTableID)

	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, reply.TableID)
	c.Assert(s.idList(c, TableIDListKey{DBID: dbID, TableName: "t"}), DeepEquals, []uint64{reply.TableID})
}

func (s *testCatalogSuite) TestGCDroppedDatabase(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	t1 := s.createTable(c, "t1", "d1", "a")
	t2 := s.createTable(c, "t1", "d1", "b")
	s.dropTable(c, t2)

	policy := "mask"
	c.Assert(s.api.SetTableColumnMaskPolicy(s.ctx, &SetTableColumnMaskPolicyReq{
		Tenant: "t1", TableID: t1, ColumnName: "a", NewPolicy: &policy,
	}), IsNil)
	_, err := s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		CopiedFiles: []UpsertTableCopiedFileReq{{
			TableID:  t1,
			FileInfo: map[string]TableCopiedFileInfo{"f1": {ETag: "e1"}, "f2": {ETag: "e2"}},
		}},
	})
	c.Assert(err, IsNil)
	_, err = s.api.CreateLockRevision(s.ctx, &CreateLockRevReq{TableID: t1, TTL: 72 * time.Hour, User: "root"})
	c.Assert(err, IsNil)
	_, err = s.api.CreateIndex(s.ctx, &CreateIndexReq{
		NameIdent: IndexNameIdent{Tenant: "t1", IndexName: "agg"},
		Meta:      IndexMeta{TableID: t1, Query: "select count(*) from d1.a"},
	})
	c.Assert(err, IsNil)
	_, err = s.api.CreateDictionary(s.ctx, &CreateDictionaryReq{
		NameIdent: DictionaryNameIdent{Tenant: "t1", DBID: dbID, DictName: "dict"},
		Meta:      DictionaryMeta{Source: "mysql", Schema: testSchema()},
	})
	c.Assert(err, IsNil)

	_, err = s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: DatabaseNameIdent{Tenant: "t1", DBName: "d1"}})
	c.Assert(err, IsNil)
	s.advance(25 * time.Hour)

	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, DeepEquals, []DroppedID{{DBID: dbID}})

	reply, err := s.api.Vacuum(s.ctx, "t1", 0)
	c.Assert(err, IsNil)
	c.Assert(reply.Databases, Equals, 1)
	c.Assert(reply.Tables, Equals, 2)
	c.Assert(s.catalogKeys(c), HasLen, 0)

	err = s.api.UndropDatabase(s.ctx, &UndropDatabaseReq{NameIdent: DatabaseNameIdent{Tenant: "t1", DBName: "d1"}})
	assertCode(c, err, CodeUndropDbHasNoHistory)
}

func (s *testCatalogSuite) TestGCStagedTable(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{
		NameIdent: TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"},
		AsDropped: true,
	})
	c.Assert(err, IsNil)

	s.advance(25 * time.Hour)
	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, DeepEquals, []DroppedID{{DBID: dbID, TableID: reply.TableID, ListName: reply.OrphanTableName}})

	gc, err := s.api.Vacuum(s.ctx, "t1", 0)
	c.Assert(err, IsNil)
	c.Assert(gc.Tables, Equals, 1)
	c.Assert(s.idList(c, TableIDListKey{DBID: dbID, TableName: reply.OrphanTableName}), IsNil)
	_, err = s.api.GetTableByID(s.ctx, reply.TableID)
	assertCode(c, err, CodeUnknownTableID)
}

func (s *testCatalogSuite) TestGCSkipsUndroppedTable(c *C) {
	s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	tableID := s.createTable(c, "t1", "d1", "t")
	s.dropTable(c, tableID)
	s.advance(25 * time.Hour)

	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, HasLen, 1)
	c.Assert(s.api.UndropTable(s.ctx, &UndropTableReq{NameIdent: ident}), IsNil)

	reply, err := s.api.GcDroppedTables(s.ctx, &GcDroppedTableReq{Tenant: "t1", DroppedIDs: dropped.DroppedIDs})
	c.Assert(err, IsNil)
	c.Assert(reply.Tables, Equals, 0)
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, tableID)
}

func (s *testCatalogSuite) TestListDroppedTablesLimit(c *C) {
	s.createDB(c, "t1", "d1")
	s.createDB(c, "t1", "d2")
	for _, name := range []string{"a", "b", "c"} {
		s.dropTable(c, s.createTable(c, "t1", "d1", name))
	}
	s.advance(25 * time.Hour)

	for _, limit := range []int{1, 2} {
		dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1", Limit: limit})
		c.Assert(err, IsNil)
		c.Assert(dropped.DroppedIDs, HasLen, limit)
	}
	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, HasLen, 3)

	reply, err := s.api.Vacuum(s.ctx, "t1", 2)
	c.Assert(err, IsNil)
	c.Assert(reply.Tables, Equals, 2)
	reply, err = s.api.Vacuum(s.ctx, "t1", 2)
	c.Assert(err, IsNil)
	c.Assert(reply.Tables, Equals, 1)

	// Other tenants are untouched.
	dropped, err = s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t2"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, HasLen, 0)
}

func (s *testCatalogSuite) TestListTenants(c *C) {
	tenants, err := s.api.ListTenants(s.ctx)
	c.Assert(err, IsNil)
	c.Assert(tenants, HasLen, 0)

	s.createDB(c, "t2", "d1")
	s.createDB(c, "t1", "d1")
	s.createDB(c, "t1", "d2")
	s.createDB(c, "a/b", "d1")
	tenants, err = s.api.ListTenants(s.ctx)
	c.Assert(err, IsNil)
	c.Assert(tenants, DeepEquals, []string{"a/b", "t1", "t2"})
}
