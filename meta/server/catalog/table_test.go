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
	"sync"
	"time"

	"github.com/pingcap-incubator/tinymeta/meta/server/id"
	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
)

func (s *testCatalogSuite) TestCreateTable(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	tableID := s.createTable(c, "t1", "d1", "t")

	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, tableID)
	c.Assert(info.DBID, Equals, dbID)
	c.Assert(info.Meta.Engine, Equals, "fuse")
	c.Assert(info.Meta.Schema.Fields, HasLen, 3)

	_, err = s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident})
	c.Assert(errors.Is(err, ErrTableAlreadyExists), IsTrue)

	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, CreateOption: CreateIfNotExists})
	c.Assert(err, IsNil)
	c.Assert(reply.TableID, Equals, tableID)
	c.Assert(reply.NewTable, IsFalse)
	c.Assert(s.counter(c, id.TableID), Equals, tableID)

	_, err = s.api.CreateTable(s.ctx, &CreateTableReq{
		NameIdent: TableNameIdent{Tenant: "t1", DBName: "nope", TableName: "t"},
	})
	assertCode(c, err, CodeUnknownDatabase)
	_, err = s.api.CreateTable(s.ctx, &CreateTableReq{
		NameIdent: TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "u"},
		Meta:      TableMeta{DropOn: timePtr(s.now)},
	})
	assertCode(c, err, CodeCreateTableWithDropTime)

	_, err = s.api.GetTable(s.ctx, TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "u"})
	assertCode(c, err, CodeUnknownTable)
	_, err = s.api.GetTableByID(s.ctx, 1000)
	assertCode(c, err, CodeUnknownTableID)

	byID, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(byID.Name, Equals, "t")
	c.Assert(byID.DBID, Equals, dbID)
}

func (s *testCatalogSuite) TestListTables(c *C) {
	s.createDB(c, "t1", "d1")
	s.createTable(c, "t1", "d1", "b")
	dropped := s.createTable(c, "t1", "d1", "c")
	s.createTable(c, "t1", "d1", "a")
	_, err := s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: dropped})
	c.Assert(err, IsNil)

	tables, err := s.api.ListTables(s.ctx, DatabaseNameIdent{Tenant: "t1", DBName: "d1"})
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 2)
	c.Assert(tables[0].Name, Equals, "a")
	c.Assert(tables[1].Name, Equals, "b")
}

func (s *testCatalogSuite) TestConcurrentCreateTable(c *C) {
	s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		exists  int
		created uint64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, Meta: TableMeta{Schema: testSchema()}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
				created = reply.TableID
			case ErrorCode(err) == CodeTableAlreadyExists:
				exists++
			default:
				c.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	c.Assert(ok, Equals, 1)
	c.Assert(exists, Equals, n-1)

	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, created)
	c.Assert(s.idList(c, TableIDListKey{DBID: info.DBID, TableName: "t"}), DeepEquals, []uint64{created})
	tables, err := s.api.ListTables(s.ctx, DatabaseNameIdent{Tenant: "t1", DBName: "d1"})
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 1)
	c.Assert(s.counter(c, id.TableID) <= n, IsTrue)
}

func (s *testCatalogSuite) TestRenameTablePreservesIdentity(c *C) {
	s.createDB(c, "t1", "d1")
	dbID2 := s.createDB(c, "t1", "d2")
	a := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "a"}
	b := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "b"}
	s.createTable(c, "t1", "d1", "a")
	s.createTable(c, "t1", "d1", "taken")

	before, err := s.api.GetTable(s.ctx, a)
	c.Assert(err, IsNil)
	c.Assert(s.api.RenameTable(s.ctx, &RenameTableReq{NameIdent: a, NewDBName: "d1", NewTableName: "b"}), IsNil)
	after, err := s.api.GetTable(s.ctx, b)
	c.Assert(err, IsNil)
	c.Assert(after.TableID, Equals, before.TableID)
	c.Assert(after.Seq, Equals, before.Seq)
	_, err = s.api.GetTable(s.ctx, a)
	assertCode(c, err, CodeUnknownTable)
	c.Assert(s.idList(c, TableIDListKey{DBID: before.DBID, TableName: "a"}), IsNil)
	c.Assert(s.idList(c, TableIDListKey{DBID: before.DBID, TableName: "b"}), DeepEquals, []uint64{before.TableID})

	err = s.api.RenameTable(s.ctx, &RenameTableReq{NameIdent: b, NewDBName: "d1", NewTableName: "taken"})
	assertCode(c, err, CodeTableAlreadyExists)
	err = s.api.RenameTable(s.ctx, &RenameTableReq{NameIdent: a, NewDBName: "d1", NewTableName: "z"})
	assertCode(c, err, CodeUnknownTable)
	c.Assert(s.api.RenameTable(s.ctx, &RenameTableReq{NameIdent: a, NewDBName: "d1", NewTableName: "z", IfExists: true}), IsNil)

	// Across databases.
	c.Assert(s.api.RenameTable(s.ctx, &RenameTableReq{NameIdent: b, NewDBName: "d2", NewTableName: "c"}), IsNil)
	moved, err := s.api.GetTable(s.ctx, TableNameIdent{Tenant: "t1", DBName: "d2", TableName: "c"})
	c.Assert(err, IsNil)
	c.Assert(moved.TableID, Equals, before.TableID)
	c.Assert(moved.DBID, Equals, dbID2)
	byID, err := s.api.GetTableByID(s.ctx, before.TableID)
	c.Assert(err, IsNil)
	c.Assert(byID.DBID, Equals, dbID2)
	c.Assert(byID.Name, Equals, "c")
	tables, err := s.api.ListTables(s.ctx, DatabaseNameIdent{Tenant: "t1", DBName: "d1"})
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 1)

	err = s.api.RenameTable(s.ctx, &RenameTableReq{
		NameIdent: TableNameIdent{Tenant: "t1", DBName: "d2", TableName: "c"}, NewDBName: "nope", NewTableName: "c",
	})
	assertCode(c, err, CodeUnknownDatabase)
}

func (s *testCatalogSuite) TestDropUndropTable(c *C) {
	s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	tableID := s.createTable(c, "t1", "d1", "t")

	reply, err := s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: tableID})
	c.Assert(err, IsNil)
	c.Assert(reply.Dropped, IsTrue)
	_, err = s.api.GetTable(s.ctx, ident)
	assertCode(c, err, CodeUnknownTable)
	byID, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(byID.Meta.DropOn.Equal(s.now), IsTrue)

	_, err = s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: tableID})
	assertCode(c, err, CodeDropTableWithDropTime)
	reply, err = s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: tableID, IfExists: true})
	c.Assert(err, IsNil)
	c.Assert(reply.Dropped, IsFalse)
	_, err = s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: 1000})
	assertCode(c, err, CodeUnknownTableID)

	c.Assert(s.api.UndropTable(s.ctx, &UndropTableReq{NameIdent: ident}), IsNil)
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, tableID)
	c.Assert(info.Meta.DropOn, IsNil)

	err = s.api.UndropTable(s.ctx, &UndropTableReq{NameIdent: ident})
	assertCode(c, err, CodeUndropTableAlreadyExists)
	err = s.api.UndropTable(s.ctx, &UndropTableReq{NameIdent: TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "nope"}})
	assertCode(c, err, CodeUndropTableHasNoHistory)
}

func (s *testCatalogSuite) TestCreateOrReplaceTableAndUndropByID(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	first := s.createTable(c, "t1", "d1", "t")
	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, CreateOption: CreateOrReplace})
	c.Assert(err, IsNil)
	second := reply.TableID
	c.Assert(second, Not(Equals), first)
	listKey := TableIDListKey{DBID: dbID, TableName: "t"}
	c.Assert(s.idList(c, listKey), DeepEquals, []uint64{first, second})
	old, err := s.api.GetTableByID(s.ctx, first)
	c.Assert(err, IsNil)
	c.Assert(old.Meta.DropOn, NotNil)

	undrop := &UndropTableByIDReq{NameIdent: ident, DBID: dbID, TableID: first}
	err = s.api.UndropTableByID(s.ctx, undrop)
	assertCode(c, err, CodeUndropTableAlreadyExists)

	undrop.Force = true
	c.Assert(s.api.UndropTableByID(s.ctx, undrop), IsNil)
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, first)
	replaced, err := s.api.GetTableByID(s.ctx, second)
	c.Assert(err, IsNil)
	c.Assert(replaced.Meta.DropOn, NotNil)
	c.Assert(s.idList(c, listKey), DeepEquals, []uint64{second, first})

	err = s.api.UndropTableByID(s.ctx, &UndropTableByIDReq{NameIdent: ident, DBID: dbID, TableID: 999, Force: true})
	assertCode(c, err, CodeUndropTableHasNoHistory)
	err = s.api.UndropTableByID(s.ctx, &UndropTableByIDReq{NameIdent: ident, DBID: 999, TableID: first})
	assertCode(c, err, CodeUnknownDatabaseID)
}

func (s *testCatalogSuite) TestCreateTableAsDropped(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{
		NameIdent: ident,
		Meta:      TableMeta{Schema: testSchema()},
		AsDropped: true,
	})
	c.Assert(err, IsNil)
	c.Assert(IsOrphanName(reply.OrphanTableName), IsTrue)

	_, err = s.api.GetTable(s.ctx, ident)
	assertCode(c, err, CodeUnknownTable)
	tables, err := s.api.ListTables(s.ctx, DatabaseNameIdent{Tenant: "t1", DBName: "d1"})
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 0)
	orphanKey := TableIDListKey{DBID: dbID, TableName: reply.OrphanTableName}
	listKey := TableIDListKey{DBID: dbID, TableName: "t"}
	c.Assert(s.idList(c, orphanKey), DeepEquals, []uint64{reply.TableID})
	c.Assert(s.idList(c, listKey), IsNil)

	commit := &CommitTableMetaReq{NameIdent: ident, TableID: reply.TableID, OrphanTableName: reply.OrphanTableName}
	c.Assert(s.api.CommitTableMeta(s.ctx, commit), IsNil)
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, reply.TableID)
	c.Assert(info.Meta.DropOn, IsNil)
	c.Assert(s.idList(c, orphanKey), IsNil)
	c.Assert(s.idList(c, listKey), DeepEquals, []uint64{reply.TableID})

	err = s.api.CommitTableMeta(s.ctx, commit)
	assertCode(c, err, CodeCommitTableMetaError)
	err = s.api.CommitTableMeta(s.ctx, &CommitTableMetaReq{NameIdent: ident, TableID: reply.TableID, OrphanTableName: "t"})
	assertCode(c, err, CodeCommitTableMetaError)
}

func (s *testCatalogSuite) TestCreateOrReplaceAsSelect(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"}
	prev := s.createTable(c, "t1", "d1", "t")
	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, CreateOption: CreateOrReplace, AsDropped: true})
	c.Assert(err, IsNil)

	// The staged table does not disturb the live one.
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, prev)

	wrong := reply.TableID
	err = s.api.CommitTableMeta(s.ctx, &CommitTableMetaReq{
		NameIdent: ident, TableID: reply.TableID, OrphanTableName: reply.OrphanTableName, PrevTableID: &wrong,
	})
	assertCode(c, err, CodeCommitTableMetaError)

	err = s.api.CommitTableMeta(s.ctx, &CommitTableMetaReq{
		NameIdent: ident, TableID: reply.TableID, OrphanTableName: reply.OrphanTableName, PrevTableID: &prev,
	})
	c.Assert(err, IsNil)
	info, err = s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, reply.TableID)
	old, err := s.api.GetTableByID(s.ctx, prev)
	c.Assert(err, IsNil)
	c.Assert(old.Meta.DropOn, NotNil)
	c.Assert(s.idList(c, TableIDListKey{DBID: dbID, TableName: "t"}), DeepEquals, []uint64{prev, reply.TableID})
}

func (s *testCatalogSuite) TestCreateTableAsDroppedOverLiveName(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "a"}
	live := s.createTable(c, "t1", "d1", "a")

	_, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, AsDropped: true})
	assertCode(c, err, CodeTableAlreadyExists)

	reply, err := s.api.CreateTable(s.ctx, &CreateTableReq{NameIdent: ident, CreateOption: CreateIfNotExists, AsDropped: true})
	c.Assert(err, IsNil)
	c.Assert(reply.NewTable, IsFalse)
	c.Assert(reply.TableID, Equals, live)
	c.Assert(reply.OrphanTableName, Equals, "")

	// Nothing was staged by the two calls above.
	s.advance(25 * time.Hour)
	dropped, err := s.api.ListDroppedTables(s.ctx, &ListDroppedTableReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(dropped.DroppedIDs, HasLen, 0)
	c.Assert(s.idList(c, TableIDListKey{DBID: dbID, TableName: "a"}), DeepEquals, []uint64{live})
	info, err := s.api.GetTable(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, live)
	c.Assert(info.Meta.DropOn, IsNil)
}

func (s *testCatalogSuite) TestDropTableWithLostHistory(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	listKey := TableIDListKey{DBID: dbID, TableName: "t"}
	_, err := s.api.Client().Transaction(s.ctx, &kv.TxnRequest{
		IfThen: []*kv.TxnOp{kv.NewDelete(listKey.StringKey())},
	})
	c.Assert(err, IsNil)

	_, err = s.api.DropTableByID(s.ctx, &DropTableByIDReq{Tenant: "t1", TableID: tableID})
	assertCode(c, err, CodeTableHistoryCorrupted)
	info, err := s.api.GetTable(s.ctx, TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"})
	c.Assert(err, IsNil)
	c.Assert(info.TableID, Equals, tableID)
	c.Assert(info.Meta.DropOn, IsNil)
}
