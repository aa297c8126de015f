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

	"github.com/pingcap-incubator/tinymeta/meta/server/id"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
)

func (s *testCatalogSuite) TestCreateDatabase(c *C) {
	ident := DatabaseNameIdent{Tenant: "t1", DBName: "d1"}
	reply, err := s.api.CreateDatabase(s.ctx, &CreateDatabaseReq{NameIdent: ident})
	c.Assert(err, IsNil)
	c.Assert(reply.DBID, Equals, uint64(1))

	_, err = s.api.CreateDatabase(s.ctx, &CreateDatabaseReq{NameIdent: ident})
	c.Assert(errors.Is(err, ErrDatabaseAlreadyExists), IsTrue)

	before, err := s.api.GetDatabase(s.ctx, ident)
	c.Assert(err, IsNil)
	rev := s.store.Revision()
	reply, err = s.api.CreateDatabase(s.ctx, &CreateDatabaseReq{NameIdent: ident, CreateOption: CreateIfNotExists})
	c.Assert(err, IsNil)
	c.Assert(reply.DBID, Equals, uint64(1))
	c.Assert(s.store.Revision(), Equals, rev)
	after, err := s.api.GetDatabase(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(after.Seq, Equals, before.Seq)
	c.Assert(s.counter(c, id.DatabaseID), Equals, uint64(1))

	c.Assert(s.idList(c, DBIDListKey{Tenant: "t1", DBName: "d1"}), DeepEquals, []uint64{1})
	byID, err := s.api.GetDatabaseByID(s.ctx, 1)
	c.Assert(err, IsNil)
	c.Assert(byID.Name, Equals, ident)
	c.Assert(byID.Meta.CreatedOn.Equal(s.now), IsTrue)
}

func (s *testCatalogSuite) TestCreateDatabaseWithDropTime(c *C) {
	_, err := s.api.CreateDatabase(s.ctx, &CreateDatabaseReq{
		NameIdent: DatabaseNameIdent{Tenant: "t1", DBName: "d1"},
		Meta:      DatabaseMeta{DropOn: timePtr(s.now)},
	})
	assertCode(c, err, CodeCreateDatabaseWithDropTime)
	c.Assert(s.counter(c, id.DatabaseID), Equals, uint64(0))
}

func (s *testCatalogSuite) TestListDatabases(c *C) {
	s.createDB(c, "t1", "b")
	s.createDB(c, "t1", "a")
	s.createDB(c, "t2", "c")
	dbs, err := s.api.ListDatabases(s.ctx, "t1")
	c.Assert(err, IsNil)
	c.Assert(dbs, HasLen, 2)
	c.Assert(dbs[0].Name.DBName, Equals, "a")
	c.Assert(dbs[1].Name.DBName, Equals, "b")
	c.Assert(dbs[0].Meta.Engine, Equals, "default")
}

func (s *testCatalogSuite) TestDropUndropDatabase(c *C) {
	ident := DatabaseNameIdent{Tenant: "t1", DBName: "d1"}
	dbID := s.createDB(c, "t1", "d1")

	reply, err := s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: ident})
	c.Assert(err, IsNil)
	c.Assert(reply.DBID, Equals, dbID)
	_, err = s.api.GetDatabase(s.ctx, ident)
	assertCode(c, err, CodeUnknownDatabase)
	dbs, err := s.api.ListDatabases(s.ctx, "t1")
	c.Assert(err, IsNil)
	c.Assert(dbs, HasLen, 0)
	info, err := s.api.GetDatabaseByID(s.ctx, dbID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.DropOn, NotNil)

	_, err = s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: ident})
	assertCode(c, err, CodeUnknownDatabase)
	reply, err = s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: ident, IfExists: true})
	c.Assert(err, IsNil)
	c.Assert(reply.DBID, Equals, uint64(0))

	c.Assert(s.api.UndropDatabase(s.ctx, &UndropDatabaseReq{NameIdent: ident}), IsNil)
	got, err := s.api.GetDatabase(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(got.DBID, Equals, dbID)
	c.Assert(got.Meta.DropOn, IsNil)

	err = s.api.UndropDatabase(s.ctx, &UndropDatabaseReq{NameIdent: ident})
	assertCode(c, err, CodeDatabaseAlreadyExists)
	err = s.api.UndropDatabase(s.ctx, &UndropDatabaseReq{NameIdent: DatabaseNameIdent{Tenant: "t1", DBName: "nope"}})
	assertCode(c, err, CodeUndropDbHasNoHistory)
}

func (s *testCatalogSuite) TestDroppedDatabaseHidesTables(c *C) {
	s.createDB(c, "t1", "d1")
	s.createTable(c, "t1", "d1", "t")
	_, err := s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: DatabaseNameIdent{Tenant: "t1", DBName: "d1"}})
	c.Assert(err, IsNil)

	_, err = s.api.GetTable(s.ctx, TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "t"})
	assertCode(c, err, CodeUnknownDatabase)
	_, err = s.api.CreateTable(s.ctx, &CreateTableReq{
		NameIdent: TableNameIdent{Tenant: "t1", DBName: "d1", TableName: "u"},
	})
	assertCode(c, err, CodeUnknownDatabase)
}

func (s *testCatalogSuite) TestCreateOrReplaceDatabase(c *C) {
	ident := DatabaseNameIdent{Tenant: "t1", DBName: "d1"}
	first := s.createDB(c, "t1", "d1")
	reply, err := s.api.CreateDatabase(s.ctx, &CreateDatabaseReq{NameIdent: ident, CreateOption: CreateOrReplace})
	c.Assert(err, IsNil)
	c.Assert(reply.DBID, Not(Equals), first)

	got, err := s.api.GetDatabase(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(got.DBID, Equals, reply.DBID)
	old, err := s.api.GetDatabaseByID(s.ctx, first)
	c.Assert(err, IsNil)
	c.Assert(old.Meta.DropOn, NotNil)
	c.Assert(s.idList(c, DBIDListKey{Tenant: "t1", DBName: "d1"}), DeepEquals, []uint64{first, reply.DBID})
}

func (s *testCatalogSuite) TestRenameDatabase(c *C) {
	from := DatabaseNameIdent{Tenant: "t1", DBName: "d1"}
	to := DatabaseNameIdent{Tenant: "t1", DBName: "d2"}
	dbID := s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	s.createDB(c, "t1", "other")

	err := s.api.RenameDatabase(s.ctx, &RenameDatabaseReq{NameIdent: from, NewDBName: "other"})
	assertCode(c, err, CodeDatabaseAlreadyExists)

	c.Assert(s.api.RenameDatabase(s.ctx, &RenameDatabaseReq{NameIdent: from, NewDBName: "d2"}), IsNil)
	_, err = s.api.GetDatabase(s.ctx, from)
	assertCode(c, err, CodeUnknownDatabase)
	got, err := s.api.GetDatabase(s.ctx, to)
	c.Assert(err, IsNil)
	c.Assert(got.DBID, Equals, dbID)
	byID, err := s.api.GetDatabaseByID(s.ctx, dbID)
	c.Assert(err, IsNil)
	c.Assert(byID.Name, Equals, to)
	c.Assert(s.idList(c, DBIDListKey{Tenant: "t1", DBName: "d1"}), IsNil)
	c.Assert(s.idList(c, DBIDListKey{Tenant: "t1", DBName: "d2"}), DeepEquals, []uint64{dbID})

	table, err := s.api.GetTable(s.ctx, TableNameIdent{Tenant: "t1", DBName: "d2", TableName: "t"})
	c.Assert(err, IsNil)
	c.Assert(table.TableID, Equals, tableID)

	// The history moved with the name.
	_, err = s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: to})
	c.Assert(err, IsNil)
	c.Assert(s.api.UndropDatabase(s.ctx, &UndropDatabaseReq{NameIdent: to}), IsNil)

	c.Assert(s.api.RenameDatabase(s.ctx, &RenameDatabaseReq{NameIdent: from, NewDBName: "d3", IfExists: true}), IsNil)
	err = s.api.RenameDatabase(s.ctx, &RenameDatabaseReq{NameIdent: from, NewDBName: "d3"})
	assertCode(c, err, CodeUnknownDatabase)
}

func (s *testCatalogSuite) TestDropDatabaseStampsNow(c *C) {
	ident := DatabaseNameIdent{Tenant: "t1", DBName: "d1"}
	dbID := s.createDB(c, "t1", "d1")
	s.advance(time.Minute)
	_, err := s.api.DropDatabase(s.ctx, &DropDatabaseReq{NameIdent: ident})
	c.Assert(err, IsNil)
	info, err := s.api.GetDatabaseByID(s.ctx, dbID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.DropOn.Equal(s.now), IsTrue)
}
