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

func (s *testCatalogSuite) createIndex(c *C, name string, tableID uint64, opt CreateOption) uint64 {
	reply, err := s.api.CreateIndex(s.ctx, &CreateIndexReq{
		CreateOption: opt,
		NameIdent:    IndexNameIdent{Tenant: "t1", IndexName: name},
		Meta:         IndexMeta{TableID: tableID, IndexType: "aggregating", Query: "select sum(a) from t"},
	})
	c.Assert(err, IsNil)
	return reply.IndexID
}

func (s *testCatalogSuite) TestCreateIndex(c *C) {
	s.createDB(c, "t1", "d1")
	t1 := s.createTable(c, "t1", "d1", "a")
	t2 := s.createTable(c, "t1", "d1", "b")
	ident := IndexNameIdent{Tenant: "t1", IndexName: "i1"}

	i1 := s.createIndex(c, "i1", t1, Create)
	info, err := s.api.GetIndex(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.IndexID, Equals, i1)
	c.Assert(info.Meta.TableID, Equals, t1)

	_, err = s.api.CreateIndex(s.ctx, &CreateIndexReq{NameIdent: ident, Meta: IndexMeta{TableID: t1}})
	assertCode(c, err, CodeIndexAlreadyExists)
	c.Assert(s.createIndex(c, "i1", t1, CreateIfNotExists), Equals, i1)
	_, err = s.api.CreateIndex(s.ctx, &CreateIndexReq{
		NameIdent: IndexNameIdent{Tenant: "t1", IndexName: "i2"},
		Meta:      IndexMeta{TableID: 1000},
	})
	assertCode(c, err, CodeUnknownTableID)

	s.createIndex(c, "i2", t2, Create)
	all, err := s.api.ListIndexes(s.ctx, &ListIndexesReq{Tenant: "t1"})
	c.Assert(err, IsNil)
	c.Assert(all, HasLen, 2)
	c.Assert(all[0].Name.IndexName, Equals, "i1")
	c.Assert(all[1].Name.IndexName, Equals, "i2")
	ofT2, err := s.api.ListIndexes(s.ctx, &ListIndexesReq{Tenant: "t1", TableID: &t2})
	c.Assert(err, IsNil)
	c.Assert(ofT2, HasLen, 1)
	c.Assert(ofT2[0].Meta.TableID, Equals, t2)

	// Replace soft-drops the old index.
	replaced := s.createIndex(c, "i1", t2, CreateOrReplace)
	c.Assert(replaced, Not(Equals), i1)
	info, err = s.api.GetIndex(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.IndexID, Equals, replaced)
	ofT1, err := s.api.ListIndexes(s.ctx, &ListIndexesReq{Tenant: "t1", TableID: &t1})
	c.Assert(err, IsNil)
	c.Assert(ofT1, HasLen, 0)
}

func (s *testCatalogSuite) TestDropIndexAndGC(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	ident := IndexNameIdent{Tenant: "t1", IndexName: "i1"}
	s.createIndex(c, "i1", tableID, Create)

	c.Assert(s.api.DropIndex(s.ctx, &DropIndexReq{NameIdent: ident}), IsNil)
	_, err := s.api.GetIndex(s.ctx, ident)
	assertCode(c, err, CodeUnknownIndex)
	err = s.api.DropIndex(s.ctx, &DropIndexReq{NameIdent: ident})
	assertCode(c, err, CodeUnknownIndex)
	c.Assert(s.api.DropIndex(s.ctx, &DropIndexReq{NameIdent: ident, IfExists: true}), IsNil)

	// The name is free again right away.
	s.createIndex(c, "i1", tableID, Create)

	reply, err := s.api.Vacuum(s.ctx, "t1", 0)
	c.Assert(err, IsNil)
	c.Assert(reply.Indexes, Equals, 0)
	s.advance(25 * time.Hour)
	reply, err = s.api.Vacuum(s.ctx, "t1", 0)
	c.Assert(err, IsNil)
	c.Assert(reply.Indexes, Equals, 1)
	_, err = s.api.GetIndex(s.ctx, ident)
	c.Assert(err, IsNil)
}
