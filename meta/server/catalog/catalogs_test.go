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
	. "github.com/pingcap/check"
)

func (s *testCatalogSuite) TestCatalogs(c *C) {
	ident := CatalogNameIdent{Tenant: "t1", CatalogName: "hive"}
	reply, err := s.api.CreateCatalog(s.ctx, &CreateCatalogReq{
		NameIdent: ident,
		Meta:      CatalogMeta{CatalogType: "hive", Options: map[string]string{"address": "127.0.0.1:9083"}},
	})
	c.Assert(err, IsNil)

	_, err = s.api.CreateCatalog(s.ctx, &CreateCatalogReq{NameIdent: ident})
	assertCode(c, err, CodeCatalogAlreadyExists)
	again, err := s.api.CreateCatalog(s.ctx, &CreateCatalogReq{NameIdent: ident, IfNotExists: true})
	c.Assert(err, IsNil)
	c.Assert(again.CatalogID, Equals, reply.CatalogID)

	info, err := s.api.GetCatalog(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.CatalogID, Equals, reply.CatalogID)
	c.Assert(info.Meta.Options["address"], Equals, "127.0.0.1:9083")

	_, err = s.api.CreateCatalog(s.ctx, &CreateCatalogReq{
		NameIdent: CatalogNameIdent{Tenant: "t1", CatalogName: "iceberg"},
		Meta:      CatalogMeta{CatalogType: "iceberg"},
	})
	c.Assert(err, IsNil)
	list, err := s.api.ListCatalogs(s.ctx, "t1")
	c.Assert(err, IsNil)
	c.Assert(list, HasLen, 2)
	c.Assert(list[0].Name.CatalogName, Equals, "hive")
	c.Assert(list[1].Name.CatalogName, Equals, "iceberg")

	c.Assert(s.api.DropCatalog(s.ctx, &DropCatalogReq{NameIdent: ident}), IsNil)
	_, err = s.api.GetCatalog(s.ctx, ident)
	assertCode(c, err, CodeUnknownCatalog)
	assertCode(c, s.api.DropCatalog(s.ctx, &DropCatalogReq{NameIdent: ident}), CodeUnknownCatalog)
	c.Assert(s.api.DropCatalog(s.ctx, &DropCatalogReq{NameIdent: ident, IfExists: true}), IsNil)
	list, err = s.api.ListCatalogs(s.ctx, "t1")
	c.Assert(err, IsNil)
	c.Assert(list, HasLen, 1)
}

func (s *testCatalogSuite) TestDictionaries(c *C) {
	dbID := s.createDB(c, "t1", "d1")
	ident := DictionaryNameIdent{Tenant: "t1", DBID: dbID, DictName: "dict"}
	reply, err := s.api.CreateDictionary(s.ctx, &CreateDictionaryReq{
		NameIdent: ident,
		Meta:      DictionaryMeta{Source: "mysql", Schema: testSchema()},
	})
	c.Assert(err, IsNil)

	_, err = s.api.CreateDictionary(s.ctx, &CreateDictionaryReq{NameIdent: ident})
	assertCode(c, err, CodeDictionaryAlreadyExists)
	_, err = s.api.CreateDictionary(s.ctx, &CreateDictionaryReq{
		NameIdent: DictionaryNameIdent{Tenant: "t1", DBID: 1000, DictName: "dict"},
	})
	assertCode(c, err, CodeUnknownDatabaseID)

	c.Assert(s.api.UpdateDictionary(s.ctx, &UpdateDictionaryReq{
		NameIdent: ident,
		Meta:      DictionaryMeta{Source: "redis", Schema: testSchema()},
	}), IsNil)
	info, err := s.api.GetDictionary(s.ctx, ident)
	c.Assert(err, IsNil)
	c.Assert(info.DictID, Equals, reply.DictID)
	c.Assert(info.Meta.Source, Equals, "redis")
	c.Assert(info.Meta.UpdatedOn, NotNil)

	replaced, err := s.api.CreateDictionary(s.ctx, &CreateDictionaryReq{
		CreateOption: CreateOrReplace,
		NameIdent:    ident,
		Meta:         DictionaryMeta{Source: "http"},
	})
	c.Assert(err, IsNil)
	c.Assert(replaced.DictID, Not(Equals), reply.DictID)
	list, err := s.api.ListDictionaries(s.ctx, "t1", dbID)
	c.Assert(err, IsNil)
	c.Assert(list, HasLen, 1)
	c.Assert(list[0].DictID, Equals, replaced.DictID)
	c.Assert(list[0].Name.DictName, Equals, "dict")

	c.Assert(s.api.DropDictionary(s.ctx, &DropDictionaryReq{NameIdent: ident}), IsNil)
	_, err = s.api.GetDictionary(s.ctx, ident)
	assertCode(c, err, CodeUnknownDictionary)
	c.Assert(s.api.DropDictionary(s.ctx, &DropDictionaryReq{NameIdent: ident, IfExists: true}), IsNil)
	err = s.api.UpdateDictionary(s.ctx, &UpdateDictionaryReq{NameIdent: ident})
	assertCode(c, err, CodeUnknownDictionary)
}
