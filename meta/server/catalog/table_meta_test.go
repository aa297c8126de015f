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

	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
)

func strPtr(s string) *string {
	return &s
}

func (s *testCatalogSuite) copiedFiles(c *C, tableID uint64) []string {
	pairs, err := kvapi.List[TableCopiedFileInfo](s.ctx, s.api.Client(), dirOf(tableCopiedFilePrefix, u64(tableID)))
	c.Assert(err, IsNil)
	var files []string
	for _, p := range pairs {
		name, err := lastSegment(p.Key)
		c.Assert(err, IsNil)
		files = append(files, name)
	}
	return files
}

func (s *testCatalogSuite) TestUpsertTableOption(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	info, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)

	reply, err := s.api.UpsertTableOption(s.ctx, &UpsertTableOptionReq{
		TableID: tableID,
		Seq:     info.Seq,
		Options: map[string]*string{"k": strPtr("v"), "x": strPtr("1")},
	})
	c.Assert(err, IsNil)
	c.Assert(reply.Seq > info.Seq, IsTrue)

	// Based on the old seq.
	_, err = s.api.UpsertTableOption(s.ctx, &UpsertTableOptionReq{
		TableID: tableID,
		Seq:     info.Seq,
		Options: map[string]*string{"k": strPtr("w")},
	})
	c.Assert(errors.Is(err, ErrTableVersionMismatched), IsTrue)
	var mismatched *TableVersionMismatchedError
	c.Assert(errors.As(err, &mismatched), IsTrue)
	c.Assert(mismatched.Expected, Equals, info.Seq)
	c.Assert(mismatched.Actual, Equals, reply.Seq)
	c.Assert(ErrorCode(err), Equals, CodeTableVersionMismatched)

	after, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(after.Seq, Equals, reply.Seq)
	c.Assert(after.Meta.Options, DeepEquals, map[string]string{"k": "v", "x": "1"})

	// Seq 0 matches any version, nil removes.
	_, err = s.api.UpsertTableOption(s.ctx, &UpsertTableOptionReq{
		TableID: tableID,
		Options: map[string]*string{"x": nil},
	})
	c.Assert(err, IsNil)
	after, err = s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(after.Meta.Options, DeepEquals, map[string]string{"k": "v"})

	s.dropTable(c, tableID)
	_, err = s.api.UpsertTableOption(s.ctx, &UpsertTableOptionReq{TableID: tableID})
	assertCode(c, err, CodeUnknownTableID)
}

func (s *testCatalogSuite) TestUpdateMultiTableMeta(c *C) {
	s.createDB(c, "t1", "d1")
	t1 := s.createTable(c, "t1", "d1", "a")
	t2 := s.createTable(c, "t1", "d1", "b")
	i1, err := s.api.GetTableByID(s.ctx, t1)
	c.Assert(err, IsNil)
	i2, err := s.api.GetTableByID(s.ctx, t2)
	c.Assert(err, IsNil)

	m1 := *i1.Meta
	m1.Comment = "first"
	m2 := *i2.Meta
	m2.Statistics.NumberOfRows = 10
	reply, err := s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		UpdateTableMetas: []UpdateTableMetaReq{
			{TableID: t1, Seq: i1.Seq, NewMeta: m1},
			{TableID: t2, Seq: i2.Seq, NewMeta: m2},
		},
		CopiedFiles: []UpsertTableCopiedFileReq{{
			TableID:  t1,
			FileInfo: map[string]TableCopiedFileInfo{"b.csv": {ETag: "2"}, "a.csv": {ETag: "1"}},
		}},
	})
	c.Assert(err, IsNil)
	c.Assert(reply.Seqs, HasLen, 2)
	i1, err = s.api.GetTableByID(s.ctx, t1)
	c.Assert(err, IsNil)
	c.Assert(i1.Meta.Comment, Equals, "first")
	c.Assert(i1.Seq, Equals, reply.Seqs[t1])
	i2, err = s.api.GetTableByID(s.ctx, t2)
	c.Assert(err, IsNil)
	c.Assert(i2.Meta.Statistics.NumberOfRows, Equals, uint64(10))
	c.Assert(s.copiedFiles(c, t1), DeepEquals, []string{"a.csv", "b.csv"})

	// One stale seq fails the whole request.
	m2.Comment = "lost"
	_, err = s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		UpdateTableMetas: []UpdateTableMetaReq{
			{TableID: t1, Seq: i1.Seq, NewMeta: m1},
			{TableID: t2, Seq: i1.Seq, NewMeta: m2},
		},
	})
	c.Assert(errors.Is(err, ErrTableVersionMismatched), IsTrue)
	same, err := s.api.GetTableByID(s.ctx, t1)
	c.Assert(err, IsNil)
	c.Assert(same.Seq, Equals, i1.Seq)

	_, err = s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		CopiedFiles: []UpsertTableCopiedFileReq{{
			TableID:           t1,
			FileInfo:          map[string]TableCopiedFileInfo{"a.csv": {ETag: "1"}, "c.csv": {ETag: "3"}},
			InsertIfNotExists: true,
		}},
	})
	assertCode(c, err, CodeDuplicatedUpsertFiles)
	c.Assert(s.copiedFiles(c, t1), DeepEquals, []string{"a.csv", "b.csv"})
}

func (s *testCatalogSuite) TestCopiedFileTTL(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	_, err := s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		CopiedFiles: []UpsertTableCopiedFileReq{{
			TableID:  tableID,
			FileInfo: map[string]TableCopiedFileInfo{"a.csv": {ETag: "1"}},
			TTL:      time.Hour,
		}},
	})
	c.Assert(err, IsNil)
	c.Assert(s.copiedFiles(c, tableID), HasLen, 1)

	s.advance(2 * time.Hour)
	c.Assert(s.copiedFiles(c, tableID), HasLen, 0)
	_, err = s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		CopiedFiles: []UpsertTableCopiedFileReq{{
			TableID:           tableID,
			FileInfo:          map[string]TableCopiedFileInfo{"a.csv": {ETag: "1"}},
			InsertIfNotExists: true,
		}},
	})
	c.Assert(err, IsNil)
}

func (s *testCatalogSuite) TestTruncateTable(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	files := make(map[string]TableCopiedFileInfo)
	for _, name := range []string{"1", "2", "3", "4", "5"} {
		files[name] = TableCopiedFileInfo{ETag: name}
	}
	_, err := s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		CopiedFiles: []UpsertTableCopiedFileReq{{TableID: tableID, FileInfo: files}},
	})
	c.Assert(err, IsNil)
	c.Assert(s.copiedFiles(c, tableID), HasLen, 5)

	c.Assert(s.api.TruncateTable(s.ctx, &TruncateTableReq{TableID: tableID, BatchSize: 2}), IsNil)
	c.Assert(s.copiedFiles(c, tableID), HasLen, 0)
	_, err = s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)

	err = s.api.TruncateTable(s.ctx, &TruncateTableReq{TableID: 1000})
	assertCode(c, err, CodeUnknownTableID)
}

func (s *testCatalogSuite) TestSetTableColumnMaskPolicy(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")

	set := func(column string, policy *string) error {
		return s.api.SetTableColumnMaskPolicy(s.ctx, &SetTableColumnMaskPolicyReq{
			Tenant: "t1", TableID: tableID, ColumnName: column, NewPolicy: policy,
		})
	}
	c.Assert(set("a", strPtr("p1")), IsNil)
	c.Assert(set("b", strPtr("p1")), IsNil)
	tables, err := s.api.ListMaskPolicyTables(s.ctx, "t1", "p1")
	c.Assert(err, IsNil)
	c.Assert(tables, DeepEquals, []uint64{tableID})

	// p1 is still used by b.
	c.Assert(set("a", strPtr("p2")), IsNil)
	tables, err = s.api.ListMaskPolicyTables(s.ctx, "t1", "p1")
	c.Assert(err, IsNil)
	c.Assert(tables, DeepEquals, []uint64{tableID})
	tables, err = s.api.ListMaskPolicyTables(s.ctx, "t1", "p2")
	c.Assert(err, IsNil)
	c.Assert(tables, DeepEquals, []uint64{tableID})

	c.Assert(set("b", nil), IsNil)
	tables, err = s.api.ListMaskPolicyTables(s.ctx, "t1", "p1")
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 0)
	info, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.ColumnMaskPolicy, DeepEquals, map[string]string{"a": "p2"})

	assertCode(c, set("nope", strPtr("p1")), CodeUnknownColumn)

	// A bulk meta update keeps the policies it was read with.
	m := *info.Meta
	m.ColumnMaskPolicy = map[string]string{"a": "p2", "c": "p3"}
	_, err = s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		UpdateTableMetas: []UpdateTableMetaReq{{TableID: tableID, Seq: info.Seq, NewMeta: m}},
	})
	assertCode(c, err, CodeMaskPolicyChangeNotAllowed)
	tables, err = s.api.ListMaskPolicyTables(s.ctx, "t1", "p3")
	c.Assert(err, IsNil)
	c.Assert(tables, HasLen, 0)

	m.ColumnMaskPolicy = map[string]string{"a": "p2"}
	m.Comment = "masked"
	_, err = s.api.UpdateMultiTableMeta(s.ctx, &UpdateMultiTableMetaReq{
		UpdateTableMetas: []UpdateTableMetaReq{{TableID: tableID, Seq: info.Seq, NewMeta: m}},
	})
	c.Assert(err, IsNil)
	tables, err = s.api.ListMaskPolicyTables(s.ctx, "t1", "p2")
	c.Assert(err, IsNil)
	c.Assert(tables, DeepEquals, []uint64{tableID})
}

func (s *testCatalogSuite) TestTableIndex(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")
	create := func(name string, cols ...uint32) error {
		return s.api.CreateTableIndex(s.ctx, &CreateTableIndexReq{TableID: tableID, Name: name, ColumnIDs: cols})
	}

	c.Assert(create("i1", 1, 2), IsNil)
	assertCode(c, create("i1", 3), CodeIndexAlreadyExists)
	assertCode(c, create("i2", 3, 3), CodeDuplicatedIndexColumnID)
	assertCode(c, create("i2", 9), CodeUnknownColumnID)
	assertCode(c, create("i2", 2, 3), CodeDuplicatedIndexColumnID)
	c.Assert(create("i2", 3), IsNil)

	info, err := s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.Indexes, HasLen, 2)
	c.Assert(info.Meta.Indexes["i1"].ColumnIDs, DeepEquals, []uint32{1, 2})

	c.Assert(s.api.CreateTableIndex(s.ctx, &CreateTableIndexReq{
		CreateOption: CreateIfNotExists, TableID: tableID, Name: "i1", ColumnIDs: []uint32{3},
	}), IsNil)
	c.Assert(s.api.CreateTableIndex(s.ctx, &CreateTableIndexReq{
		CreateOption: CreateOrReplace, TableID: tableID, Name: "i1", ColumnIDs: []uint32{1},
	}), IsNil)
	info, err = s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.Indexes["i1"].ColumnIDs, DeepEquals, []uint32{1})

	c.Assert(s.api.DropTableIndex(s.ctx, &DropTableIndexReq{TableID: tableID, Name: "i1"}), IsNil)
	err = s.api.DropTableIndex(s.ctx, &DropTableIndexReq{TableID: tableID, Name: "i1"})
	assertCode(c, err, CodeUnknownIndex)
	c.Assert(s.api.DropTableIndex(s.ctx, &DropTableIndexReq{TableID: tableID, Name: "i1", IfExists: true}), IsNil)
	info, err = s.api.GetTableByID(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(info.Meta.Indexes, HasLen, 1)
}
