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

func (s *testCatalogSuite) TestLockRevisions(c *C) {
	s.createDB(c, "t1", "d1")
	tableID := s.createTable(c, "t1", "d1", "t")

	r1, err := s.api.CreateLockRevision(s.ctx, &CreateLockRevReq{TableID: tableID, TTL: time.Minute, User: "u", Node: "n1"})
	c.Assert(err, IsNil)
	r2, err := s.api.CreateLockRevision(s.ctx, &CreateLockRevReq{TableID: tableID, TTL: time.Hour, User: "u", Node: "n2"})
	c.Assert(err, IsNil)
	c.Assert(r2.Revision > r1.Revision, IsTrue)

	locks, err := s.api.ListLockRevisions(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(locks, HasLen, 2)
	c.Assert(locks[0].Revision, Equals, r1.Revision)
	c.Assert(locks[0].Meta.Node, Equals, "n1")
	c.Assert(locks[0].Meta.AcquiredOn, IsNil)
	c.Assert(locks[1].Revision, Equals, r2.Revision)

	c.Assert(s.api.ExtendLockRevision(s.ctx, &ExtendLockRevReq{
		TableID: tableID, Revision: r1.Revision, TTL: 10 * time.Minute, AcquireLock: true,
	}), IsNil)
	s.advance(5 * time.Minute)
	locks, err = s.api.ListLockRevisions(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(locks, HasLen, 2)
	c.Assert(locks[0].Meta.AcquiredOn, NotNil)

	s.advance(10 * time.Minute)
	locks, err = s.api.ListLockRevisions(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(locks, HasLen, 1)
	c.Assert(locks[0].Revision, Equals, r2.Revision)
	err = s.api.ExtendLockRevision(s.ctx, &ExtendLockRevReq{TableID: tableID, Revision: r1.Revision, TTL: time.Minute})
	assertCode(c, err, CodeTableLockExpired)

	c.Assert(s.api.DeleteLockRevision(s.ctx, &DeleteLockRevReq{TableID: tableID, Revision: r2.Revision}), IsNil)
	c.Assert(s.api.DeleteLockRevision(s.ctx, &DeleteLockRevReq{TableID: tableID, Revision: r1.Revision}), IsNil)
	locks, err = s.api.ListLockRevisions(s.ctx, tableID)
	c.Assert(err, IsNil)
	c.Assert(locks, HasLen, 0)

	_, err = s.api.CreateLockRevision(s.ctx, &CreateLockRevReq{TableID: 1000, TTL: time.Minute})
	assertCode(c, err, CodeUnknownTableID)
}
