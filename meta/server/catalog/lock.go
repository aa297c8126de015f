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
	"context"
	"sort"

	"github.com/pingcap-incubator/tinymeta/meta/server/id"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
)

// CreateLockRevision registers a lock revision on a live table. Revisions
// come from one id space, so they order lock requests across tables. The
// record expires after TTL unless extended.
func (a *API) CreateLockRevision(ctx context.Context, req *CreateLockRevReq) (*CreateLockRevReply, error) {
	revision := a.lazyID(id.TableLockID)
	var reply *CreateLockRevReply
	err := a.run(ctx, "create_lock_revision", func(ctx context.Context) (bool, error) {
		table, err := a.liveTableByID(ctx, req.TableID)
		if err != nil {
			return false, err
		}
		rev, err := revision.get(ctx)
		if err != nil {
			return false, err
		}
		key := TableLockKey{TableID: req.TableID, Revision: rev}
		meta := &LockMeta{
			User:      req.User,
			Node:      req.Node,
			QueryID:   req.QueryID,
			CreatedOn: a.now(),
		}
		b := a.newTxn()
		b.CondSeq(TableID{TableID: req.TableID}, table.Seq)
		b.CondAbsent(key).PutWithTTL(key, meta, req.TTL)
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateLockRevReply{Revision: rev}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// ExtendLockRevision refreshes the ttl of a lock revision, marking it
// acquired when AcquireLock is set. An expired revision cannot be extended.
func (a *API) ExtendLockRevision(ctx context.Context, req *ExtendLockRevReq) error {
	key := TableLockKey{TableID: req.TableID, Revision: req.Revision}
	return a.run(ctx, "extend_lock_revision", func(ctx context.Context) (bool, error) {
		cur, err := kvapi.Get[LockMeta](ctx, a.c, key)
		if err != nil {
			return false, err
		}
		if cur == nil {
			return false, newError(CodeTableLockExpired, "lock revision %d of table %d expired", req.Revision, req.TableID)
		}
		m := cur.Data
		if req.AcquireLock && m.AcquiredOn == nil {
			m.AcquiredOn = timePtr(a.now())
		}
		b := a.newTxn()
		b.CondSeq(key, cur.Seq).PutWithTTL(key, &m, req.TTL)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// DeleteLockRevision releases a lock revision. Releasing an expired
// revision succeeds.
func (a *API) DeleteLockRevision(ctx context.Context, req *DeleteLockRevReq) error {
	key := TableLockKey{TableID: req.TableID, Revision: req.Revision}
	return a.run(ctx, "delete_lock_revision", func(ctx context.Context) (bool, error) {
		cur, err := kvapi.Get[LockMeta](ctx, a.c, key)
		if err != nil {
			return false, err
		}
		if cur == nil {
			return true, nil
		}
		b := a.newTxn()
		b.CondSeq(key, cur.Seq).Delete(key)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// ListLockRevisions returns the live lock revisions of a table in revision
// order.
func (a *API) ListLockRevisions(ctx context.Context, tableID uint64) ([]*LockInfo, error) {
	pairs, err := kvapi.List[LockMeta](ctx, a.c, dirOf(tableLockPrefix, u64(tableID)))
	if err != nil {
		return nil, err
	}
	res := make([]*LockInfo, 0, len(pairs))
	for _, p := range pairs {
		rev, err := lastSegmentU64(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &LockInfo{
			TableID:  tableID,
			Revision: rev,
			Seq:      p.Value.Seq,
			ExpireAt: p.Value.ExpireAt,
			Meta:     &p.Value.Data,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Revision < res[j].Revision })
	return res, nil
}
