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

	"github.com/pingcap-incubator/tinymeta/meta/server/id"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// CreateIndex creates an aggregating index on a live table.
func (a *API) CreateIndex(ctx context.Context, req *CreateIndexReq) (*CreateIndexReply, error) {
	indexID := a.lazyID(id.IndexID)
	var reply *CreateIndexReply
	created := false
	err := a.run(ctx, "create_index", func(ctx context.Context) (bool, error) {
		table, err := a.liveTableByID(ctx, req.Meta.TableID)
		if err != nil {
			return false, err
		}
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		now := a.now()
		if cur != nil {
			switch req.CreateOption {
			case Create:
				return false, newError(CodeIndexAlreadyExists, "index '%s'.'%s' already exists", req.NameIdent.Tenant, req.NameIdent.IndexName)
			case CreateIfNotExists:
				reply = &CreateIndexReply{IndexID: cur.Data}
				return true, nil
			}
			oldKey := IndexID{IndexID: cur.Data}
			old, err := kvapi.Get[IndexMeta](ctx, a.c, oldKey)
			if err != nil {
				return false, err
			}
			if old != nil && old.Data.DroppedOn == nil {
				m := old.Data
				m.DroppedOn = timePtr(now)
				b.CondSeq(oldKey, old.Seq).Put(oldKey, &m)
			}
		}
		newID, err := indexID.get(ctx)
		if err != nil {
			return false, err
		}

		meta := req.Meta
		if meta.CreatedOn.IsZero() {
			meta.CreatedOn = now
		}
		meta.DroppedOn = nil
		b.CondSeq(TableID{TableID: req.Meta.TableID}, table.Seq)
		b.CondSeq(req.NameIdent, cur.GetSeq()).Put(req.NameIdent, newID)
		b.CondAbsent(IndexID{IndexID: newID}).Put(IndexID{IndexID: newID}, &meta)
		b.CondAbsent(IndexIDToName{IndexID: newID}).Put(IndexIDToName{IndexID: newID}, req.NameIdent)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateIndexReply{IndexID: newID}
		created = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("create index",
			zap.String("tenant", req.NameIdent.Tenant),
			zap.String("name", req.NameIdent.IndexName),
			zap.Uint64("table-id", req.Meta.TableID),
			zap.Uint64("index-id", reply.IndexID))
	}
	return reply, nil
}

// GetIndex resolves a live index by name.
func (a *API) GetIndex(ctx context.Context, ident IndexNameIdent) (*IndexInfo, error) {
	indexID, err := getID(ctx, a.c, ident)
	if err != nil {
		return nil, err
	}
	if indexID == nil {
		return nil, newError(CodeUnknownIndex, "index '%s'.'%s' does not exist", ident.Tenant, ident.IndexName)
	}
	meta, err := kvapi.Get[IndexMeta](ctx, a.c, IndexID{IndexID: indexID.Data})
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Data.DroppedOn != nil {
		return nil, newError(CodeUnknownIndex, "index '%s'.'%s' does not exist", ident.Tenant, ident.IndexName)
	}
	return &IndexInfo{IndexID: indexID.Data, Seq: meta.Seq, Name: ident, Meta: &meta.Data}, nil
}

// DropIndex soft-drops an index: the name binding goes away and the meta is
// kept with a drop time until gc.
func (a *API) DropIndex(ctx context.Context, req *DropIndexReq) error {
	var indexID uint64
	err := a.run(ctx, "drop_index", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownIndex, "drop index '%s'.'%s': does not exist", req.NameIdent.Tenant, req.NameIdent.IndexName)
		}
		metaKey := IndexID{IndexID: cur.Data}
		meta, err := kvapi.Get[IndexMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		b.CondSeq(req.NameIdent, cur.Seq).Delete(req.NameIdent)
		if meta != nil && meta.Data.DroppedOn == nil {
			m := meta.Data
			m.DroppedOn = timePtr(a.now())
			b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		}
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		indexID = cur.Data
		return true, nil
	})
	if err != nil {
		return err
	}
	if indexID != 0 {
		log.Info("drop index",
			zap.String("tenant", req.NameIdent.Tenant),
			zap.String("name", req.NameIdent.IndexName),
			zap.Uint64("index-id", indexID))
	}
	return nil
}

// ListIndexes returns the live indexes of a tenant in name order.
func (a *API) ListIndexes(ctx context.Context, req *ListIndexesReq) ([]*IndexInfo, error) {
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(indexPrefix, escape(req.Tenant)))
	if err != nil {
		return nil, err
	}
	keys := make([]IndexID, len(pairs))
	for i, p := range pairs {
		keys[i] = IndexID{IndexID: p.Value.Data}
	}
	metas, err := kvapi.MGet[IndexMeta](ctx, a.c, keys)
	if err != nil {
		return nil, err
	}
	var res []*IndexInfo
	for i, p := range pairs {
		meta := metas[i]
		if meta == nil || meta.Data.DroppedOn != nil {
			continue
		}
		if req.TableID != nil && meta.Data.TableID != *req.TableID {
			continue
		}
		name, err := lastSegment(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &IndexInfo{
			IndexID: keys[i].IndexID,
			Seq:     meta.Seq,
			Name:    IndexNameIdent{Tenant: req.Tenant, IndexName: name},
			Meta:    &meta.Data,
		})
	}
	return res, nil
}
