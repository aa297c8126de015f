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

// CreateCatalog registers an external catalog.
func (a *API) CreateCatalog(ctx context.Context, req *CreateCatalogReq) (*CreateCatalogReply, error) {
	catalogID := a.lazyID(id.CatalogID)
	var reply *CreateCatalogReply
	err := a.run(ctx, "create_catalog", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur != nil {
			if req.IfNotExists {
				reply = &CreateCatalogReply{CatalogID: cur.Data}
				return true, nil
			}
			return false, newError(CodeCatalogAlreadyExists, "catalog '%s'.'%s' already exists", req.NameIdent.Tenant, req.NameIdent.CatalogName)
		}
		newID, err := catalogID.get(ctx)
		if err != nil {
			return false, err
		}
		meta := req.Meta
		if meta.CreatedOn.IsZero() {
			meta.CreatedOn = a.now()
		}
		b := a.newTxn()
		b.CondAbsent(req.NameIdent).Put(req.NameIdent, newID)
		b.CondAbsent(CatalogID{CatalogID: newID}).Put(CatalogID{CatalogID: newID}, &meta)
		b.CondAbsent(CatalogIDToName{CatalogID: newID}).Put(CatalogIDToName{CatalogID: newID}, req.NameIdent)
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateCatalogReply{CatalogID: newID}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("create catalog",
		zap.String("tenant", req.NameIdent.Tenant),
		zap.String("name", req.NameIdent.CatalogName),
		zap.Uint64("catalog-id", reply.CatalogID))
	return reply, nil
}

// GetCatalog resolves a catalog by name.
func (a *API) GetCatalog(ctx context.Context, ident CatalogNameIdent) (*CatalogInfo, error) {
	catalogID, err := getID(ctx, a.c, ident)
	if err != nil {
		return nil, err
	}
	if catalogID == nil {
		return nil, newError(CodeUnknownCatalog, "catalog '%s'.'%s' does not exist", ident.Tenant, ident.CatalogName)
	}
	meta, err := kvapi.Get[CatalogMeta](ctx, a.c, CatalogID{CatalogID: catalogID.Data})
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, newError(CodeUnknownCatalog, "catalog '%s'.'%s' has no meta", ident.Tenant, ident.CatalogName)
	}
	return &CatalogInfo{CatalogID: catalogID.Data, Name: ident, Meta: &meta.Data}, nil
}

// DropCatalog removes a catalog and its reverse index. Catalogs keep no
// history, so the drop is immediate.
func (a *API) DropCatalog(ctx context.Context, req *DropCatalogReq) error {
	return a.run(ctx, "drop_catalog", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownCatalog, "drop catalog '%s'.'%s': does not exist", req.NameIdent.Tenant, req.NameIdent.CatalogName)
		}
		metaKey := CatalogID{CatalogID: cur.Data}
		nameKey := CatalogIDToName{CatalogID: cur.Data}
		meta, err := kvapi.Get[CatalogMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		toName, err := kvapi.Get[CatalogNameIdent](ctx, a.c, nameKey)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		b.CondSeq(req.NameIdent, cur.Seq).Delete(req.NameIdent)
		if meta != nil {
			b.CondSeq(metaKey, meta.Seq).Delete(metaKey)
		}
		if toName != nil {
			b.CondSeq(nameKey, toName.Seq).Delete(nameKey)
		}
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// ListCatalogs returns the catalogs of a tenant in name order.
func (a *API) ListCatalogs(ctx context.Context, tenant string) ([]*CatalogInfo, error) {
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(catalogPrefix, escape(tenant)))
	if err != nil {
		return nil, err
	}
	keys := make([]CatalogID, len(pairs))
	for i, p := range pairs {
		keys[i] = CatalogID{CatalogID: p.Value.Data}
	}
	metas, err := kvapi.MGet[CatalogMeta](ctx, a.c, keys)
	if err != nil {
		return nil, err
	}
	res := make([]*CatalogInfo, 0, len(pairs))
	for i, p := range pairs {
		if metas[i] == nil {
			continue
		}
		name, err := lastSegment(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &CatalogInfo{
			CatalogID: keys[i].CatalogID,
			Name:      CatalogNameIdent{Tenant: tenant, CatalogName: name},
			Meta:      &metas[i].Data,
		})
	}
	return res, nil
}
