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

func dictName(ident DictionaryNameIdent) string {
	return ident.Tenant + "/" + u64(ident.DBID) + "/" + ident.DictName
}

// CreateDictionary creates a dictionary in a live database.
func (a *API) CreateDictionary(ctx context.Context, req *CreateDictionaryReq) (*CreateDictionaryReply, error) {
	dictID := a.lazyID(id.DictionaryID)
	var reply *CreateDictionaryReply
	err := a.run(ctx, "create_dictionary", func(ctx context.Context) (bool, error) {
		db, err := a.liveDatabaseByID(ctx, req.NameIdent.DBID)
		if err != nil {
			return false, err
		}
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		if cur != nil {
			switch req.CreateOption {
			case Create:
				return false, newError(CodeDictionaryAlreadyExists, "dictionary %s already exists", dictName(req.NameIdent))
			case CreateIfNotExists:
				reply = &CreateDictionaryReply{DictID: cur.Data}
				return true, nil
			}
			oldKey := DictionaryID{DictID: cur.Data}
			old, err := kvapi.Get[DictionaryMeta](ctx, a.c, oldKey)
			if err != nil {
				return false, err
			}
			b.CondSeq(oldKey, old.GetSeq())
			if old != nil {
				b.Delete(oldKey)
			}
		}
		newID, err := dictID.get(ctx)
		if err != nil {
			return false, err
		}
		meta := req.Meta
		if meta.CreatedOn.IsZero() {
			meta.CreatedOn = a.now()
		}
		b.CondSeq(DatabaseID{DBID: req.NameIdent.DBID}, db.Seq)
		b.CondSeq(req.NameIdent, cur.GetSeq()).Put(req.NameIdent, newID)
		b.CondAbsent(DictionaryID{DictID: newID}).Put(DictionaryID{DictID: newID}, &meta)
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateDictionaryReply{DictID: newID}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("create dictionary", zap.String("name", dictName(req.NameIdent)), zap.Uint64("dict-id", reply.DictID))
	return reply, nil
}

func (a *API) getDictionary(ctx context.Context, ident DictionaryNameIdent) (*kvapi.SeqV[uint64], *kvapi.SeqV[DictionaryMeta], error) {
	dictID, err := getID(ctx, a.c, ident)
	if err != nil {
		return nil, nil, err
	}
	if dictID == nil {
		return nil, nil, newError(CodeUnknownDictionary, "dictionary %s does not exist", dictName(ident))
	}
	meta, err := kvapi.Get[DictionaryMeta](ctx, a.c, DictionaryID{DictID: dictID.Data})
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		return nil, nil, newError(CodeUnknownDictionary, "dictionary %s has no meta", dictName(ident))
	}
	return dictID, meta, nil
}

// UpdateDictionary replaces the meta of a dictionary.
func (a *API) UpdateDictionary(ctx context.Context, req *UpdateDictionaryReq) error {
	return a.run(ctx, "update_dictionary", func(ctx context.Context) (bool, error) {
		dictID, meta, err := a.getDictionary(ctx, req.NameIdent)
		if err != nil {
			return false, err
		}
		m := req.Meta
		m.CreatedOn = meta.Data.CreatedOn
		m.UpdatedOn = timePtr(a.now())
		metaKey := DictionaryID{DictID: dictID.Data}
		b := a.newTxn()
		b.CondSeq(req.NameIdent, dictID.Seq)
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// DropDictionary removes a dictionary.
func (a *API) DropDictionary(ctx context.Context, req *DropDictionaryReq) error {
	return a.run(ctx, "drop_dictionary", func(ctx context.Context) (bool, error) {
		dictID, meta, err := a.getDictionary(ctx, req.NameIdent)
		if ErrorCode(err) == CodeUnknownDictionary && req.IfExists {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		metaKey := DictionaryID{DictID: dictID.Data}
		b := a.newTxn()
		b.CondSeq(req.NameIdent, dictID.Seq).Delete(req.NameIdent)
		b.CondSeq(metaKey, meta.Seq).Delete(metaKey)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// GetDictionary resolves a dictionary by name.
func (a *API) GetDictionary(ctx context.Context, ident DictionaryNameIdent) (*DictionaryInfo, error) {
	dictID, meta, err := a.getDictionary(ctx, ident)
	if err != nil {
		return nil, err
	}
	return &DictionaryInfo{DictID: dictID.Data, Seq: meta.Seq, Name: ident, Meta: &meta.Data}, nil
}

// ListDictionaries returns the dictionaries of a database in name order.
func (a *API) ListDictionaries(ctx context.Context, tenant string, dbID uint64) ([]*DictionaryInfo, error) {
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(dictionaryPrefix, escape(tenant), u64(dbID)))
	if err != nil {
		return nil, err
	}
	keys := make([]DictionaryID, len(pairs))
	for i, p := range pairs {
		keys[i] = DictionaryID{DictID: p.Value.Data}
	}
	metas, err := kvapi.MGet[DictionaryMeta](ctx, a.c, keys)
	if err != nil {
		return nil, err
	}
	res := make([]*DictionaryInfo, 0, len(pairs))
	for i, p := range pairs {
		if metas[i] == nil {
			continue
		}
		name, err := lastSegment(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &DictionaryInfo{
			DictID: keys[i].DictID,
			Seq:    metas[i].Seq,
			Name:   DictionaryNameIdent{Tenant: tenant, DBID: dbID, DictName: name},
			Meta:   &metas[i].Data,
		})
	}
	return res, nil
}
