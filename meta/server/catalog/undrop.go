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

	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// dbRef is a database an undrop depends on, with the key and seq the
// transaction must be conditioned on.
type dbRef struct {
	id  uint64
	key kvapi.Key
	seq uint64
}

// undropStrategy chooses which dropped table an undrop restores.
type undropStrategy interface {
	targetName() TableNameIdent
	// allowReplace permits soft-dropping a live table bound to the name.
	allowReplace() bool
	refreshDBMeta(ctx context.Context, a *API) (*dbRef, error)
	resolveTableID(list *txn.IDList) (uint64, error)
}

// undropByName restores the last id of the name's history.
type undropByName struct {
	ident TableNameIdent
}

func (u *undropByName) targetName() TableNameIdent { return u.ident }

func (u *undropByName) allowReplace() bool { return false }

func (u *undropByName) refreshDBMeta(ctx context.Context, a *API) (*dbRef, error) {
	dbIdent := u.ident.dbIdent()
	dbID, _, err := a.liveDatabase(ctx, dbIdent)
	if err != nil {
		return nil, err
	}
	return &dbRef{id: dbID.Data, key: dbIdent, seq: dbID.Seq}, nil
}

func (u *undropByName) resolveTableID(list *txn.IDList) (uint64, error) {
	last, ok := list.Last()
	if !ok {
		return 0, newError(CodeUndropTableHasNoHistory, "undrop table %s: no history", u.ident)
	}
	return last, nil
}

// undropByID restores a given id, which must be in the name's history.
type undropByID struct {
	req *UndropTableByIDReq
}

func (u *undropByID) targetName() TableNameIdent { return u.req.NameIdent }

func (u *undropByID) allowReplace() bool { return u.req.Force }

func (u *undropByID) refreshDBMeta(ctx context.Context, a *API) (*dbRef, error) {
	meta, err := a.liveDatabaseByID(ctx, u.req.DBID)
	if err != nil {
		return nil, err
	}
	return &dbRef{id: u.req.DBID, key: DatabaseID{DBID: u.req.DBID}, seq: meta.Seq}, nil
}

func (u *undropByID) resolveTableID(list *txn.IDList) (uint64, error) {
	if !list.Contains(u.req.TableID) {
		return 0, newError(CodeUndropTableHasNoHistory, "undrop table %s: id %d is not in history", u.req.NameIdent, u.req.TableID)
	}
	return u.req.TableID, nil
}

// UndropTable restores the most recently dropped table of a name.
func (a *API) UndropTable(ctx context.Context, req *UndropTableReq) error {
	return a.undropTable(ctx, "undrop_table", &undropByName{ident: req.NameIdent})
}

// UndropTableByID restores a specific dropped table under its name. With
// Force a live table bound to the name is soft-dropped in its place.
func (a *API) UndropTableByID(ctx context.Context, req *UndropTableByIDReq) error {
	return a.undropTable(ctx, "undrop_table_by_id", &undropByID{req: req})
}

func (a *API) undropTable(ctx context.Context, op string, s undropStrategy) error {
	name := s.targetName()
	var tableID uint64
	err := a.run(ctx, op, func(ctx context.Context) (bool, error) {
		db, err := s.refreshDBMeta(ctx, a)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		b.CondSeq(db.key, db.seq)

		listKey := TableIDListKey{DBID: db.id, TableName: name.TableName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}
		if list == nil {
			return false, newError(CodeUndropTableHasNoHistory, "undrop table %s: no history", name)
		}
		target, err := s.resolveTableID(&list.Data)
		if err != nil {
			return false, err
		}

		nameKey := DBIDTableName{DBID: db.id, TableName: name.TableName}
		cur, err := getID(ctx, a.c, nameKey)
		if err != nil {
			return false, err
		}
		if cur != nil {
			if !s.allowReplace() || cur.Data == target {
				return false, newError(CodeUndropTableAlreadyExists, "undrop table %s: name is bound to table %d", name, cur.Data)
			}
			if err := a.softDropTable(ctx, b, cur.Data, false); err != nil {
				return false, err
			}
		}

		metaKey := TableID{TableID: target}
		meta, err := kvapi.Get[TableMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil {
			return false, newError(CodeUndropTableHasNoHistory, "undrop table %s: table %d is gone", name, target)
		}
		if meta.Data.DropOn == nil {
			return false, newError(CodeUndropTableWithNoDropTime, "undrop table %s: table %d is not dropped", name, target)
		}
		toName, err := kvapi.Get[DBIDTableName](ctx, a.c, TableIDToName{TableID: target})
		if err != nil {
			return false, err
		}

		m := meta.Data
		m.DropOn = nil
		m.UpdatedOn = a.now()
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		b.CondSeq(nameKey, cur.GetSeq()).Put(nameKey, target)
		if last, _ := list.Data.Last(); last == target {
			b.CondSeq(listKey, list.Seq)
		} else {
			txn.MoveToEnd(b, listKey, list, target)
		}
		txn.PutIndex(b, TableIDToName{TableID: target}, toName, nameKey)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		tableID = target
		return true, nil
	})
	if err != nil {
		return err
	}
	log.Info("undrop table", zap.String("op", op), zap.Stringer("name", name), zap.Uint64("table-id", tableID))
	return nil
}
