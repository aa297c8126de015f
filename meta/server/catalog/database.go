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
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// CreateDatabase binds a name to a new database id.
func (a *API) CreateDatabase(ctx context.Context, req *CreateDatabaseReq) (*CreateDatabaseReply, error) {
	if req.Meta.DropOn != nil {
		return nil, newError(CodeCreateDatabaseWithDropTime, "create database %s with drop time", req.NameIdent)
	}
	dbID := a.lazyID(id.DatabaseID)
	var reply *CreateDatabaseReply
	err := a.run(ctx, "create_database", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		now := a.now()
		if cur != nil {
			switch req.CreateOption {
			case Create:
				return false, newError(CodeDatabaseAlreadyExists, "database %s already exists", req.NameIdent)
			case CreateIfNotExists:
				reply = &CreateDatabaseReply{DBID: cur.Data}
				return true, nil
			}
			// Replace: the old database stays in the history, soft-dropped.
			oldKey := DatabaseID{DBID: cur.Data}
			old, err := kvapi.Get[DatabaseMeta](ctx, a.c, oldKey)
			if err != nil {
				return false, err
			}
			if old != nil && old.Data.DropOn == nil {
				m := old.Data
				m.DropOn = timePtr(now)
				b.CondSeq(oldKey, old.Seq).Put(oldKey, &m)
			}
		}

		newID, err := dbID.get(ctx)
		if err != nil {
			return false, err
		}
		listKey := DBIDListKey{Tenant: req.NameIdent.Tenant, DBName: req.NameIdent.DBName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}

		meta := req.Meta
		if meta.CreatedOn.IsZero() {
			meta.CreatedOn = now
		}
		meta.UpdatedOn = now
		b.CondSeq(req.NameIdent, cur.GetSeq()).Put(req.NameIdent, newID)
		b.CondAbsent(DatabaseID{DBID: newID}).Put(DatabaseID{DBID: newID}, &meta)
		b.CondAbsent(DatabaseIDToName{DBID: newID}).Put(DatabaseIDToName{DBID: newID}, req.NameIdent)
		txn.AppendID(b, listKey, list, newID)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateDatabaseReply{DBID: newID}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("create database",
		zap.Stringer("name", req.NameIdent),
		zap.Stringer("option", req.CreateOption),
		zap.Uint64("db-id", reply.DBID))
	return reply, nil
}

// GetDatabase resolves a live database by name.
func (a *API) GetDatabase(ctx context.Context, ident DatabaseNameIdent) (*DatabaseInfo, error) {
	dbID, meta, err := a.liveDatabase(ctx, ident)
	if err != nil {
		return nil, err
	}
	return &DatabaseInfo{DBID: dbID.Data, Seq: meta.Seq, Name: ident, Meta: &meta.Data}, nil
}

// GetDatabaseByID reads a database by id, dropped or not.
func (a *API) GetDatabaseByID(ctx context.Context, dbID uint64) (*DatabaseInfo, error) {
	meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, DatabaseID{DBID: dbID})
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, newError(CodeUnknownDatabaseID, "database id %d does not exist", dbID)
	}
	name, err := kvapi.Get[DatabaseNameIdent](ctx, a.c, DatabaseIDToName{DBID: dbID})
	if err != nil {
		return nil, err
	}
	info := &DatabaseInfo{DBID: dbID, Seq: meta.Seq, Meta: &meta.Data}
	if name != nil {
		info.Name = name.Data
	}
	return info, nil
}

// ListDatabases returns the live databases of a tenant in name order.
func (a *API) ListDatabases(ctx context.Context, tenant string) ([]*DatabaseInfo, error) {
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(databasePrefix, escape(tenant)))
	if err != nil {
		return nil, err
	}
	keys := make([]DatabaseID, len(pairs))
	for i, p := range pairs {
		keys[i] = DatabaseID{DBID: p.Value.Data}
	}
	metas, err := kvapi.MGet[DatabaseMeta](ctx, a.c, keys)
	if err != nil {
		return nil, err
	}
	res := make([]*DatabaseInfo, 0, len(pairs))
	for i, p := range pairs {
		if metas[i] == nil || metas[i].Data.DropOn != nil {
			continue
		}
		name, err := lastSegment(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &DatabaseInfo{
			DBID: keys[i].DBID,
			Seq:  metas[i].Seq,
			Name: DatabaseNameIdent{Tenant: tenant, DBName: name},
			Meta: &metas[i].Data,
		})
	}
	return res, nil
}

// DropDatabase soft-drops a database: the name binding is removed and the
// meta gets a drop time. The id stays last in the name's history so the
// database can be undropped until gc.
func (a *API) DropDatabase(ctx context.Context, req *DropDatabaseReq) (*DropDatabaseReply, error) {
	reply := &DropDatabaseReply{}
	err := a.run(ctx, "drop_database", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownDatabase, "drop database %s: does not exist", req.NameIdent)
		}
		metaKey := DatabaseID{DBID: cur.Data}
		meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil {
			return false, newError(CodeUnknownDatabaseID, "drop database %s: id %d has no meta", req.NameIdent, cur.Data)
		}
		if meta.Data.DropOn != nil {
			return false, newError(CodeDropDbWithDropTime, "drop database %s: already dropped", req.NameIdent)
		}
		listKey := DBIDListKey{Tenant: req.NameIdent.Tenant, DBName: req.NameIdent.DBName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}

		b := a.newTxn()
		m := meta.Data
		m.DropOn = timePtr(a.now())
		b.CondSeq(req.NameIdent, cur.Seq).Delete(req.NameIdent)
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		if !ensureLast(b, listKey, list, cur.Data) {
			log.Warn("database missing from its history list, append",
				zap.Stringer("name", req.NameIdent),
				zap.Uint64("db-id", cur.Data))
			txn.AppendID(b, listKey, list, cur.Data)
		}

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply.DBID = cur.Data
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if reply.DBID != 0 {
		log.Info("drop database", zap.Stringer("name", req.NameIdent), zap.Uint64("db-id", reply.DBID))
	}
	return reply, nil
}

// UndropDatabase restores the last id of the name's history. It fails if the
// name is bound or the last id is not dropped.
func (a *API) UndropDatabase(ctx context.Context, req *UndropDatabaseReq) error {
	var dbID uint64
	err := a.run(ctx, "undrop_database", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur != nil {
			return false, newError(CodeDatabaseAlreadyExists, "undrop database %s: name is in use", req.NameIdent)
		}
		listKey := DBIDListKey{Tenant: req.NameIdent.Tenant, DBName: req.NameIdent.DBName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}
		last, ok := listOf(list).Last()
		if !ok {
			return false, newError(CodeUndropDbHasNoHistory, "undrop database %s: no history", req.NameIdent)
		}
		metaKey := DatabaseID{DBID: last}
		meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil {
			return false, newError(CodeUndropDbHasNoHistory, "undrop database %s: id %d is gone", req.NameIdent, last)
		}
		if meta.Data.DropOn == nil {
			return false, newError(CodeUndropDbWithNoDropTime, "undrop database %s: id %d is not dropped", req.NameIdent, last)
		}

		b := a.newTxn()
		m := meta.Data
		m.DropOn = nil
		m.UpdatedOn = a.now()
		b.CondAbsent(req.NameIdent).Put(req.NameIdent, last)
		b.CondSeq(listKey, list.Seq)
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)

		committed, _, err := b.Commit(ctx)
		if err != nil || !committed {
			return false, err
		}
		dbID = last
		return true, nil
	})
	if err != nil {
		return err
	}
	log.Info("undrop database", zap.Stringer("name", req.NameIdent), zap.Uint64("db-id", dbID))
	return nil
}

// RenameDatabase moves a database to a new name within its tenant. The id
// moves between the two history lists and the reverse index follows, all in
// one transaction.
func (a *API) RenameDatabase(ctx context.Context, req *RenameDatabaseReq) error {
	newIdent := DatabaseNameIdent{Tenant: req.NameIdent.Tenant, DBName: req.NewDBName}
	var dbID uint64
	err := a.run(ctx, "rename_database", func(ctx context.Context) (bool, error) {
		cur, err := getID(ctx, a.c, req.NameIdent)
		if err != nil {
			return false, err
		}
		if cur == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownDatabase, "rename database %s: does not exist", req.NameIdent)
		}
		target, err := getID(ctx, a.c, newIdent)
		if err != nil {
			return false, err
		}
		if target != nil {
			return false, newError(CodeDatabaseAlreadyExists, "rename database %s to %s: target exists", req.NameIdent, newIdent)
		}

		oldListKey := DBIDListKey{Tenant: req.NameIdent.Tenant, DBName: req.NameIdent.DBName}
		newListKey := DBIDListKey{Tenant: newIdent.Tenant, DBName: newIdent.DBName}
		oldList, err := getIDList(ctx, a.c, oldListKey)
		if err != nil {
			return false, err
		}
		newList, err := getIDList(ctx, a.c, newListKey)
		if err != nil {
			return false, err
		}
		toName, err := kvapi.Get[DatabaseNameIdent](ctx, a.c, DatabaseIDToName{DBID: cur.Data})
		if err != nil {
			return false, err
		}

		b := a.newTxn()
		b.CondSeq(req.NameIdent, cur.Seq).Delete(req.NameIdent)
		b.CondAbsent(newIdent).Put(newIdent, cur.Data)
		if listOf(oldList).Contains(cur.Data) {
			if err := txn.MoveID(b, oldListKey, oldList, newListKey, newList, cur.Data); err != nil {
				return false, err
			}
		} else {
			b.CondSeq(oldListKey, oldList.GetSeq())
			txn.AppendID(b, newListKey, newList, cur.Data)
		}
		txn.PutIndex(b, DatabaseIDToName{DBID: cur.Data}, toName, newIdent)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		dbID = cur.Data
		return true, nil
	})
	if err != nil {
		return err
	}
	if dbID != 0 {
		log.Info("rename database",
			zap.Stringer("from", req.NameIdent),
			zap.String("to", req.NewDBName),
			zap.Uint64("db-id", dbID))
	}
	return nil
}
