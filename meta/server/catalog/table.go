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

// CreateTable binds a table name to a new table id. With AsDropped the
// table is staged instead: its id goes to a fresh orphan history list and no
// name binding is written until CommitTableMeta. CreateOption applies to
// both paths.
func (a *API) CreateTable(ctx context.Context, req *CreateTableReq) (*CreateTableReply, error) {
	if req.Meta.DropOn != nil && !req.AsDropped {
		return nil, newError(CodeCreateTableWithDropTime, "create table %s with drop time", req.NameIdent)
	}
	tableID := a.lazyID(id.TableID)
	var orphanName string
	if req.AsDropped {
		orphanName = OrphanName(a.now().UnixNano())
	}
	dbIdent := req.NameIdent.dbIdent()

	var reply *CreateTableReply
	err := a.run(ctx, "create_table", func(ctx context.Context) (bool, error) {
		dbID, _, err := a.liveDatabase(ctx, dbIdent)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		b.CondSeq(dbIdent, dbID.Seq)
		now := a.now()

		nameKey := DBIDTableName{DBID: dbID.Data, TableName: req.NameIdent.TableName}
		cur, err := getID(ctx, a.c, nameKey)
		if err != nil {
			return false, err
		}
		if cur != nil {
			switch req.CreateOption {
			case Create:
				return false, newError(CodeTableAlreadyExists, "table %s already exists", req.NameIdent)
			case CreateIfNotExists:
				reply = &CreateTableReply{DBID: dbID.Data, TableID: cur.Data}
				return true, nil
			}
			// A staged replacement leaves the live table to CommitTableMeta.
			if !req.AsDropped {
				if err := a.softDropTable(ctx, b, cur.Data, false); err != nil {
					return false, err
				}
			}
		}
		b.CondSeq(nameKey, cur.GetSeq())
		listName := req.NameIdent.TableName
		if req.AsDropped {
			listName = orphanName
		}

		newID, err := tableID.get(ctx)
		if err != nil {
			return false, err
		}
		listKey := TableIDListKey{DBID: dbID.Data, TableName: listName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}

		meta := req.Meta
		if meta.CreatedOn.IsZero() {
			meta.CreatedOn = now
		}
		meta.UpdatedOn = now
		if req.AsDropped && meta.DropOn == nil {
			meta.DropOn = timePtr(now)
		}
		if !req.AsDropped {
			b.Put(nameKey, newID)
		}
		b.CondAbsent(TableID{TableID: newID}).Put(TableID{TableID: newID}, &meta)
		b.CondAbsent(TableIDToName{TableID: newID}).Put(TableIDToName{TableID: newID}, nameKey)
		txn.AppendID(b, listKey, list, newID)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &CreateTableReply{DBID: dbID.Data, TableID: newID, NewTable: true, OrphanTableName: orphanName}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if reply.NewTable {
		log.Info("create table",
			zap.Stringer("name", req.NameIdent),
			zap.Stringer("option", req.CreateOption),
			zap.Bool("as-dropped", req.AsDropped),
			zap.Uint64("table-id", reply.TableID))
	}
	return reply, nil
}

// CommitTableMeta makes a staged table visible: its id moves from the
// orphan list to the name's history, the drop time is cleared and the name
// is bound, in one transaction. PrevTableID names the table being replaced.
func (a *API) CommitTableMeta(ctx context.Context, req *CommitTableMetaReq) error {
	if !IsOrphanName(req.OrphanTableName) {
		return newError(CodeCommitTableMetaError, "commit table %s: %q is not an orphan list", req.NameIdent, req.OrphanTableName)
	}
	dbIdent := req.NameIdent.dbIdent()
	err := a.run(ctx, "commit_table_meta", func(ctx context.Context) (bool, error) {
		dbID, _, err := a.liveDatabase(ctx, dbIdent)
		if err != nil {
			return false, err
		}
		b := a.newTxn()
		b.CondSeq(dbIdent, dbID.Seq)

		nameKey := DBIDTableName{DBID: dbID.Data, TableName: req.NameIdent.TableName}
		cur, err := getID(ctx, a.c, nameKey)
		if err != nil {
			return false, err
		}
		switch {
		case cur != nil && (req.PrevTableID == nil || *req.PrevTableID != cur.Data):
			return false, newError(CodeCommitTableMetaError, "commit table %s: name is bound to table %d", req.NameIdent, cur.Data)
		case cur == nil && req.PrevTableID != nil:
			return false, newError(CodeCommitTableMetaError, "commit table %s: replaced table %d is gone", req.NameIdent, *req.PrevTableID)
		case cur != nil:
			if err := a.softDropTable(ctx, b, cur.Data, false); err != nil {
				return false, err
			}
		}

		orphanKey := TableIDListKey{DBID: dbID.Data, TableName: req.OrphanTableName}
		orphan, err := getIDList(ctx, a.c, orphanKey)
		if err != nil {
			return false, err
		}
		if !listOf(orphan).Contains(req.TableID) {
			return false, newError(CodeCommitTableMetaError, "commit table %s: table %d is not staged in %s", req.NameIdent, req.TableID, req.OrphanTableName)
		}
		metaKey := TableID{TableID: req.TableID}
		meta, err := kvapi.Get[TableMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil {
			return false, newError(CodeUnknownTableID, "commit table %s: table id %d does not exist", req.NameIdent, req.TableID)
		}
		if meta.Data.DropOn == nil {
			return false, newError(CodeCommitTableMetaError, "commit table %s: table %d has no drop time", req.NameIdent, req.TableID)
		}
		listKey := TableIDListKey{DBID: dbID.Data, TableName: req.NameIdent.TableName}
		list, err := getIDList(ctx, a.c, listKey)
		if err != nil {
			return false, err
		}
		toName, err := kvapi.Get[DBIDTableName](ctx, a.c, TableIDToName{TableID: req.TableID})
		if err != nil {
			return false, err
		}

		m := meta.Data
		m.DropOn = nil
		m.UpdatedOn = a.now()
		b.CondSeq(nameKey, cur.GetSeq()).Put(nameKey, req.TableID)
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		if err := txn.MoveID(b, orphanKey, orphan, listKey, list, req.TableID); err != nil {
			return false, err
		}
		txn.PutIndex(b, TableIDToName{TableID: req.TableID}, toName, nameKey)

		ok, _, err := b.Commit(ctx)
		return ok, err
	})
	if err != nil {
		return err
	}
	log.Info("commit table meta",
		zap.Stringer("name", req.NameIdent),
		zap.Uint64("table-id", req.TableID),
		zap.String("orphan", req.OrphanTableName))
	return nil
}

// GetTable resolves a live table by name.
func (a *API) GetTable(ctx context.Context, ident TableNameIdent) (*TableInfo, error) {
	dbID, _, err := a.liveDatabase(ctx, ident.dbIdent())
	if err != nil {
		return nil, err
	}
	tableID, err := getID(ctx, a.c, DBIDTableName{DBID: dbID.Data, TableName: ident.TableName})
	if err != nil {
		return nil, err
	}
	if tableID == nil {
		return nil, newError(CodeUnknownTable, "table %s does not exist", ident)
	}
	meta, err := kvapi.Get[TableMeta](ctx, a.c, TableID{TableID: tableID.Data})
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Data.DropOn != nil {
		return nil, newError(CodeUnknownTable, "table %s does not exist", ident)
	}
	return &TableInfo{
		TableID: tableID.Data,
		Seq:     meta.Seq,
		DBID:    dbID.Data,
		Name:    ident.TableName,
		Meta:    &meta.Data,
	}, nil
}

// GetTableByID reads a table by id, dropped or not.
func (a *API) GetTableByID(ctx context.Context, tableID uint64) (*TableInfo, error) {
	meta, err := kvapi.Get[TableMeta](ctx, a.c, TableID{TableID: tableID})
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, newError(CodeUnknownTableID, "table id %d does not exist", tableID)
	}
	info := &TableInfo{TableID: tableID, Seq: meta.Seq, Meta: &meta.Data}
	name, err := kvapi.Get[DBIDTableName](ctx, a.c, TableIDToName{TableID: tableID})
	if err != nil {
		return nil, err
	}
	if name != nil {
		info.DBID = name.Data.DBID
		info.Name = name.Data.TableName
	}
	return info, nil
}

// ListTables returns the live tables of a database in name order.
func (a *API) ListTables(ctx context.Context, ident DatabaseNameIdent) ([]*TableInfo, error) {
	dbID, _, err := a.liveDatabase(ctx, ident)
	if err != nil {
		return nil, err
	}
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(tablePrefix, u64(dbID.Data)))
	if err != nil {
		return nil, err
	}
	keys := make([]TableID, len(pairs))
	for i, p := range pairs {
		keys[i] = TableID{TableID: p.Value.Data}
	}
	metas, err := kvapi.MGet[TableMeta](ctx, a.c, keys)
	if err != nil {
		return nil, err
	}
	res := make([]*TableInfo, 0, len(pairs))
	for i, p := range pairs {
		if metas[i] == nil || metas[i].Data.DropOn != nil {
			continue
		}
		name, err := lastSegment(p.Key)
		if err != nil {
			return nil, err
		}
		res = append(res, &TableInfo{
			TableID: keys[i].TableID,
			Seq:     metas[i].Seq,
			DBID:    dbID.Data,
			Name:    name,
			Meta:    &metas[i].Data,
		})
	}
	return res, nil
}

// RenameTable moves a table to a new name, possibly in another database of
// the same tenant. The table id and meta are unchanged.
func (a *API) RenameTable(ctx context.Context, req *RenameTableReq) error {
	srcIdent := req.NameIdent.dbIdent()
	dstIdent := DatabaseNameIdent{Tenant: req.NameIdent.Tenant, DBName: req.NewDBName}
	var tableID uint64
	err := a.run(ctx, "rename_table", func(ctx context.Context) (bool, error) {
		srcDB, _, err := a.liveDatabase(ctx, srcIdent)
		if err != nil {
			return false, err
		}
		dstDB, _, err := a.liveDatabase(ctx, dstIdent)
		if err != nil {
			return false, err
		}
		srcKey := DBIDTableName{DBID: srcDB.Data, TableName: req.NameIdent.TableName}
		cur, err := getID(ctx, a.c, srcKey)
		if err != nil {
			return false, err
		}
		if cur == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownTable, "rename table %s: does not exist", req.NameIdent)
		}
		dstKey := DBIDTableName{DBID: dstDB.Data, TableName: req.NewTableName}
		target, err := getID(ctx, a.c, dstKey)
		if err != nil {
			return false, err
		}
		if target != nil {
			return false, newError(CodeTableAlreadyExists, "rename table %s: '%s'.'%s' exists", req.NameIdent, req.NewDBName, req.NewTableName)
		}
		meta, err := a.liveTableByID(ctx, cur.Data)
		if err != nil {
			return false, err
		}

		oldListKey := TableIDListKey{DBID: srcDB.Data, TableName: req.NameIdent.TableName}
		newListKey := TableIDListKey{DBID: dstDB.Data, TableName: req.NewTableName}
		oldList, err := getIDList(ctx, a.c, oldListKey)
		if err != nil {
			return false, err
		}
		newList, err := getIDList(ctx, a.c, newListKey)
		if err != nil {
			return false, err
		}
		toName, err := kvapi.Get[DBIDTableName](ctx, a.c, TableIDToName{TableID: cur.Data})
		if err != nil {
			return false, err
		}

		b := a.newTxn()
		b.CondSeq(srcIdent, srcDB.Seq).CondSeq(dstIdent, dstDB.Seq)
		b.CondSeq(TableID{TableID: cur.Data}, meta.Seq)
		b.CondSeq(srcKey, cur.Seq).Delete(srcKey)
		b.CondAbsent(dstKey).Put(dstKey, cur.Data)
		if listOf(oldList).Contains(cur.Data) {
			if err := txn.MoveID(b, oldListKey, oldList, newListKey, newList, cur.Data); err != nil {
				return false, err
			}
		} else {
			b.CondSeq(oldListKey, oldList.GetSeq())
			txn.AppendID(b, newListKey, newList, cur.Data)
		}
		txn.PutIndex(b, TableIDToName{TableID: cur.Data}, toName, dstKey)

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		tableID = cur.Data
		return true, nil
	})
	if err != nil {
		return err
	}
	if tableID != 0 {
		log.Info("rename table",
			zap.Stringer("from", req.NameIdent),
			zap.String("to-db", req.NewDBName),
			zap.String("to-table", req.NewTableName),
			zap.Uint64("table-id", tableID))
	}
	return nil
}

// DropTableByID soft-drops a table and removes its name binding.
func (a *API) DropTableByID(ctx context.Context, req *DropTableByIDReq) (*DropTableReply, error) {
	reply := &DropTableReply{}
	err := a.run(ctx, "drop_table_by_id", func(ctx context.Context) (bool, error) {
		meta, err := kvapi.Get[TableMeta](ctx, a.c, TableID{TableID: req.TableID})
		if err != nil {
			return false, err
		}
		if meta == nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownTableID, "drop table %d: does not exist", req.TableID)
		}
		if meta.Data.DropOn != nil {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeDropTableWithDropTime, "drop table %d: already dropped", req.TableID)
		}
		b := a.newTxn()
		if err := a.softDropTable(ctx, b, req.TableID, true); err != nil {
			return false, err
		}
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply.Dropped = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if reply.Dropped {
		log.Info("drop table", zap.Uint64("table-id", req.TableID))
	}
	return reply, nil
}

// softDropTable adds the drop of a live table to b. With deleteNameBinding
// the table's name binding is removed too; without it the caller is about
// to rebind the name itself.
func (a *API) softDropTable(ctx context.Context, b *txn.Builder, tableID uint64, deleteNameBinding bool) error {
	metaKey := TableID{TableID: tableID}
	meta, err := kvapi.Get[TableMeta](ctx, a.c, metaKey)
	if err != nil {
		return err
	}
	if meta == nil || meta.Data.DropOn != nil {
		// Nothing live to drop, but the caller depends on it staying so.
		b.CondSeq(metaKey, meta.GetSeq())
		return nil
	}
	m := meta.Data
	m.DropOn = timePtr(a.now())
	b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
	if !deleteNameBinding {
		return nil
	}

	name, err := kvapi.Get[DBIDTableName](ctx, a.c, TableIDToName{TableID: tableID})
	if err != nil {
		return err
	}
	if name == nil {
		return nil
	}
	b.CondSeq(TableIDToName{TableID: tableID}, name.Seq)
	nameKey := name.Data
	cur, err := getID(ctx, a.c, nameKey)
	if err != nil {
		return err
	}
	if cur == nil || cur.Data != tableID {
		// A staged table, or the name was rebound already.
		b.CondSeq(nameKey, cur.GetSeq())
		return nil
	}
	listKey := TableIDListKey{DBID: nameKey.DBID, TableName: nameKey.TableName}
	list, err := getIDList(ctx, a.c, listKey)
	if err != nil {
		return err
	}
	b.CondSeq(nameKey, cur.Seq).Delete(nameKey)
	if !ensureLast(b, listKey, list, tableID) {
		return newError(CodeTableHistoryCorrupted, "drop table %d: history %q does not hold it", tableID, listKey.StringKey())
	}
	return nil
}
