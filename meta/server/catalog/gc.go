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

	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ListTenants returns the tenants that have database history, in order.
func (a *API) ListTenants(ctx context.Context) ([]string, error) {
	stream, err := a.c.List(ctx, dbIDListPrefix+"/")
	if err != nil {
		return nil, err
	}
	pairs, err := kv.CollectPairs(stream)
	if err != nil {
		return nil, err
	}
	var tenants []string
	for _, p := range pairs {
		tenant, err := firstSegment(p.Key, dbIDListPrefix)
		if err != nil {
			return nil, err
		}
		if n := len(tenants); n == 0 || tenants[n-1] != tenant {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// ListDroppedTables walks the id-history lists of a tenant and returns the
// databases and tables dropped longer than the retention ago. Tables of an
// expired database are not listed on their own: the database id covers
// them. Staged tables that were never committed show up through their
// orphan lists.
func (a *API) ListDroppedTables(ctx context.Context, req *ListDroppedTableReq) (*ListDroppedTableReply, error) {
	dbLists, err := kvapi.List[txn.IDList](ctx, a.c, dirOf(dbIDListPrefix, escape(req.Tenant)))
	if err != nil {
		return nil, err
	}
	reply := &ListDroppedTableReply{}
	full := func() bool {
		return req.Limit > 0 && len(reply.DroppedIDs) >= req.Limit
	}
walk:
	for _, l := range dbLists {
		for _, dbID := range l.Value.Data.IDs {
			if full() {
				break walk
			}
			db, err := kvapi.Get[DatabaseMeta](ctx, a.c, DatabaseID{DBID: dbID})
			if err != nil {
				return nil, err
			}
			if db == nil {
				continue
			}
			if a.expired(db.Data.DropOn) {
				reply.DroppedIDs = append(reply.DroppedIDs, DroppedID{DBID: dbID})
				continue
			}
			tables, err := a.droppedTablesOfDB(ctx, dbID)
			if err != nil {
				return nil, err
			}
			reply.DroppedIDs = append(reply.DroppedIDs, tables...)
		}
	}
	if req.Limit > 0 && len(reply.DroppedIDs) > req.Limit {
		reply.DroppedIDs = reply.DroppedIDs[:req.Limit]
	}
	return reply, nil
}

func (a *API) droppedTablesOfDB(ctx context.Context, dbID uint64) ([]DroppedID, error) {
	lists, err := kvapi.List[txn.IDList](ctx, a.c, dirOf(tableIDListPrefix, u64(dbID)))
	if err != nil {
		return nil, err
	}
	var res []DroppedID
	for _, l := range lists {
		listName, err := lastSegment(l.Key)
		if err != nil {
			return nil, err
		}
		keys := make([]TableID, len(l.Value.Data.IDs))
		for i, tableID := range l.Value.Data.IDs {
			keys[i] = TableID{TableID: tableID}
		}
		metas, err := kvapi.Stream[TableMeta](ctx, a.c, keys)
		if err != nil {
			return nil, err
		}
		for i, r := range metas {
			if r.Err != nil {
				return nil, r.Err
			}
			if meta := r.Value; meta != nil && a.expired(meta.Data.DropOn) {
				res = append(res, DroppedID{DBID: dbID, TableID: keys[i].TableID, ListName: listName})
			}
		}
	}
	return res, nil
}

// GcDroppedTables permanently removes dropped databases and tables. Each
// object goes in its own transaction conditioned on every record it touches,
// and an object no longer past retention, e.g. undropped meanwhile, is
// skipped.
func (a *API) GcDroppedTables(ctx context.Context, req *GcDroppedTableReq) (*VacuumReply, error) {
	reply := &VacuumReply{}
	for _, d := range req.DroppedIDs {
		if d.TableID == 0 {
			tables, removed, err := a.gcDatabase(ctx, d.DBID)
			if err != nil {
				return reply, err
			}
			reply.Tables += tables
			if removed {
				reply.Databases++
			}
			continue
		}
		removed, err := a.gcTable(ctx, req.Tenant, d, false)
		if err != nil {
			return reply, err
		}
		if removed {
			reply.Tables++
		}
	}
	return reply, nil
}

// Vacuum lists and removes the expired objects of a tenant, at most limit
// databases and tables per call (0 means no limit).
func (a *API) Vacuum(ctx context.Context, tenant string, limit int) (*VacuumReply, error) {
	dropped, err := a.ListDroppedTables(ctx, &ListDroppedTableReq{Tenant: tenant, Limit: limit})
	if err != nil {
		return nil, err
	}
	reply, err := a.GcDroppedTables(ctx, &GcDroppedTableReq{Tenant: tenant, DroppedIDs: dropped.DroppedIDs})
	if err != nil {
		return reply, err
	}
	reply.Indexes, err = a.gcDroppedIndexes(ctx, tenant)
	if err != nil {
		return reply, err
	}
	if reply.Databases+reply.Tables+reply.Indexes > 0 {
		log.Info("vacuum",
			zap.String("tenant", tenant),
			zap.Int("databases", reply.Databases),
			zap.Int("tables", reply.Tables),
			zap.Int("indexes", reply.Indexes))
	}
	return reply, nil
}

// gcTable removes one table. inDroppedDB means the table goes with its
// expired database, whatever its own drop time.
func (a *API) gcTable(ctx context.Context, tenant string, d DroppedID, inDroppedDB bool) (bool, error) {
	var removed bool
	err := a.run(ctx, "gc_table", func(ctx context.Context) (bool, error) {
		removed = false
		b := a.newTxn()
		if inDroppedDB {
			db, err := kvapi.Get[DatabaseMeta](ctx, a.c, DatabaseID{DBID: d.DBID})
			if err != nil {
				return false, err
			}
			if db == nil || !a.expired(db.Data.DropOn) {
				return true, nil
			}
			b.CondSeq(DatabaseID{DBID: d.DBID}, db.Seq)
		}
		metaKey := TableID{TableID: d.TableID}
		meta, err := kvapi.Get[TableMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil {
			return true, nil
		}
		if !inDroppedDB && !a.expired(meta.Data.DropOn) {
			log.Warn("skip gc of table not past retention", zap.Uint64("table-id", d.TableID))
			return true, nil
		}
		b.CondSeq(metaKey, meta.Seq).Delete(metaKey)

		listName := d.ListName
		toNameKey := TableIDToName{TableID: d.TableID}
		toName, err := kvapi.Get[DBIDTableName](ctx, a.c, toNameKey)
		if err != nil {
			return false, err
		}
		if toName != nil {
			b.CondSeq(toNameKey, toName.Seq).Delete(toNameKey)
			if listName == "" {
				listName = toName.Data.TableName
			}
			bound, err := getID(ctx, a.c, toName.Data)
			if err != nil {
				return false, err
			}
			if bound != nil && bound.Data == d.TableID {
				b.CondSeq(toName.Data, bound.Seq).Delete(toName.Data)
			}
		}
		if listName != "" {
			listKey := TableIDListKey{DBID: d.DBID, TableName: listName}
			list, err := getIDList(ctx, a.c, listKey)
			if err != nil {
				return false, err
			}
			if !txn.RemoveID(b, listKey, list, d.TableID) {
				b.CondSeq(listKey, list.GetSeq())
			}
		}

		policies := make(map[string]struct{})
		for _, p := range meta.Data.ColumnMaskPolicy {
			policies[p] = struct{}{}
		}
		for p := range policies {
			key := MaskPolicyTableIDListKey{Tenant: tenant, PolicyName: p}
			list, err := getIDList(ctx, a.c, key)
			if err != nil {
				return false, err
			}
			txn.RemoveID(b, key, list, d.TableID)
		}

		if err := a.unlinkTableIndexes(ctx, b, d.TableID); err != nil {
			return false, err
		}

		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		removed = true
		return true, nil
	})
	if err != nil || !removed {
		return false, err
	}

	// Copied files and locks carry ttls, so a record written after this
	// listing is left to expire or to a later pass.
	files, err := a.deletePrefix(ctx, dirOf(tableCopiedFilePrefix, u64(d.TableID)), a.cfg.GCBatchSize)
	if err != nil {
		return true, err
	}
	locks, err := a.deletePrefix(ctx, dirOf(tableLockPrefix, u64(d.TableID)), a.cfg.GCBatchSize)
	if err != nil {
		return true, err
	}
	gcCounter.WithLabelValues("table").Inc()
	log.Info("gc table",
		zap.Uint64("db-id", d.DBID),
		zap.Uint64("table-id", d.TableID),
		zap.Int("copied-files", files),
		zap.Int("locks", locks))
	return true, nil
}

// unlinkTableIndexes adds the removal of every aggregating index of a table
// to b.
func (a *API) unlinkTableIndexes(ctx context.Context, b *txn.Builder, tableID uint64) error {
	metas, err := kvapi.List[IndexMeta](ctx, a.c, indexByIDPrefix+"/")
	if err != nil {
		return err
	}
	for _, p := range metas {
		if p.Value.Data.TableID != tableID {
			continue
		}
		indexID, err := lastSegmentU64(p.Key)
		if err != nil {
			return err
		}
		if err := a.removeIndex(ctx, b, indexID, p.Value.Seq); err != nil {
			return err
		}
	}
	return nil
}

// removeIndex adds the removal of an index read at metaSeq to b.
func (a *API) removeIndex(ctx context.Context, b *txn.Builder, indexID, metaSeq uint64) error {
	metaKey := IndexID{IndexID: indexID}
	b.CondSeq(metaKey, metaSeq).Delete(metaKey)
	toNameKey := IndexIDToName{IndexID: indexID}
	toName, err := kvapi.Get[IndexNameIdent](ctx, a.c, toNameKey)
	if err != nil || toName == nil {
		return err
	}
	b.CondSeq(toNameKey, toName.Seq).Delete(toNameKey)
	bound, err := getID(ctx, a.c, toName.Data)
	if err != nil {
		return err
	}
	if bound != nil && bound.Data == indexID {
		b.CondSeq(toName.Data, bound.Seq).Delete(toName.Data)
	}
	return nil
}

// gcDroppedIndexes removes the indexes of a tenant dropped longer than the
// retention ago.
func (a *API) gcDroppedIndexes(ctx context.Context, tenant string) (int, error) {
	metas, err := kvapi.List[IndexMeta](ctx, a.c, indexByIDPrefix+"/")
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range metas {
		if !a.expired(p.Value.Data.DroppedOn) {
			continue
		}
		indexID, err := lastSegmentU64(p.Key)
		if err != nil {
			return removed, err
		}
		done := false
		err = a.run(ctx, "gc_index", func(ctx context.Context) (bool, error) {
			done = false
			meta, err := kvapi.Get[IndexMeta](ctx, a.c, IndexID{IndexID: indexID})
			if err != nil {
				return false, err
			}
			if meta == nil || !a.expired(meta.Data.DroppedOn) {
				return true, nil
			}
			toName, err := kvapi.Get[IndexNameIdent](ctx, a.c, IndexIDToName{IndexID: indexID})
			if err != nil {
				return false, err
			}
			if toName != nil && toName.Data.Tenant != tenant {
				return true, nil
			}
			b := a.newTxn()
			if err := a.removeIndex(ctx, b, indexID, meta.Seq); err != nil {
				return false, err
			}
			ok, _, err := b.Commit(ctx)
			done = ok
			return ok, err
		})
		if err != nil {
			return removed, err
		}
		if done {
			removed++
			gcCounter.WithLabelValues("index").Inc()
		}
	}
	return removed, nil
}

// gcDatabase removes an expired database with all its tables and
// dictionaries. It returns the number of tables removed.
func (a *API) gcDatabase(ctx context.Context, dbID uint64) (int, bool, error) {
	toName, err := kvapi.Get[DatabaseNameIdent](ctx, a.c, DatabaseIDToName{DBID: dbID})
	if err != nil {
		return 0, false, err
	}
	var tenant string
	if toName != nil {
		tenant = toName.Data.Tenant
	}

	lists, err := kvapi.List[txn.IDList](ctx, a.c, dirOf(tableIDListPrefix, u64(dbID)))
	if err != nil {
		return 0, false, err
	}
	tables := 0
	for _, l := range lists {
		listName, err := lastSegment(l.Key)
		if err != nil {
			return tables, false, err
		}
		for _, tableID := range l.Value.Data.IDs {
			removed, err := a.gcTable(ctx, tenant, DroppedID{DBID: dbID, TableID: tableID, ListName: listName}, true)
			if err != nil {
				return tables, false, err
			}
			if removed {
				tables++
			}
		}
	}

	var removed bool
	err = a.run(ctx, "gc_database", func(ctx context.Context) (bool, error) {
		removed = false
		metaKey := DatabaseID{DBID: dbID}
		meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, metaKey)
		if err != nil {
			return false, err
		}
		if meta == nil || !a.expired(meta.Data.DropOn) {
			return true, nil
		}
		rest, err := kvapi.List[txn.IDList](ctx, a.c, dirOf(tableIDListPrefix, u64(dbID)))
		if err != nil {
			return false, err
		}
		if len(rest) > 0 {
			log.Warn("skip gc of database with tables left", zap.Uint64("db-id", dbID), zap.Int("lists", len(rest)))
			return true, nil
		}

		b := a.newTxn()
		b.CondSeq(metaKey, meta.Seq).Delete(metaKey)
		toNameKey := DatabaseIDToName{DBID: dbID}
		toName, err := kvapi.Get[DatabaseNameIdent](ctx, a.c, toNameKey)
		if err != nil {
			return false, err
		}
		if toName != nil {
			b.CondSeq(toNameKey, toName.Seq).Delete(toNameKey)
			listKey := DBIDListKey{Tenant: toName.Data.Tenant, DBName: toName.Data.DBName}
			list, err := getIDList(ctx, a.c, listKey)
			if err != nil {
				return false, err
			}
			if !txn.RemoveID(b, listKey, list, dbID) {
				b.CondSeq(listKey, list.GetSeq())
			}
			bound, err := getID(ctx, a.c, toName.Data)
			if err != nil {
				return false, err
			}
			if bound != nil && bound.Data == dbID {
				b.CondSeq(toName.Data, bound.Seq).Delete(toName.Data)
			}
		}
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		removed = true
		return true, nil
	})
	if err != nil || !removed {
		return tables, false, err
	}

	dicts, err := a.gcDictionaries(ctx, tenant, dbID)
	if err != nil {
		return tables, true, err
	}
	gcCounter.WithLabelValues("database").Inc()
	log.Info("gc database", zap.Uint64("db-id", dbID), zap.Int("tables", tables), zap.Int("dictionaries", dicts))
	return tables, true, nil
}

// gcDictionaries removes the dictionaries of a removed database.
func (a *API) gcDictionaries(ctx context.Context, tenant string, dbID uint64) (int, error) {
	pairs, err := kvapi.List[uint64](ctx, a.c, dirOf(dictionaryPrefix, escape(tenant), u64(dbID)))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range pairs {
		metaKey := DictionaryID{DictID: p.Value.Data}
		meta, err := kvapi.Get[DictionaryMeta](ctx, a.c, metaKey)
		if err != nil {
			return removed, err
		}
		b := a.newTxn()
		b.DeleteExact(rawKey(p.Key), p.Value.Seq)
		if meta != nil {
			b.DeleteExact(metaKey, meta.Seq)
		}
		if _, _, err := b.Commit(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
