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

	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

func copyStrMap(m map[string]string) map[string]string {
	res := make(map[string]string, len(m))
	for k, v := range m {
		res[k] = v
	}
	return res
}

// sameStrMap treats nil and empty maps as equal.
func sameStrMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// putSeq returns the seq a committed put assigned to key.
func putSeq(reply *kv.TxnReply, key kvapi.Key) uint64 {
	k := key.StringKey()
	for _, resp := range reply.Responses {
		if resp.Type == kv.OpPut && resp.Key == k && resp.Current != nil {
			return resp.Current.Seq
		}
	}
	return 0
}

// deletePrefix removes every key under prefix, batchSize keys per
// transaction. Each delete only matches the seq that was listed, so a key
// rewritten meanwhile survives. The listing is not transactional.
func (a *API) deletePrefix(ctx context.Context, prefix string, batchSize int) (int, error) {
	stream, err := a.c.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	pairs, err := kv.CollectPairs(stream)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		b := a.newTxn()
		for _, p := range pairs[start:end] {
			b.DeleteExact(rawKey(p.Key), p.Value.Seq)
		}
		_, reply, err := b.Commit(ctx)
		if err != nil {
			return deleted, err
		}
		for _, resp := range reply.Responses {
			if resp.Deleted {
				deleted++
			}
		}
	}
	return deleted, nil
}

// TruncateTable removes the copied-file records of a table.
func (a *API) TruncateTable(ctx context.Context, req *TruncateTableReq) error {
	meta, err := kvapi.Get[TableMeta](ctx, a.c, TableID{TableID: req.TableID})
	if err != nil {
		return err
	}
	if meta == nil {
		return newError(CodeUnknownTableID, "truncate table %d: does not exist", req.TableID)
	}
	batch := req.BatchSize
	if batch <= 0 {
		batch = a.cfg.GCBatchSize
	}
	n, err := a.deletePrefix(ctx, dirOf(tableCopiedFilePrefix, u64(req.TableID)), batch)
	if err != nil {
		return err
	}
	log.Info("truncate table", zap.Uint64("table-id", req.TableID), zap.Int("copied-files", n))
	return nil
}

// UpsertTableOption sets or removes options of a table meta read at Seq.
func (a *API) UpsertTableOption(ctx context.Context, req *UpsertTableOptionReq) (*UpsertTableOptionReply, error) {
	metaKey := TableID{TableID: req.TableID}
	reply := &UpsertTableOptionReply{}
	err := a.run(ctx, "upsert_table_option", func(ctx context.Context) (bool, error) {
		meta, err := a.liveTableByID(ctx, req.TableID)
		if err != nil {
			return false, err
		}
		if err := checkSeq(req.TableID, req.Seq, meta, "upsert table option"); err != nil {
			return false, err
		}
		m := meta.Data
		m.Options = copyStrMap(m.Options)
		for k, v := range req.Options {
			if v == nil {
				delete(m.Options, k)
			} else {
				m.Options[k] = *v
			}
		}
		m.UpdatedOn = a.now()

		b := a.newTxn()
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		ok, txnReply, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply.Seq = putSeq(txnReply, metaKey)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// UpdateMultiTableMeta replaces several table metas, each read at its Seq,
// and records copied files, all in one transaction.
func (a *API) UpdateMultiTableMeta(ctx context.Context, req *UpdateMultiTableMetaReq) (*UpdateMultiTableMetaReply, error) {
	var reply *UpdateMultiTableMetaReply
	err := a.run(ctx, "update_multi_table_meta", func(ctx context.Context) (bool, error) {
		b := a.newTxn()
		now := a.now()
		for _, upd := range req.UpdateTableMetas {
			metaKey := TableID{TableID: upd.TableID}
			if b.Writes(metaKey) {
				return false, newError(CodeTableVersionMismatched, "table %d is updated twice", upd.TableID)
			}
			meta, err := a.liveTableByID(ctx, upd.TableID)
			if err != nil {
				return false, err
			}
			if err := checkSeq(upd.TableID, upd.Seq, meta, "update multi table meta"); err != nil {
				return false, err
			}
			// The policy to tables lists are kept by SetTableColumnMaskPolicy.
			if !sameStrMap(meta.Data.ColumnMaskPolicy, upd.NewMeta.ColumnMaskPolicy) {
				return false, newError(CodeMaskPolicyChangeNotAllowed, "update table %d: column mask policies can only be changed by SetTableColumnMaskPolicy", upd.TableID)
			}
			m := upd.NewMeta
			m.UpdatedOn = now
			b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		}

		for _, files := range req.CopiedFiles {
			metaKey := TableID{TableID: files.TableID}
			if !b.Writes(metaKey) {
				meta, err := a.liveTableByID(ctx, files.TableID)
				if err != nil {
					return false, err
				}
				b.CondSeq(metaKey, meta.Seq)
			}
			names := make([]string, 0, len(files.FileInfo))
			for name := range files.FileInfo {
				names = append(names, name)
			}
			sort.Strings(names)
			keys := make([]TableCopiedFileKey, len(names))
			for i, name := range names {
				keys[i] = TableCopiedFileKey{TableID: files.TableID, File: name}
			}
			if files.InsertIfNotExists {
				existing, err := kvapi.MGet[TableCopiedFileInfo](ctx, a.c, keys)
				if err != nil {
					return false, err
				}
				for i, e := range existing {
					if e != nil {
						return false, newError(CodeDuplicatedUpsertFiles, "table %d: file %q is already copied", files.TableID, names[i])
					}
				}
			}
			for i, key := range keys {
				if files.InsertIfNotExists {
					b.CondAbsent(key)
				}
				info := files.FileInfo[names[i]]
				b.PutWithTTL(key, &info, files.TTL)
			}
		}

		ok, txnReply, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		reply = &UpdateMultiTableMetaReply{Seqs: make(map[uint64]uint64, len(req.UpdateTableMetas))}
		for _, upd := range req.UpdateTableMetas {
			reply.Seqs[upd.TableID] = putSeq(txnReply, TableID{TableID: upd.TableID})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func usesPolicy(policies map[string]string, policy string) bool {
	for _, p := range policies {
		if p == policy {
			return true
		}
	}
	return false
}

// SetTableColumnMaskPolicy sets or unsets (nil NewPolicy) the mask policy of
// a column, keeping the policy's table list in step.
func (a *API) SetTableColumnMaskPolicy(ctx context.Context, req *SetTableColumnMaskPolicyReq) error {
	metaKey := TableID{TableID: req.TableID}
	return a.run(ctx, "set_table_column_mask_policy", func(ctx context.Context) (bool, error) {
		meta, err := a.liveTableByID(ctx, req.TableID)
		if err != nil {
			return false, err
		}
		if err := checkSeq(req.TableID, req.Seq, meta, "set column mask policy"); err != nil {
			return false, err
		}
		if _, ok := meta.Data.Schema.Field(req.ColumnName); !ok {
			return false, newError(CodeUnknownColumn, "table %d has no column %q", req.TableID, req.ColumnName)
		}
		old, hasOld := meta.Data.ColumnMaskPolicy[req.ColumnName]
		if req.NewPolicy == nil && !hasOld {
			return true, nil
		}
		if req.NewPolicy != nil && hasOld && old == *req.NewPolicy {
			return true, nil
		}

		m := meta.Data
		m.ColumnMaskPolicy = copyStrMap(m.ColumnMaskPolicy)
		if req.NewPolicy == nil {
			delete(m.ColumnMaskPolicy, req.ColumnName)
		} else {
			m.ColumnMaskPolicy[req.ColumnName] = *req.NewPolicy
		}
		m.UpdatedOn = a.now()

		b := a.newTxn()
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		if hasOld && !usesPolicy(m.ColumnMaskPolicy, old) {
			key := MaskPolicyTableIDListKey{Tenant: req.Tenant, PolicyName: old}
			list, err := getIDList(ctx, a.c, key)
			if err != nil {
				return false, err
			}
			txn.RemoveID(b, key, list, req.TableID)
		}
		if req.NewPolicy != nil {
			key := MaskPolicyTableIDListKey{Tenant: req.Tenant, PolicyName: *req.NewPolicy}
			list, err := getIDList(ctx, a.c, key)
			if err != nil {
				return false, err
			}
			if listOf(list).Contains(req.TableID) {
				b.CondSeq(key, list.Seq)
			} else {
				txn.AppendID(b, key, list, req.TableID)
			}
		}

		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// ListMaskPolicyTables returns the ids of tables using a mask policy.
func (a *API) ListMaskPolicyTables(ctx context.Context, tenant, policy string) ([]uint64, error) {
	list, err := getIDList(ctx, a.c, MaskPolicyTableIDListKey{Tenant: tenant, PolicyName: policy})
	if err != nil || list == nil {
		return nil, err
	}
	return list.Data.IDs, nil
}

// CreateTableIndex adds an index over existing columns to a table meta. A
// column may belong to one index only.
func (a *API) CreateTableIndex(ctx context.Context, req *CreateTableIndexReq) error {
	metaKey := TableID{TableID: req.TableID}
	return a.run(ctx, "create_table_index", func(ctx context.Context) (bool, error) {
		meta, err := a.liveTableByID(ctx, req.TableID)
		if err != nil {
			return false, err
		}
		if _, ok := meta.Data.Indexes[req.Name]; ok {
			switch req.CreateOption {
			case Create:
				return false, newError(CodeIndexAlreadyExists, "table %d already has index %q", req.TableID, req.Name)
			case CreateIfNotExists:
				return true, nil
			}
		}

		seen := make(map[uint32]struct{}, len(req.ColumnIDs))
		for _, col := range req.ColumnIDs {
			if _, ok := seen[col]; ok {
				return false, newError(CodeDuplicatedIndexColumnID, "index %q lists column %d twice", req.Name, col)
			}
			seen[col] = struct{}{}
			if !meta.Data.Schema.HasColumnID(col) {
				return false, newError(CodeUnknownColumnID, "table %d has no column id %d", req.TableID, col)
			}
		}
		for name, idx := range meta.Data.Indexes {
			if name == req.Name {
				continue
			}
			for _, col := range idx.ColumnIDs {
				if _, ok := seen[col]; ok {
					return false, newError(CodeDuplicatedIndexColumnID, "column %d is already indexed by %q", col, name)
				}
			}
		}

		m := meta.Data
		m.Indexes = make(map[string]TableIndex, len(meta.Data.Indexes)+1)
		for k, v := range meta.Data.Indexes {
			m.Indexes[k] = v
		}
		m.Indexes[req.Name] = TableIndex{
			Name:      req.Name,
			ColumnIDs: req.ColumnIDs,
			Sync:      req.Sync,
			Options:   req.Options,
		}
		m.UpdatedOn = a.now()

		b := a.newTxn()
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}

// DropTableIndex removes an index from a table meta.
func (a *API) DropTableIndex(ctx context.Context, req *DropTableIndexReq) error {
	metaKey := TableID{TableID: req.TableID}
	return a.run(ctx, "drop_table_index", func(ctx context.Context) (bool, error) {
		meta, err := a.liveTableByID(ctx, req.TableID)
		if err != nil {
			return false, err
		}
		if _, ok := meta.Data.Indexes[req.Name]; !ok {
			if req.IfExists {
				return true, nil
			}
			return false, newError(CodeUnknownIndex, "table %d has no index %q", req.TableID, req.Name)
		}
		m := meta.Data
		m.Indexes = make(map[string]TableIndex, len(meta.Data.Indexes))
		for k, v := range meta.Data.Indexes {
			if k != req.Name {
				m.Indexes[k] = v
			}
		}
		m.UpdatedOn = a.now()

		b := a.newTxn()
		b.CondSeq(metaKey, meta.Seq).Put(metaKey, &m)
		ok, _, err := b.Commit(ctx)
		return ok, err
	})
}
