// Copyright 2017 PingCAP, Inc.
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

package kv

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
)

const defaultBTreeDegree = 32

type memoryKVItem struct {
	key      string
	seq      uint64
	value    []byte
	expireAt *time.Time
}

// Less compares the keys of two items.
func (s *memoryKVItem) Less(than btree.Item) bool {
	return s.key < than.(*memoryKVItem).key
}

func (s *memoryKVItem) expired(now time.Time) bool {
	return s.expireAt != nil && !now.Before(*s.expireAt)
}

func (s *memoryKVItem) seqV() *SeqV {
	v := &SeqV{Seq: s.seq, Data: append([]byte(nil), s.value...)}
	if s.expireAt != nil {
		t := *s.expireAt
		v.ExpireAt = &t
	}
	return v
}

// MemoryKV is an in-process Store. Every write takes the next value of a
// single revision counter as its seq, so seqs grow strictly like etcd's
// mod revisions.
type MemoryKV struct {
	sync.RWMutex
	tree     *btree.BTree
	revision uint64
	now      func() time.Time
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		tree: btree.New(defaultBTreeDegree),
		now:  time.Now,
	}
}

// SetClock replaces the clock used to evaluate ttl expiry. Tests use it to
// move time forward.
func (kv *MemoryKV) SetClock(now func() time.Time) {
	kv.Lock()
	defer kv.Unlock()
	kv.now = now
}

// Revision returns the seq of the latest write.
func (kv *MemoryKV) Revision() uint64 {
	kv.RLock()
	defer kv.RUnlock()
	return kv.revision
}

// Len returns the number of live keys.
func (kv *MemoryKV) Len() int {
	kv.RLock()
	defer kv.RUnlock()
	now := kv.now()
	n := 0
	kv.tree.Ascend(func(i btree.Item) bool {
		if !i.(*memoryKVItem).expired(now) {
			n++
		}
		return true
	})
	return n
}

func (kv *MemoryKV) getLocked(key string, now time.Time) *memoryKVItem {
	item := kv.tree.Get(&memoryKVItem{key: key})
	if item == nil {
		return nil
	}
	it := item.(*memoryKVItem)
	if it.expired(now) {
		return nil
	}
	return it
}

// Get implements Store.
func (kv *MemoryKV) Get(ctx context.Context, key string) (*SeqV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kv.RLock()
	defer kv.RUnlock()
	it := kv.getLocked(key, kv.now())
	if it == nil {
		return nil, nil
	}
	return it.seqV(), nil
}

// MGet implements Store.
func (kv *MemoryKV) MGet(ctx context.Context, keys []string) ([]*SeqV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kv.RLock()
	defer kv.RUnlock()
	now := kv.now()
	res := make([]*SeqV, len(keys))
	for i, key := range keys {
		if it := kv.getLocked(key, now); it != nil {
			res[i] = it.seqV()
		}
	}
	return res, nil
}

// GetStream implements StreamGetter.
func (kv *MemoryKV) GetStream(ctx context.Context, keys []string) (SeqVStream, error) {
	values, err := kv.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	return NewSliceSeqVStream(values), nil
}

// List implements Store.
func (kv *MemoryKV) List(ctx context.Context, prefix string) (PairStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kv.RLock()
	defer kv.RUnlock()
	now := kv.now()
	var pairs []*KVPair
	visit := func(i btree.Item) bool {
		it := i.(*memoryKVItem)
		if !it.expired(now) {
			pairs = append(pairs, &KVPair{Key: it.key, Value: it.seqV()})
		}
		return true
	}
	end := PrefixEnd(prefix)
	if end == "" {
		kv.tree.AscendGreaterOrEqual(&memoryKVItem{key: prefix}, visit)
	} else {
		kv.tree.AscendRange(&memoryKVItem{key: prefix}, &memoryKVItem{key: end}, visit)
	}
	return NewSlicePairStream(pairs), nil
}

// Transaction implements Store.
func (kv *MemoryKV) Transaction(ctx context.Context, req *TxnRequest) (*TxnReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDuplicateWrites(req); err != nil {
		return nil, err
	}

	kv.Lock()
	defer kv.Unlock()
	now := kv.now()

	success := true
	for _, cond := range req.Conditions {
		var seq uint64
		if it := kv.getLocked(cond.Key, now); it != nil {
			seq = it.seq
		}
		if seq != cond.Seq {
			success = false
			break
		}
	}

	ops := req.IfThen
	if !success {
		ops = req.ElseThen
	}
	reply := &TxnReply{Success: success, Responses: make([]*TxnOpResponse, 0, len(ops))}
	for _, op := range ops {
		reply.Responses = append(reply.Responses, kv.applyLocked(op, now))
	}
	return reply, nil
}

func (kv *MemoryKV) applyLocked(op *TxnOp, now time.Time) *TxnOpResponse {
	resp := &TxnOpResponse{Type: op.Type, Key: op.Key}
	prev := kv.getLocked(op.Key, now)
	if prev != nil && op.Type != OpGet {
		resp.Prev = prev.seqV()
	}
	switch op.Type {
	case OpGet:
		if prev != nil {
			resp.Current = prev.seqV()
		}
	case OpPut:
		kv.revision++
		item := &memoryKVItem{
			key:   op.Key,
			seq:   kv.revision,
			value: append([]byte(nil), op.Value...),
		}
		if op.TTL > 0 {
			expireAt := now.Add(op.TTL)
			item.expireAt = &expireAt
		}
		kv.tree.ReplaceOrInsert(item)
		resp.Current = item.seqV()
	case OpDelete:
		if prev != nil {
			kv.tree.Delete(prev)
			kv.revision++
			resp.Deleted = true
		}
	case OpDeleteExact:
		if prev != nil && prev.seq == op.MatchSeq {
			kv.tree.Delete(prev)
			kv.revision++
			resp.Deleted = true
		}
	}
	return resp
}
