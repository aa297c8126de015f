// Copyright 2018 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package kv

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	leveldbDataPrefix  = "d/"
	leveldbRevisionKey = "m/revision"
)

// leveldbRecord is the envelope stored for every user key.
type leveldbRecord struct {
	Seq      uint64 `msgpack:"seq"`
	Data     []byte `msgpack:"data"`
	ExpireAt int64  `msgpack:"expire_at,omitempty"`
}

func (r *leveldbRecord) expired(now time.Time) bool {
	return r.ExpireAt != 0 && now.UnixNano() >= r.ExpireAt
}

func (r *leveldbRecord) seqV() *SeqV {
	v := &SeqV{Seq: r.Seq, Data: r.Data}
	if r.ExpireAt != 0 {
		t := time.Unix(0, r.ExpireAt)
		v.ExpireAt = &t
	}
	return v
}

// LeveldbKV is a single node Store persisted in leveldb. Transactions are
// serialized by a mutex and written as one leveldb batch.
type LeveldbKV struct {
	*leveldb.DB
	// mu serializes transactions so condition checks and writes are atomic.
	mu  sync.Mutex
	now func() time.Time
}

// NewLeveldbKV opens (or creates) a LeveldbKV in path.
func NewLeveldbKV(path string) (*LeveldbKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LeveldbKV{DB: db, now: time.Now}, nil
}

// NewMemLeveldbKV creates a LeveldbKV on leveldb's in-memory storage.
func NewMemLeveldbKV() (*LeveldbKV, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LeveldbKV{DB: db, now: time.Now}, nil
}

func (kv *LeveldbKV) load(key string, now time.Time) (*leveldbRecord, error) {
	raw, err := kv.DB.Get([]byte(leveldbDataPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rec := &leveldbRecord{}
	if err := msgpack.Unmarshal(raw, rec); err != nil {
		return nil, errors.Wrapf(err, "corrupted leveldb record %q", key)
	}
	if rec.expired(now) {
		return nil, nil
	}
	return rec, nil
}

// Get implements Store.
func (kv *LeveldbKV) Get(ctx context.Context, key string) (*SeqV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := kv.load(key, kv.now())
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.seqV(), nil
}

// MGet implements Store.
func (kv *LeveldbKV) MGet(ctx context.Context, keys []string) ([]*SeqV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := kv.now()
	res := make([]*SeqV, len(keys))
	for i, key := range keys {
		rec, err := kv.load(key, now)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			res[i] = rec.seqV()
		}
	}
	return res, nil
}

// List implements Store.
func (kv *LeveldbKV) List(ctx context.Context, prefix string) (PairStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := kv.now()
	iter := kv.NewIterator(util.BytesPrefix([]byte(leveldbDataPrefix+prefix)), nil)
	defer iter.Release()
	var pairs []*KVPair
	for iter.Next() {
		rec := &leveldbRecord{}
		if err := msgpack.Unmarshal(iter.Value(), rec); err != nil {
			return nil, errors.Wrapf(err, "corrupted leveldb record %q", iter.Key())
		}
		if rec.expired(now) {
			continue
		}
		key := string(iter.Key()[len(leveldbDataPrefix):])
		pairs = append(pairs, &KVPair{Key: key, Value: rec.seqV()})
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithStack(err)
	}
	return NewSlicePairStream(pairs), nil
}

func (kv *LeveldbKV) loadRevision() (uint64, error) {
	raw, err := kv.DB.Get([]byte(leveldbRevisionKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if len(raw) != 8 {
		return 0, errors.Errorf("invalid revision length %d", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Transaction implements Store.
func (kv *LeveldbKV) Transaction(ctx context.Context, req *TxnRequest) (*TxnReply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDuplicateWrites(req); err != nil {
		return nil, err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	now := kv.now()

	success := true
	for _, cond := range req.Conditions {
		rec, err := kv.load(cond.Key, now)
		if err != nil {
			return nil, err
		}
		var seq uint64
		if rec != nil {
			seq = rec.Seq
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

	revision, err := kv.loadRevision()
	if err != nil {
		return nil, err
	}
	batch := new(leveldb.Batch)
	reply := &TxnReply{Success: success, Responses: make([]*TxnOpResponse, 0, len(ops))}
	for _, op := range ops {
		prev, err := kv.load(op.Key, now)
		if err != nil {
			return nil, err
		}
		resp := &TxnOpResponse{Type: op.Type, Key: op.Key}
		if prev != nil && op.Type != OpGet {
			resp.Prev = prev.seqV()
		}
		dataKey := []byte(leveldbDataPrefix + op.Key)
		switch op.Type {
		case OpGet:
			if prev != nil {
				resp.Current = prev.seqV()
			}
		case OpPut:
			revision++
			rec := &leveldbRecord{Seq: revision, Data: op.Value}
			if op.TTL > 0 {
				rec.ExpireAt = now.Add(op.TTL).UnixNano()
			}
			value, err := msgpack.Marshal(rec)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			batch.Put(dataKey, value)
			resp.Current = rec.seqV()
		case OpDelete, OpDeleteExact:
			if prev != nil && (op.Type == OpDelete || prev.Seq == op.MatchSeq) {
				revision++
				batch.Delete(dataKey)
				resp.Deleted = true
			}
		}
		reply.Responses = append(reply.Responses, resp)
	}

	if batch.Len() > 0 {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], revision)
		batch.Put([]byte(leveldbRevisionKey), buf[:])
		if err := kv.Write(batch, nil); err != nil {
			localTxnCounter.WithLabelValues("failed").Inc()
			return nil, errors.WithStack(err)
		}
	}
	if success {
		localTxnCounter.WithLabelValues("success").Inc()
	} else {
		localTxnCounter.WithLabelValues("condition-failed").Inc()
	}
	return reply, nil
}
