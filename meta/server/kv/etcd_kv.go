// Copyright 2016 PingCAP, Inc.
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
	"io"
	"strings"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/mvcc/mvccpb"
	"go.uber.org/zap"
)

const (
	// DefaultSlowRequestTime is the threshold above which a txn is logged.
	DefaultSlowRequestTime = time.Second

	// etcd rejects txns with more ops than --max-txn-ops, 128 by default.
	maxEtcdTxnOps = 128
	// listPageSize is the number of keys fetched per range request.
	listPageSize = 1000
)

// EtcdKV is a Store backed by an etcd cluster. A key's seq is its etcd mod
// revision, which is strictly increasing across the whole cluster.
type EtcdKV struct {
	client   *clientv3.Client
	rootPath string
}

// NewEtcdKV creates an EtcdKV. All keys are stored under rootPath.
func NewEtcdKV(client *clientv3.Client, rootPath string) *EtcdKV {
	return &EtcdKV{
		client:   client,
		rootPath: strings.TrimSuffix(rootPath, "/"),
	}
}

func (kv *EtcdKV) fullKey(key string) string {
	if kv.rootPath == "" {
		return key
	}
	return kv.rootPath + "/" + key
}

func (kv *EtcdKV) shortKey(key string) string {
	if kv.rootPath == "" {
		return key
	}
	return strings.TrimPrefix(key, kv.rootPath+"/")
}

func seqVFromEtcd(kv *mvccpb.KeyValue) *SeqV {
	if kv == nil {
		return nil
	}
	return &SeqV{Seq: uint64(kv.ModRevision), Data: kv.Value}
}

// leaseExpiry fills SeqV.ExpireAt from the remaining ttl of a key's lease.
// Each lease is looked up once per read.
type leaseExpiry struct {
	ctx    context.Context
	client *clientv3.Client
	leases map[int64]*time.Time
}

func (kv *EtcdKV) newLeaseExpiry(ctx context.Context) *leaseExpiry {
	return &leaseExpiry{ctx: ctx, client: kv.client, leases: make(map[int64]*time.Time)}
}

func (e *leaseExpiry) seqV(item *mvccpb.KeyValue) (*SeqV, error) {
	v := seqVFromEtcd(item)
	if v == nil || item.Lease == 0 {
		return v, nil
	}
	at, ok := e.leases[item.Lease]
	if !ok {
		resp, err := e.client.TimeToLive(e.ctx, clientv3.LeaseID(item.Lease))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		t := time.Now()
		if resp.TTL > 0 {
			t = t.Add(time.Duration(resp.TTL) * time.Second)
		}
		at = &t
		e.leases[item.Lease] = at
	}
	v.ExpireAt = at
	return v, nil
}

// Get implements Store.
func (kv *EtcdKV) Get(ctx context.Context, key string) (*SeqV, error) {
	resp, err := kv.client.Get(ctx, kv.fullKey(key))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if n := len(resp.Kvs); n == 0 {
		return nil, nil
	} else if n > 1 {
		return nil, errors.Errorf("load more than one kvs: key %v kvs %v", key, n)
	}
	return kv.newLeaseExpiry(ctx).seqV(resp.Kvs[0])
}

// MGet implements Store. Keys are read in txns of at most maxEtcdTxnOps gets
// so that each chunk is a consistent snapshot.
func (kv *EtcdKV) MGet(ctx context.Context, keys []string) ([]*SeqV, error) {
	res := make([]*SeqV, 0, len(keys))
	for start := 0; start < len(keys); start += maxEtcdTxnOps {
		end := start + maxEtcdTxnOps
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := kv.mgetChunk(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		res = append(res, chunk...)
	}
	return res, nil
}

func (kv *EtcdKV) mgetChunk(ctx context.Context, keys []string) ([]*SeqV, error) {
	ops := make([]clientv3.Op, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, clientv3.OpGet(kv.fullKey(key)))
	}
	resp, err := NewSlowLogTxn(ctx, kv.client).Then(ops...).Commit()
	if err != nil {
		return nil, err
	}
	if len(resp.Responses) != len(keys) {
		return nil, errors.Errorf("txn returns %d responses for %d gets", len(resp.Responses), len(keys))
	}
	expiry := kv.newLeaseExpiry(ctx)
	res := make([]*SeqV, len(keys))
	for i, r := range resp.Responses {
		if rng := r.GetResponseRange(); rng != nil && len(rng.Kvs) > 0 {
			if res[i], err = expiry.seqV(rng.Kvs[0]); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

// GetStream implements StreamGetter. Chunks are fetched lazily; the stream
// ends early if the context is cancelled between chunks.
func (kv *EtcdKV) GetStream(ctx context.Context, keys []string) (SeqVStream, error) {
	return &etcdSeqVStream{ctx: ctx, kv: kv, keys: keys}, nil
}

type etcdSeqVStream struct {
	ctx  context.Context
	kv   *EtcdKV
	keys []string
	buf  []*SeqV
}

func (s *etcdSeqVStream) Recv() (*SeqV, error) {
	if len(s.buf) == 0 {
		if len(s.keys) == 0 || s.ctx.Err() != nil {
			return nil, io.EOF
		}
		n := maxEtcdTxnOps
		if n > len(s.keys) {
			n = len(s.keys)
		}
		chunk, err := s.kv.mgetChunk(s.ctx, s.keys[:n])
		if err != nil {
			return nil, err
		}
		s.keys, s.buf = s.keys[n:], chunk
	}
	v := s.buf[0]
	s.buf = s.buf[1:]
	return v, nil
}

func (s *etcdSeqVStream) Close() {
	s.keys, s.buf = nil, nil
}

// List implements Store. Pages of listPageSize keys are fetched on demand.
func (kv *EtcdKV) List(ctx context.Context, prefix string) (PairStream, error) {
	start := kv.fullKey(prefix)
	return &etcdPairStream{
		ctx:  ctx,
		kv:   kv,
		next: start,
		end:  clientv3.GetPrefixRangeEnd(start),
	}, nil
}

type etcdPairStream struct {
	ctx  context.Context
	kv   *EtcdKV
	next string
	end  string
	buf  []*KVPair
	done bool
}

func (s *etcdPairStream) fetch() error {
	resp, err := s.kv.client.Get(s.ctx, s.next,
		clientv3.WithRange(s.end),
		clientv3.WithLimit(listPageSize),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return errors.WithStack(err)
	}
	expiry := s.kv.newLeaseExpiry(s.ctx)
	for _, item := range resp.Kvs {
		v, err := expiry.seqV(item)
		if err != nil {
			return err
		}
		s.buf = append(s.buf, &KVPair{Key: s.kv.shortKey(string(item.Key)), Value: v})
	}
	if !resp.More || len(resp.Kvs) == 0 {
		s.done = true
	} else {
		s.next = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}
	return nil
}

func (s *etcdPairStream) Recv() (*KVPair, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := s.fetch(); err != nil {
			return nil, err
		}
	}
	p := s.buf[0]
	s.buf = s.buf[1:]
	return p, nil
}

func (s *etcdPairStream) Close() {
	s.done, s.buf = true, nil
}

// Transaction implements Store.
func (kv *EtcdKV) Transaction(ctx context.Context, req *TxnRequest) (*TxnReply, error) {
	if err := checkDuplicateWrites(req); err != nil {
		return nil, err
	}
	cmps := make([]clientv3.Cmp, 0, len(req.Conditions))
	for _, cond := range req.Conditions {
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(kv.fullKey(cond.Key)), cond.Result.String(), int64(cond.Seq)))
	}
	thenOps, err := kv.toEtcdOps(ctx, req.IfThen)
	if err != nil {
		return nil, err
	}
	elseOps, err := kv.toEtcdOps(ctx, req.ElseThen)
	if err != nil {
		return nil, err
	}

	resp, err := NewSlowLogTxn(ctx, kv.client).If(cmps...).Then(thenOps...).Else(elseOps...).Commit()
	if err != nil {
		return nil, err
	}

	ops := req.IfThen
	if !resp.Succeeded {
		ops = req.ElseThen
	}
	if len(resp.Responses) != len(ops) {
		return nil, errors.Errorf("txn returns %d responses for %d ops", len(resp.Responses), len(ops))
	}
	expiry := kv.newLeaseExpiry(ctx)
	reply := &TxnReply{Success: resp.Succeeded, Responses: make([]*TxnOpResponse, 0, len(ops))}
	for i, op := range ops {
		r := &TxnOpResponse{Type: op.Type, Key: op.Key}
		raw := resp.Responses[i]
		switch op.Type {
		case OpGet:
			if rng := raw.GetResponseRange(); rng != nil && len(rng.Kvs) > 0 {
				if r.Current, err = expiry.seqV(rng.Kvs[0]); err != nil {
					return nil, err
				}
			}
		case OpPut:
			if put := raw.GetResponsePut(); put != nil {
				r.Prev = seqVFromEtcd(put.PrevKv)
			}
			r.Current = &SeqV{Seq: uint64(resp.Header.Revision), Data: op.Value}
			if op.TTL > 0 {
				expireAt := time.Now().Add(op.TTL)
				r.Current.ExpireAt = &expireAt
			}
		case OpDelete:
			if del := raw.GetResponseDeleteRange(); del != nil {
				r.Deleted = del.Deleted > 0
				if len(del.PrevKvs) > 0 {
					r.Prev = seqVFromEtcd(del.PrevKvs[0])
				}
			}
		case OpDeleteExact:
			if nested := raw.GetResponseTxn(); nested != nil && nested.Succeeded && len(nested.Responses) > 0 {
				if del := nested.Responses[0].GetResponseDeleteRange(); del != nil {
					r.Deleted = del.Deleted > 0
					if len(del.PrevKvs) > 0 {
						r.Prev = seqVFromEtcd(del.PrevKvs[0])
					}
				}
			}
		}
		reply.Responses = append(reply.Responses, r)
	}
	return reply, nil
}

func (kv *EtcdKV) toEtcdOps(ctx context.Context, ops []*TxnOp) ([]clientv3.Op, error) {
	res := make([]clientv3.Op, 0, len(ops))
	for _, op := range ops {
		key := kv.fullKey(op.Key)
		switch op.Type {
		case OpGet:
			res = append(res, clientv3.OpGet(key))
		case OpPut:
			opts := []clientv3.OpOption{clientv3.WithPrevKV()}
			if op.TTL > 0 {
				lease, err := kv.client.Grant(ctx, ttlSeconds(op.TTL))
				if err != nil {
					return nil, errors.WithStack(err)
				}
				opts = append(opts, clientv3.WithLease(lease.ID))
			}
			res = append(res, clientv3.OpPut(key, string(op.Value), opts...))
		case OpDelete:
			res = append(res, clientv3.OpDelete(key, clientv3.WithPrevKV()))
		case OpDeleteExact:
			cmp := clientv3.Compare(clientv3.ModRevision(key), "=", int64(op.MatchSeq))
			res = append(res, clientv3.OpTxn(
				[]clientv3.Cmp{cmp},
				[]clientv3.Op{clientv3.OpDelete(key, clientv3.WithPrevKV())},
				nil))
		default:
			return nil, errors.Errorf("unknown txn op type %v", op.Type)
		}
	}
	return res, nil
}

// ttlSeconds rounds up to etcd's one second lease granularity.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// SlowLogTxn wraps etcd transaction and log slow one.
type SlowLogTxn struct {
	clientv3.Txn
}

// NewSlowLogTxn create a SlowLogTxn. The transaction is bound to ctx; no
// timeout is added here.
func NewSlowLogTxn(ctx context.Context, client *clientv3.Client) clientv3.Txn {
	return &SlowLogTxn{
		Txn: client.Txn(ctx),
	}
}

// If takes a list of comparison. If all comparisons passed in succeed,
// the operations passed into Then() will be executed. Or the operations
// passed into Else() will be executed.
func (t *SlowLogTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	return &SlowLogTxn{
		Txn: t.Txn.If(cs...),
	}
}

// Then takes a list of operations. The Ops list will be executed, if the
// comparisons passed in If() succeed.
func (t *SlowLogTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	return &SlowLogTxn{
		Txn: t.Txn.Then(ops...),
	}
}

// Else takes a list of operations. The Ops list will be executed, if the
// comparisons passed in If() fail.
func (t *SlowLogTxn) Else(ops ...clientv3.Op) clientv3.Txn {
	return &SlowLogTxn{
		Txn: t.Txn.Else(ops...),
	}
}

// Commit implements Txn Commit interface.
func (t *SlowLogTxn) Commit() (*clientv3.TxnResponse, error) {
	start := time.Now()
	resp, err := t.Txn.Commit()

	cost := time.Since(start)
	if cost > DefaultSlowRequestTime {
		log.Warn("txn runs too slow",
			zap.Error(err),
			zap.Reflect("response", resp),
			zap.Duration("cost", cost))
	}
	label := "success"
	if err != nil {
		label = "failed"
	} else if !resp.Succeeded {
		label = "condition-failed"
	}
	txnCounter.WithLabelValues(label).Inc()
	txnDuration.WithLabelValues(label).Observe(cost.Seconds())

	return resp, errors.WithStack(err)
}
