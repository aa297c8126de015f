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

package txn

import (
	"context"
	"time"

	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pkg/errors"
)

// Builder accumulates the conditions and operations of one transaction.
// The first encode failure is remembered and reported by Commit.
type Builder struct {
	c      *kvapi.Client
	req    kv.TxnRequest
	conds  map[string]uint64
	writes map[string]struct{}
	err    error
}

// NewBuilder creates an empty Builder submitting through c.
func NewBuilder(c *kvapi.Client) *Builder {
	return &Builder{
		c:      c,
		conds:  make(map[string]uint64),
		writes: make(map[string]struct{}),
	}
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// CondSeq requires key to still be at seq (0 means absent). Repeating the
// same condition is a no-op; conflicting conditions on one key fail Commit.
func (b *Builder) CondSeq(key kvapi.Key, seq uint64) *Builder {
	k := key.StringKey()
	if prev, ok := b.conds[k]; ok {
		if prev != seq {
			b.setErr(errors.Errorf("conflicting conditions on %q: seq %d and %d", k, prev, seq))
		}
		return b
	}
	b.conds[k] = seq
	b.req.Conditions = append(b.req.Conditions, &kv.TxnCondition{Key: k, Result: kv.SeqEq, Seq: seq})
	return b
}

// CondAbsent requires key to be absent.
func (b *Builder) CondAbsent(key kvapi.Key) *Builder {
	return b.CondSeq(key, 0)
}

func (b *Builder) addOp(op *kv.TxnOp) {
	if op.Type != kv.OpGet {
		if _, ok := b.writes[op.Key]; ok {
			b.setErr(&kv.DuplicateKeyError{Key: op.Key})
			return
		}
		b.writes[op.Key] = struct{}{}
	}
	b.req.IfThen = append(b.req.IfThen, op)
}

// Put encodes v and writes it to key.
func (b *Builder) Put(key kvapi.Key, v interface{}) *Builder {
	return b.PutWithTTL(key, v, 0)
}

// PutWithTTL writes v to key with an expiry. A zero ttl never expires.
func (b *Builder) PutWithTTL(key kvapi.Key, v interface{}, ttl time.Duration) *Builder {
	data, err := b.c.Encode(v)
	if err != nil {
		b.setErr(errors.Wrapf(err, "encode %q", key.StringKey()))
		return b
	}
	if ttl > 0 {
		b.addOp(kv.NewPutWithTTL(key.StringKey(), data, ttl))
	} else {
		b.addOp(kv.NewPut(key.StringKey(), data))
	}
	return b
}

// Delete removes key.
func (b *Builder) Delete(key kvapi.Key) *Builder {
	b.addOp(kv.NewDelete(key.StringKey()))
	return b
}

// DeleteExact removes key only if it is at seq. A mismatch does not fail the
// transaction.
func (b *Builder) DeleteExact(key kvapi.Key, seq uint64) *Builder {
	b.addOp(kv.NewDeleteExact(key.StringKey(), seq))
	return b
}

// Writes returns whether key is already written by this transaction.
func (b *Builder) Writes(key kvapi.Key) bool {
	_, ok := b.writes[key.StringKey()]
	return ok
}

// Empty returns whether the builder holds no operation.
func (b *Builder) Empty() bool {
	return len(b.req.IfThen) == 0
}

// Request returns the accumulated request.
func (b *Builder) Request() (*kv.TxnRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &b.req, nil
}

// Commit submits the transaction. committed is false when a condition did
// not hold, in which case nothing was written.
func (b *Builder) Commit(ctx context.Context) (committed bool, reply *kv.TxnReply, err error) {
	req, err := b.Request()
	if err != nil {
		return false, nil, err
	}
	reply, err = b.c.Transaction(ctx, req)
	if err != nil {
		return false, nil, err
	}
	return reply.Success, reply, nil
}
