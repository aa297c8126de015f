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
	"fmt"
	"io"
	"time"
)

// SeqV is a value with the seq it was written at. Seq 0 means absent.
type SeqV struct {
	Seq  uint64
	Data []byte
	// ExpireAt is set for values written with a ttl.
	ExpireAt *time.Time
}

// KVPair is a key with its versioned value, as returned by List.
type KVPair struct {
	Key   string
	Value *SeqV
}

// Store is the linearizable, seq-versioned key value store the catalog is built on.
type Store interface {
	// Get returns nil if the key does not exist.
	Get(ctx context.Context, key string) (*SeqV, error)
	// MGet returns one entry per key, in the same order. Absent keys yield nil.
	MGet(ctx context.Context, keys []string) ([]*SeqV, error)
	// List returns every key with the given prefix in key order.
	List(ctx context.Context, prefix string) (PairStream, error)
	// Transaction checks all conditions atomically and applies IfThen if
	// they hold, ElseThen otherwise.
	Transaction(ctx context.Context, req *TxnRequest) (*TxnReply, error)
}

// StreamGetter is implemented by stores that can stream a multi-key read.
// The returned stream may end before every key has been answered.
type StreamGetter interface {
	GetStream(ctx context.Context, keys []string) (SeqVStream, error)
}

// PairStream yields KVPairs until Recv returns io.EOF.
type PairStream interface {
	Recv() (*KVPair, error)
	Close()
}

// SeqVStream yields one entry per requested key until Recv returns io.EOF.
// A nil *SeqV means the key is absent.
type SeqVStream interface {
	Recv() (*SeqV, error)
	Close()
}

// ConditionResult is the comparison applied to a key's seq.
type ConditionResult int

// Supported comparisons.
const (
	SeqEq ConditionResult = iota
)

func (c ConditionResult) String() string {
	switch c {
	case SeqEq:
		return "="
	default:
		return fmt.Sprintf("ConditionResult(%d)", int(c))
	}
}

// TxnCondition asserts the current seq of Key. Absent keys have seq 0.
type TxnCondition struct {
	Key    string
	Result ConditionResult
	Seq    uint64
}

func (c *TxnCondition) String() string {
	return fmt.Sprintf("seq(%s) %s %d", c.Key, c.Result, c.Seq)
}

// OpType is the kind of a TxnOp.
type OpType int

// Op types.
const (
	OpPut OpType = iota
	OpDelete
	OpDeleteExact
	OpGet
)

func (t OpType) String() string {
	switch t {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpDeleteExact:
		return "delete-exact"
	case OpGet:
		return "get"
	default:
		return fmt.Sprintf("OpType(%d)", int(t))
	}
}

// TxnOp is a single operation inside a transaction.
type TxnOp struct {
	Type  OpType
	Key   string
	Value []byte
	// TTL is only used by put. Zero means no expiry.
	TTL time.Duration
	// MatchSeq is only used by delete-exact.
	MatchSeq uint64
}

func (op *TxnOp) String() string {
	switch op.Type {
	case OpPut:
		if op.TTL > 0 {
			return fmt.Sprintf("put(%s, %d bytes, ttl %s)", op.Key, len(op.Value), op.TTL)
		}
		return fmt.Sprintf("put(%s, %d bytes)", op.Key, len(op.Value))
	case OpDeleteExact:
		return fmt.Sprintf("delete-exact(%s, %d)", op.Key, op.MatchSeq)
	default:
		return fmt.Sprintf("%s(%s)", op.Type, op.Key)
	}
}

// IsWrite returns whether the op mutates its key.
func (op *TxnOp) IsWrite() bool {
	return op.Type != OpGet
}

// NewPut creates a put op.
func NewPut(key string, value []byte) *TxnOp {
	return &TxnOp{Type: OpPut, Key: key, Value: value}
}

// NewPutWithTTL creates a put op whose value expires after ttl.
func NewPutWithTTL(key string, value []byte, ttl time.Duration) *TxnOp {
	return &TxnOp{Type: OpPut, Key: key, Value: value, TTL: ttl}
}

// NewDelete creates a delete op.
func NewDelete(key string) *TxnOp {
	return &TxnOp{Type: OpDelete, Key: key}
}

// NewDeleteExact creates a delete op that only takes effect if the key is
// still at seq. It never fails the transaction.
func NewDeleteExact(key string, seq uint64) *TxnOp {
	return &TxnOp{Type: OpDeleteExact, Key: key, MatchSeq: seq}
}

// NewGet creates a get op.
func NewGet(key string) *TxnOp {
	return &TxnOp{Type: OpGet, Key: key}
}

// TxnRequest is a compare-and-seq transaction.
type TxnRequest struct {
	Conditions []*TxnCondition
	IfThen     []*TxnOp
	ElseThen   []*TxnOp
}

// TxnOpResponse is the result of one executed op.
type TxnOpResponse struct {
	Type OpType
	Key  string
	// Prev is the value before a put or delete, nil if absent.
	Prev *SeqV
	// Current is the value after a put, or the value read by a get.
	Current *SeqV
	// Deleted reports whether a delete or delete-exact removed a value.
	Deleted bool
}

// TxnReply is the result of a transaction.
type TxnReply struct {
	Success   bool
	Responses []*TxnOpResponse
}

// checkDuplicateWrites rejects requests writing the same key twice in one
// branch; etcd refuses those and every backend behaves the same way.
func checkDuplicateWrites(req *TxnRequest) error {
	for _, ops := range [][]*TxnOp{req.IfThen, req.ElseThen} {
		seen := make(map[string]struct{}, len(ops))
		for _, op := range ops {
			if !op.IsWrite() {
				continue
			}
			if _, ok := seen[op.Key]; ok {
				return &DuplicateKeyError{Key: op.Key}
			}
			seen[op.Key] = struct{}{}
		}
	}
	return nil
}

// DuplicateKeyError is returned when a transaction writes a key twice.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key given in txn request: %q", e.Key)
}

// PrefixEnd returns the smallest key greater than every key with the prefix.
func PrefixEnd(prefix string) string {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return string(end[:i+1])
		}
	}
	// The prefix is all 0xff, scan to the end of the keyspace.
	return ""
}

type slicePairStream struct {
	pairs []*KVPair
	pos   int
}

// NewSlicePairStream returns a PairStream over pairs.
func NewSlicePairStream(pairs []*KVPair) PairStream {
	return &slicePairStream{pairs: pairs}
}

func (s *slicePairStream) Recv() (*KVPair, error) {
	if s.pos >= len(s.pairs) {
		return nil, io.EOF
	}
	p := s.pairs[s.pos]
	s.pos++
	return p, nil
}

func (s *slicePairStream) Close() {
	s.pos = len(s.pairs)
}

type sliceSeqVStream struct {
	values []*SeqV
	pos    int
}

// NewSliceSeqVStream returns a SeqVStream over values.
func NewSliceSeqVStream(values []*SeqV) SeqVStream {
	return &sliceSeqVStream{values: values}
}

func (s *sliceSeqVStream) Recv() (*SeqV, error) {
	if s.pos >= len(s.values) {
		return nil, io.EOF
	}
	v := s.values[s.pos]
	s.pos++
	return v, nil
}

func (s *sliceSeqVStream) Close() {
	s.pos = len(s.values)
}

// CollectPairs drains a PairStream.
func CollectPairs(s PairStream) ([]*KVPair, error) {
	defer s.Close()
	var pairs []*KVPair
	for {
		p, err := s.Recv()
		if err == io.EOF {
			return pairs, nil
		}
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
}
