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

package kv

import (
	"context"

	"github.com/stretchr/testify/require"
)

func put(t require.TestingT, s Store, key, value string) *SeqV {
	reply, err := s.Transaction(context.Background(), &TxnRequest{
		IfThen: []*TxnOp{NewPut(key, []byte(value))},
	})
	require.NoError(t, err)
	require.True(t, reply.Success)
	require.Len(t, reply.Responses, 1)
	return reply.Responses[0].Current
}

// checkStore runs the behaviour every Store backend must share.
func checkStore(t require.TestingT, s Store) {
	ctx := context.Background()

	v, err := s.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Nil(t, v)

	v1 := put(t, s, "a/1", "v1")
	require.True(t, v1.Seq > 0)
	got, err := s.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Equal(t, v1.Seq, got.Seq)
	require.Equal(t, []byte("v1"), got.Data)

	// Overwrite strictly increases seq.
	v2 := put(t, s, "a/1", "v2")
	require.True(t, v2.Seq > v1.Seq)

	// A stale condition takes the else branch.
	reply, err := s.Transaction(ctx, &TxnRequest{
		Conditions: []*TxnCondition{{Key: "a/1", Result: SeqEq, Seq: v1.Seq}},
		IfThen:     []*TxnOp{NewPut("a/1", []byte("v3"))},
		ElseThen:   []*TxnOp{NewGet("a/1")},
	})
	require.NoError(t, err)
	require.False(t, reply.Success)
	require.Len(t, reply.Responses, 1)
	require.Equal(t, v2.Seq, reply.Responses[0].Current.Seq)
	require.Equal(t, []byte("v2"), reply.Responses[0].Current.Data)

	// Absent keys compare as seq 0.
	reply, err = s.Transaction(ctx, &TxnRequest{
		Conditions: []*TxnCondition{{Key: "a/2", Result: SeqEq, Seq: 0}, {Key: "a/1", Result: SeqEq, Seq: v2.Seq}},
		IfThen:     []*TxnOp{NewPut("a/2", []byte("x")), NewPut("b/1", []byte("y"))},
	})
	require.NoError(t, err)
	require.True(t, reply.Success)

	values, err := s.MGet(ctx, []string{"b/1", "missing", "a/1"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Equal(t, []byte("y"), values[0].Data)
	require.Nil(t, values[1])
	require.Equal(t, []byte("v2"), values[2].Data)

	stream, err := s.List(ctx, "a/")
	require.NoError(t, err)
	pairs, err := CollectPairs(stream)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, "a/1", pairs[0].Key)
	require.Equal(t, "a/2", pairs[1].Key)

	// delete-exact with a stale seq is a no-op but does not fail the txn.
	reply, err = s.Transaction(ctx, &TxnRequest{
		IfThen: []*TxnOp{NewDeleteExact("a/1", v1.Seq), NewDelete("a/2")},
	})
	require.NoError(t, err)
	require.True(t, reply.Success)
	require.False(t, reply.Responses[0].Deleted)
	require.True(t, reply.Responses[1].Deleted)

	reply, err = s.Transaction(ctx, &TxnRequest{
		IfThen: []*TxnOp{NewDeleteExact("a/1", v2.Seq)},
	})
	require.NoError(t, err)
	require.True(t, reply.Responses[0].Deleted)
	require.Equal(t, v2.Seq, reply.Responses[0].Prev.Seq)

	v, err = s.Get(ctx, "a/1")
	require.NoError(t, err)
	require.Nil(t, v)

	_, err = s.Transaction(ctx, &TxnRequest{
		IfThen: []*TxnOp{NewPut("c", []byte("1")), NewDelete("c")},
	})
	require.Error(t, err)
	_, ok := err.(*DuplicateKeyError)
	require.True(t, ok)
}
