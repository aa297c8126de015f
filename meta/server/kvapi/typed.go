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

package kvapi

import (
	"context"
	"io"
	"time"

	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pkg/errors"
)

// Key is a structured key with a deterministic string form.
type Key interface {
	StringKey() string
}

// SeqV is a decoded value with the seq it was written at.
type SeqV[V any] struct {
	Seq      uint64
	Data     V
	ExpireAt *time.Time
}

// GetSeq returns the seq, or 0 when s is nil (absent).
func (s *SeqV[V]) GetSeq() uint64 {
	if s == nil {
		return 0
	}
	return s.Seq
}

// Pair is a listed key with its decoded value.
type Pair[V any] struct {
	Key   string
	Value *SeqV[V]
}

// StreamResult is one position of a Stream read.
type StreamResult[V any] struct {
	// Value is nil when the key is absent or Err is set.
	Value *SeqV[V]
	Err   error
}

// Client is a kv.Store with a value codec.
type Client struct {
	kv.Store
	codec Codec
}

// NewClient creates a Client. A nil codec means MsgpackCodec.
func NewClient(store kv.Store, codec Codec) *Client {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &Client{Store: store, codec: codec}
}

// Encode encodes a value with the client's codec.
func (c *Client) Encode(v interface{}) ([]byte, error) {
	return c.codec.Marshal(v)
}

// Decode decodes the raw value stored at key.
func Decode[V any](c *Client, key string, raw *kv.SeqV) (*SeqV[V], error) {
	if raw == nil {
		return nil, nil
	}
	res := &SeqV[V]{Seq: raw.Seq, ExpireAt: raw.ExpireAt}
	if err := c.codec.Unmarshal(raw.Data, &res.Data); err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	return res, nil
}

// Get reads and decodes one key. It returns nil if the key is absent.
func Get[V any](ctx context.Context, c *Client, key Key) (*SeqV[V], error) {
	k := key.StringKey()
	raw, err := c.Store.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	return Decode[V](c, k, raw)
}

// MGet reads and decodes keys. The result has the same length and order as
// keys; absent keys yield nil.
func MGet[V any, K Key](ctx context.Context, c *Client, keys []K) ([]*SeqV[V], error) {
	strKeys := make([]string, len(keys))
	for i, key := range keys {
		strKeys[i] = key.StringKey()
	}
	raws, err := c.Store.MGet(ctx, strKeys)
	if err != nil {
		return nil, err
	}
	if len(raws) != len(keys) {
		return nil, errors.Errorf("mget returns %d values for %d keys", len(raws), len(keys))
	}
	res := make([]*SeqV[V], len(keys))
	for i, raw := range raws {
		if res[i], err = Decode[V](c, strKeys[i], raw); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// List reads every key under prefix, in key order.
func List[V any](ctx context.Context, c *Client, prefix string) ([]*Pair[V], error) {
	stream, err := c.Store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	raws, err := kv.CollectPairs(stream)
	if err != nil {
		return nil, err
	}
	res := make([]*Pair[V], 0, len(raws))
	for _, raw := range raws {
		v, err := Decode[V](c, raw.Key, raw.Value)
		if err != nil {
			return nil, err
		}
		res = append(res, &Pair[V]{Key: raw.Key, Value: v})
	}
	return res, nil
}

// Stream reads keys through the store's streaming reader when it has one.
// The result always has exactly len(keys) entries: if the backend stream
// ends early, every unanswered position carries a *StreamReadEOF.
func Stream[V any, K Key](ctx context.Context, c *Client, keys []K) ([]*StreamResult[V], error) {
	strKeys := make([]string, len(keys))
	for i, key := range keys {
		strKeys[i] = key.StringKey()
	}

	var stream kv.SeqVStream
	if sg, ok := c.Store.(kv.StreamGetter); ok {
		s, err := sg.GetStream(ctx, strKeys)
		if err != nil {
			return nil, err
		}
		stream = s
	} else {
		raws, err := c.Store.MGet(ctx, strKeys)
		if err != nil {
			return nil, err
		}
		stream = kv.NewSliceSeqVStream(raws)
	}
	defer stream.Close()

	res := make([]*StreamResult[V], 0, len(keys))
	for len(res) < len(keys) {
		raw, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		k := strKeys[len(res)]
		v, err := Decode[V](c, k, raw)
		res = append(res, &StreamResult[V]{Value: v, Err: err})
	}
	received := len(res)
	for len(res) < len(keys) {
		res = append(res, &StreamResult[V]{Err: &StreamReadEOF{Expected: len(keys), Received: received}})
	}
	return res, nil
}
