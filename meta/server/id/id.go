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

package id

import (
	"context"

	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Space is an independent id sequence.
type Space string

// Id spaces used by the catalog.
const (
	DatabaseID   Space = "database_id"
	TableID      Space = "table_id"
	IndexID      Space = "index_id"
	TableLockID  Space = "table_lock_id"
	CatalogID    Space = "catalog_id"
	DictionaryID Space = "dictionary_id"
)

const genKeyPrefix = "__fd_id_gen/"

// GenKey is the counter key of a space.
type GenKey struct {
	Space Space
}

// StringKey implements kvapi.Key.
func (k GenKey) StringKey() string {
	return genKeyPrefix + string(k.Space)
}

// Allocator hands out ids that are unique and increasing within a space.
// Ids start from 1. Every id costs one compare-and-swap of the counter.
type Allocator struct {
	c       *kvapi.Client
	retryer *txn.Retryer
}

// NewAllocator creates an Allocator.
func NewAllocator(c *kvapi.Client, retryer *txn.Retryer) *Allocator {
	if retryer == nil {
		retryer = txn.DefaultRetryer()
	}
	return &Allocator{c: c, retryer: retryer}
}

// FetchID returns a new id of the space.
func (alloc *Allocator) FetchID(ctx context.Context, space Space) (uint64, error) {
	key := GenKey{Space: space}
	var id uint64
	err := alloc.retryer.Run(ctx, "fetch_id", func(ctx context.Context) (bool, error) {
		cur, err := kvapi.Get[uint64](ctx, alloc.c, key)
		if err != nil {
			return false, err
		}
		var end uint64
		if cur != nil {
			end = cur.Data
		}
		end++

		b := txn.NewBuilder(alloc.c)
		b.CondSeq(key, cur.GetSeq()).Put(key, end)
		ok, _, err := b.Commit(ctx)
		if err != nil || !ok {
			return false, err
		}
		id = end
		return true, nil
	})
	if err != nil {
		log.Error("fetch id failed", zap.String("space", string(space)), zap.Error(err))
		return 0, err
	}
	idGauge.WithLabelValues(string(space)).Set(float64(id))
	return id, nil
}
