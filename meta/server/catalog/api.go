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
	"time"

	"github.com/pingcap-incubator/tinymeta/meta/server/id"
	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap-incubator/tinymeta/meta/server/kvapi"
	"github.com/pingcap-incubator/tinymeta/meta/server/txn"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	// DefaultDataRetention is how long a dropped object stays undroppable.
	DefaultDataRetention = 24 * time.Hour
	// DefaultGCBatchSize bounds the keys deleted by one non-conditional
	// GC transaction.
	DefaultGCBatchSize = 64
)

// Config tunes the catalog API.
type Config struct {
	DataRetention     time.Duration
	TxnMaxRetry       uint64
	TxnRetryBaseDelay time.Duration
	TxnRetryMaxDelay  time.Duration
	GCBatchSize       int
}

func (c *Config) adjust() {
	if c.DataRetention == 0 {
		c.DataRetention = DefaultDataRetention
	}
	if c.GCBatchSize <= 0 {
		c.GCBatchSize = DefaultGCBatchSize
	}
}

// API implements the catalog operations on a kv.Store. It keeps no catalog
// state of its own, every operation is a sequence of reads followed by one
// conditional transaction.
type API struct {
	c       *kvapi.Client
	ids     *id.Allocator
	retryer *txn.Retryer
	cfg     Config
	now     func() time.Time
}

// NewAPI creates an API on store.
func NewAPI(store kv.Store, cfg Config) *API {
	cfg.adjust()
	c := kvapi.NewClient(store, nil)
	retryer := txn.NewRetryer(cfg.TxnMaxRetry, cfg.TxnRetryBaseDelay, cfg.TxnRetryMaxDelay)
	return &API{
		c:       c,
		ids:     id.NewAllocator(c, retryer),
		retryer: retryer,
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock replaces the clock stamping created_on/drop_on and evaluating
// retention.
func (a *API) SetClock(now func() time.Time) {
	a.now = now
}

// Client returns the typed client the API runs on.
func (a *API) Client() *kvapi.Client {
	return a.c
}

func (a *API) newTxn() *txn.Builder {
	return txn.NewBuilder(a.c)
}

// run drives one catalog operation through the retryer.
func (a *API) run(ctx context.Context, op string, attempt txn.Attempt) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "catalog."+op)
	defer span.Finish()
	start := time.Now()
	err := a.retryer.Run(ctx, op, attempt)
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("event", "error", "message", err.Error())
	}
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	opCounter.WithLabelValues(op, resultLabel(err)).Inc()
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := ErrorCode(err); code != 0 {
		return code.String()
	}
	if _, ok := err.(*txn.TxnRetryMaxTimesError); ok {
		return "retry_exhausted"
	}
	return "error"
}

// expired reports whether an object dropped at dropOn is past retention.
func (a *API) expired(dropOn *time.Time) bool {
	return dropOn != nil && a.now().Sub(*dropOn) >= a.cfg.DataRetention
}

// lazyID allocates an id on first use and hands the same id to every later
// attempt of one logical call.
type lazyID struct {
	alloc *id.Allocator
	space id.Space
	id    uint64
}

func (a *API) lazyID(space id.Space) *lazyID {
	return &lazyID{alloc: a.ids, space: space}
}

func (l *lazyID) get(ctx context.Context) (uint64, error) {
	if l.id != 0 {
		return l.id, nil
	}
	v, err := l.alloc.FetchID(ctx, l.space)
	if err != nil {
		return 0, err
	}
	l.id = v
	return v, nil
}

func getID(ctx context.Context, c *kvapi.Client, key kvapi.Key) (*kvapi.SeqV[uint64], error) {
	return kvapi.Get[uint64](ctx, c, key)
}

func getIDList(ctx context.Context, c *kvapi.Client, key kvapi.Key) (*kvapi.SeqV[txn.IDList], error) {
	return kvapi.Get[txn.IDList](ctx, c, key)
}

func listOf(v *kvapi.SeqV[txn.IDList]) *txn.IDList {
	if v == nil {
		return nil
	}
	return &v.Data
}

// liveDatabase resolves a database name to its id and meta. A dropped or
// missing database is UnknownDatabase.
func (a *API) liveDatabase(ctx context.Context, ident DatabaseNameIdent) (*kvapi.SeqV[uint64], *kvapi.SeqV[DatabaseMeta], error) {
	dbID, err := getID(ctx, a.c, ident)
	if err != nil {
		return nil, nil, err
	}
	if dbID == nil {
		return nil, nil, newError(CodeUnknownDatabase, "database %s does not exist", ident)
	}
	meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, DatabaseID{DBID: dbID.Data})
	if err != nil {
		return nil, nil, err
	}
	if meta == nil || meta.Data.DropOn != nil {
		return nil, nil, newError(CodeUnknownDatabase, "database %s does not exist", ident)
	}
	return dbID, meta, nil
}

// liveDatabaseByID reads the meta of a database that must not be dropped.
func (a *API) liveDatabaseByID(ctx context.Context, dbID uint64) (*kvapi.SeqV[DatabaseMeta], error) {
	meta, err := kvapi.Get[DatabaseMeta](ctx, a.c, DatabaseID{DBID: dbID})
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Data.DropOn != nil {
		return nil, newError(CodeUnknownDatabaseID, "database id %d does not exist", dbID)
	}
	return meta, nil
}

// liveTableByID reads the meta of a table that must not be dropped.
func (a *API) liveTableByID(ctx context.Context, tableID uint64) (*kvapi.SeqV[TableMeta], error) {
	meta, err := kvapi.Get[TableMeta](ctx, a.c, TableID{TableID: tableID})
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Data.DropOn != nil {
		return nil, newError(CodeUnknownTableID, "table id %d does not exist", tableID)
	}
	return meta, nil
}

// checkSeq validates the seq a caller based an update on. 0 matches any seq.
func checkSeq(tableID, expected uint64, meta *kvapi.SeqV[TableMeta], while string) error {
	if expected != 0 && expected != meta.Seq {
		return &TableVersionMismatchedError{
			TableID:  tableID,
			Expected: expected,
			Actual:   meta.Seq,
			Context:  while,
		}
	}
	return nil
}

// ensureLast conditions the history list at key on its seq and makes id its
// last element. A list that holds id out of order is repaired; a list that
// lost id altogether is left untouched and false is returned.
func ensureLast(b *txn.Builder, key kvapi.Key, cur *kvapi.SeqV[txn.IDList], want uint64) bool {
	l := listOf(cur)
	if last, ok := l.Last(); ok && last == want {
		b.CondSeq(key, cur.Seq)
		return true
	}
	if !l.Contains(want) {
		return false
	}
	log.Warn("id history list out of order, repair",
		zap.String("key", key.StringKey()),
		zap.Uint64("id", want))
	txn.MoveToEnd(b, key, cur, want)
	return true
}

func timePtr(t time.Time) *time.Time {
	return &t
}
