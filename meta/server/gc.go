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


package server

import (
	"context"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/logutil"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/worker"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrGCThrottled is returned when manual vacuum requests come too fast.
	ErrGCThrottled = errors.New("too many vacuum requests, retry later")
	// ErrGCQueueFull is returned when the vacuum worker cannot take more tasks.
	ErrGCQueueFull = errors.New("vacuum queue is full")
)

// VacuumResult is the outcome of one vacuum pass over a tenant.
type VacuumResult struct {
	Tenant    string        `json:"tenant"`
	Databases int           `json:"databases"`
	Tables    int           `json:"tables"`
	Indexes   int           `json:"indexes"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

type vacuumTask struct {
	tenant string
	// done receives the result of a manual pass. Scheduled passes leave it nil.
	done chan *VacuumResult
}

type gcHandler struct {
	s       *Server
	limiter *rate.Limiter
}

func newGCHandler(s *Server) *gcHandler {
	return &gcHandler{
		s:       s,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.GC.PassesPerSecond), 1),
	}
}

func (h *gcHandler) Handle(t worker.Task) {
	task := t.(*vacuumTask)
	if task.done != nil {
		task.done <- h.vacuum(task.tenant, "manual")
		return
	}
	defer h.s.finishScheduled(task.tenant)
	ctx := h.s.serverLoopCtx
	if err := h.limiter.Wait(ctx); err != nil {
		log.Debug("skip vacuum", zap.String("tenant", task.tenant), zap.Error(err))
		return
	}
	h.vacuum(task.tenant, "scheduled")
}

func (h *gcHandler) vacuum(tenant, trigger string) *VacuumResult {
	start := time.Now()
	reply, err := h.s.api.Vacuum(h.s.serverLoopCtx, tenant, h.s.cfg.GC.Limit)
	d := time.Since(start)
	h.s.gcStats.observe(reply, start, d, err)
	gcPassDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	gcPassCounter.WithLabelValues(trigger, result).Inc()
	res := &VacuumResult{Tenant: tenant, Duration: d}
	if reply != nil {
		res.Databases, res.Tables, res.Indexes = reply.Databases, reply.Tables, reply.Indexes
	}
	if err != nil {
		res.Error = err.Error()
		log.Error("vacuum failed", zap.String("tenant", tenant), zap.Error(err))
	}
	return res
}

// ownsTenant reports whether tenant falls in the gc shard index out of
// count. A count of 0 or 1 owns every tenant.
func ownsTenant(tenant string, count, index uint64) bool {
	if count <= 1 {
		return true
	}
	return farm.Fingerprint64([]byte(tenant))%count == index
}

func (s *Server) gcTenants(ctx context.Context) ([]string, error) {
	if len(s.cfg.GC.Tenants) > 0 {
		return s.cfg.GC.Tenants, nil
	}
	all, err := s.api.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	tenants := all[:0]
	for _, tenant := range all {
		if ownsTenant(tenant, s.cfg.GC.ShardCount, s.cfg.GC.ShardIndex) {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}

// scheduleGCRound queues one pass per tenant, skipping tenants whose pass
// from an earlier round is still queued.
func (s *Server) scheduleGCRound(ctx context.Context) {
	tenants, err := s.gcTenants(ctx)
	if err != nil {
		log.Error("list gc tenants failed", zap.Error(err))
		return
	}
	s.gcStats.rounds.Inc()
	for _, tenant := range tenants {
		s.gcMu.Lock()
		_, pending := s.gcPending[tenant]
		if !pending {
			s.gcPending[tenant] = struct{}{}
		}
		s.gcMu.Unlock()
		if pending {
			continue
		}
		gcQueueGauge.Inc()
		if !s.gcWorker.Schedule(&vacuumTask{tenant: tenant}) {
			s.finishScheduled(tenant)
			return
		}
	}
}

func (s *Server) finishScheduled(tenant string) {
	s.gcMu.Lock()
	delete(s.gcPending, tenant)
	s.gcMu.Unlock()
	gcQueueGauge.Dec()
}

func (s *Server) gcLoop() {
	defer logutil.LogPanic()
	defer s.serverLoopWg.Done()

	ctx, cancel := context.WithCancel(s.serverLoopCtx)
	defer cancel()
	ticker := time.NewTicker(s.cfg.GC.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.scheduleGCRound(ctx)
		case <-ctx.Done():
			log.Info("server is closed, exit gc loop")
			return
		}
	}
}

// Vacuum runs one vacuum pass over tenant on the gc worker and waits for
// its result. Requests beyond the configured manual rate are rejected.
func (s *Server) Vacuum(ctx context.Context, tenant string) (*VacuumResult, error) {
	if s.IsClosed() {
		return nil, ErrServerNotStarted
	}
	if s.manualGC.TakeAvailable(1) == 0 {
		return nil, ErrGCThrottled
	}
	task := &vacuumTask{tenant: tenant, done: make(chan *VacuumResult, 1)}
	if !s.gcWorker.Schedule(task) {
		return nil, ErrGCQueueFull
	}
	select {
	case res := <-task.done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GCStatus returns the vacuum counters of the server.
func (s *Server) GCStatus() GCStatus {
	return s.gcStats.Snapshot()
}
