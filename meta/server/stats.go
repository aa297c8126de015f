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
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"go.uber.org/atomic"
)

// gcDurationWindow is the number of recent passes kept for the duration
// summary.
const gcDurationWindow = 64

// GCStats accumulates the results of vacuum passes.
type GCStats struct {
	rounds    atomic.Uint64
	passes    atomic.Uint64
	failures  atomic.Uint64
	databases atomic.Uint64
	tables    atomic.Uint64
	indexes   atomic.Uint64
	lastPass  atomic.Int64

	mu        sync.Mutex
	durations []float64
	next      int
}

// GCStatus is a snapshot of GCStats.
type GCStatus struct {
	Rounds    uint64 `json:"rounds"`
	Passes    uint64 `json:"passes"`
	Failures  uint64 `json:"failures"`
	Databases uint64 `json:"databases"`
	Tables    uint64 `json:"tables"`
	Indexes   uint64 `json:"indexes"`
	// LastPass is zero before the first pass.
	LastPass time.Time `json:"last_pass"`
	// Median and P99 of the recent pass durations, in seconds.
	MedianSeconds float64 `json:"median_seconds"`
	P99Seconds    float64 `json:"p99_seconds"`
}

func (s *GCStats) observe(reply *catalog.VacuumReply, start time.Time, d time.Duration, err error) {
	s.passes.Inc()
	s.lastPass.Store(start.UnixNano())
	if reply != nil {
		s.databases.Add(uint64(reply.Databases))
		s.tables.Add(uint64(reply.Tables))
		s.indexes.Add(uint64(reply.Indexes))
	}
	if err != nil {
		s.failures.Inc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) < gcDurationWindow {
		s.durations = append(s.durations, d.Seconds())
		return
	}
	s.durations[s.next] = d.Seconds()
	s.next = (s.next + 1) % gcDurationWindow
}

// Snapshot returns the current counters.
func (s *GCStats) Snapshot() GCStatus {
	status := GCStatus{
		Rounds:    s.rounds.Load(),
		Passes:    s.passes.Load(),
		Failures:  s.failures.Load(),
		Databases: s.databases.Load(),
		Tables:    s.tables.Load(),
		Indexes:   s.indexes.Load(),
	}
	if last := s.lastPass.Load(); last != 0 {
		status.LastPass = time.Unix(0, last)
	}

	s.mu.Lock()
	durations := append([]float64(nil), s.durations...)
	s.mu.Unlock()
	if len(durations) > 0 {
		// Both only fail on empty input.
		status.MedianSeconds, _ = stats.Median(durations)
		status.P99Seconds, _ = stats.Percentile(durations, 99)
	}
	return status
}
