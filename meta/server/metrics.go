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

import "github.com/prometheus/client_golang/prometheus"

var (
	gcPassCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meta",
			Subsystem: "server",
			Name:      "gc_pass_total",
			Help:      "Counter of vacuum passes by trigger and result.",
		}, []string{"trigger", "result"})

	gcPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meta",
			Subsystem: "server",
			Name:      "gc_pass_duration_seconds",
			Help:      "Bucketed histogram of vacuum pass duration.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		})

	gcQueueGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meta",
			Subsystem: "server",
			Name:      "gc_pending_tenants",
			Help:      "Number of tenants waiting for a scheduled vacuum pass.",
		})
)

func init() {
	prometheus.MustRegister(gcPassCounter)
	prometheus.MustRegister(gcPassDuration)
	prometheus.MustRegister(gcQueueGauge)
}
