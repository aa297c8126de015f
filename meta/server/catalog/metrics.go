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

import "github.com/prometheus/client_golang/prometheus"

var (
	opCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meta",
			Subsystem: "catalog",
			Name:      "op_total",
			Help:      "Counter of catalog operations by result.",
		}, []string{"op", "result"})

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meta",
			Subsystem: "catalog",
			Name:      "op_duration_seconds",
			Help:      "Bucketed histogram of catalog operation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"op"})

	gcCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meta",
			Subsystem: "catalog",
			Name:      "gc_total",
			Help:      "Counter of objects removed by gc.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(opCounter)
	prometheus.MustRegister(opDuration)
	prometheus.MustRegister(gcCounter)
}
