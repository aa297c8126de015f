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

import "github.com/prometheus/client_golang/prometheus"

var (
	txnAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "meta",
			Subsystem: "catalog",
			Name:      "txn_attempts",
			Help:      "Bucketed histogram of attempts needed by catalog operations.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 7),
		}, []string{"op"})

	txnRetryExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meta",
			Subsystem: "catalog",
			Name:      "txn_retry_exhausted_total",
			Help:      "Counter of catalog operations that ran out of attempts.",
		}, []string{"op"})
)

func init() {
	prometheus.MustRegister(txnAttempts)
	prometheus.MustRegister(txnRetryExhausted)
}
