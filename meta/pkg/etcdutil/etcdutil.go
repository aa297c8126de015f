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

package etcdutil

import (
	"strings"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/clientv3"
	"go.uber.org/zap"
)

// DefaultDialTimeout is the maximum amount of time a dial will wait for a
// connection to setup. 30s is long enough for most of the network conditions.
const DefaultDialTimeout = 30 * time.Second

// NewClient connects to the comma separated etcd endpoints.
func NewClient(endpoints string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	eps := strings.Split(endpoints, ",")
	log.Info("create etcd v3 client", zap.Strings("endpoints", eps))
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   eps,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return client, nil
}
