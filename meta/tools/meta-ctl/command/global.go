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


package command

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/etcdutil"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/pingcap-incubator/tinymeta/meta/server/config"
	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Flags are the store connection and output flags shared by every command.
type Flags struct {
	Backend       string
	EtcdEndpoints string
	EtcdRootPath  string
	DialTimeout   time.Duration
	DataDir       string
	Output        string
}

var (
	flags = &Flags{}

	mu     sync.Mutex
	api    *catalog.API
	closer func()
)

// RegisterFlags adds the shared flags to the root command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flags.Backend, "backend", config.BackendEtcd, "store backend: etcd, leveldb or memory")
	fs.StringVarP(&flags.EtcdEndpoints, "etcd-endpoints", "u", "http://127.0.0.1:2379", "etcd client urls, comma separated")
	fs.StringVar(&flags.EtcdRootPath, "etcd-root-path", "/tinymeta", "key prefix of the catalog in etcd")
	fs.DurationVar(&flags.DialTimeout, "dial-timeout", etcdutil.DefaultDialTimeout, "etcd dial timeout")
	fs.StringVar(&flags.DataDir, "data-dir", "", "leveldb data directory, the server must be stopped")
	fs.StringVarP(&flags.Output, "output", "o", "json", "output format: json or yaml")
}

// getAPI opens the store on first use and keeps it for the next commands of
// an interactive session.
func getAPI() (*catalog.API, error) {
	mu.Lock()
	defer mu.Unlock()
	if api != nil {
		return api, nil
	}
	var store kv.Store
	switch flags.Backend {
	case config.BackendEtcd:
		client, err := etcdutil.NewClient(flags.EtcdEndpoints, flags.DialTimeout)
		if err != nil {
			return nil, err
		}
		store = kv.NewEtcdKV(client, flags.EtcdRootPath)
		closer = func() { client.Close() }
	case config.BackendLeveldb:
		if flags.DataDir == "" {
			return nil, errors.New("--data-dir is required by the leveldb backend")
		}
		db, err := kv.NewLeveldbKV(flags.DataDir)
		if err != nil {
			return nil, err
		}
		store = db
		closer = func() { db.Close() }
	case config.BackendMemory:
		store = kv.NewMemoryKV()
		closer = func() {}
	default:
		return nil, errors.Errorf("unknown backend %q", flags.Backend)
	}
	api = catalog.NewAPI(store, catalog.Config{})
	return api, nil
}

// Close releases the store opened by the commands.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer()
	}
	api, closer = nil, nil
}

func printResult(cmd *cobra.Command, v interface{}) {
	var (
		data []byte
		err  error
	)
	switch flags.Output {
	case "yaml":
		data, err = yaml.Marshal(v)
	default:
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		cmd.Printf("Failed to encode the result: %v\n", err)
		return
	}
	cmd.Println(string(data))
}

func printError(cmd *cobra.Command, op string, err error) {
	if code := catalog.ErrorCode(err); code != 0 {
		cmd.Printf("Failed to %s: [%s] %v\n", op, code, err)
		return
	}
	cmd.Printf("Failed to %s: %v\n", op, err)
}
