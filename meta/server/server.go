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
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-semver/semver"
	"github.com/juju/ratelimit"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/etcdutil"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/worker"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/pingcap-incubator/tinymeta/meta/server/config"
	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/clientv3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrServerNotStarted is error info for server not started.
var ErrServerNotStarted = errors.New("The server has not been started")

const (
	gcWorkerCapacity    = 1024
	statusServerTimeout = 3 * time.Second
)

// HandlerBuilder builds the status API of a server.
type HandlerBuilder func(*Server) http.Handler

// Server runs the catalog API on a store, with the background gc of dropped
// objects and an optional status API.
type Server struct {
	// Server state.
	isServing int64

	cfg       *config.Config
	builder   HandlerBuilder
	startTime time.Time

	serverLoopCtx    context.Context
	serverLoopCancel func()
	serverLoopWg     sync.WaitGroup

	client     *clientv3.Client
	store      kv.Store
	closeStore func() error
	api        *catalog.API
	version    *semver.Version

	gcWorker  *worker.Worker
	gcWg      sync.WaitGroup
	gcStats   *GCStats
	gcMu      sync.Mutex
	gcPending map[string]struct{}
	manualGC  *ratelimit.Bucket

	statusServer *http.Server

	// Zap logger
	lg       *zap.Logger
	logProps *log.ZapProperties
}

// CreateServer creates the server with given configuration. The store is
// opened by Run. builder may be nil to serve no status API.
func CreateServer(cfg *config.Config, builder HandlerBuilder) (*Server, error) {
	log.Info("Meta Config", zap.Reflect("config", cfg))
	s := &Server{
		cfg:       cfg,
		builder:   builder,
		gcStats:   &GCStats{},
		gcPending: make(map[string]struct{}),
		manualGC:  ratelimit.NewBucketWithRate(cfg.GC.ManualRate, 1),
		lg:        cfg.GetZapLogger(),
		logProps:  cfg.GetZapLogProperties(),
	}
	s.gcWorker = worker.NewWorkerWithCapacity("gc", &s.gcWg, gcWorkerCapacity)
	return s, nil
}

func (s *Server) openStore() error {
	switch s.cfg.Backend {
	case config.BackendEtcd:
		client, err := etcdutil.NewClient(s.cfg.EtcdEndpoints, s.cfg.EtcdDialTimeout.Duration)
		if err != nil {
			return err
		}
		s.client = client
		s.store = kv.NewEtcdKV(client, s.cfg.EtcdRootPath)
		s.closeStore = func() error { return nil }
	case config.BackendLeveldb:
		db, err := kv.NewLeveldbKV(s.cfg.DataDir)
		if err != nil {
			return err
		}
		s.store = db
		s.closeStore = func() error { return errors.WithStack(db.Close()) }
	case config.BackendMemory:
		s.store = kv.NewMemoryKV()
		s.closeStore = func() error { return nil }
	default:
		return errors.Errorf("unknown backend %q", s.cfg.Backend)
	}
	log.Info("store is opened", zap.String("backend", s.cfg.Backend))
	return nil
}

// Run opens the store, checks its version and starts the server loops.
func (s *Server) Run(ctx context.Context) error {
	if err := s.openStore(); err != nil {
		return err
	}
	version, err := checkStorageVersion(ctx, s.store, StorageVersion)
	if err != nil {
		if cerr := s.closeStore(); cerr != nil {
			log.Error("close store meet error", zap.Error(cerr))
		}
		if s.client != nil {
			s.client.Close()
		}
		return err
	}
	s.version = version
	s.api = catalog.NewAPI(s.store, s.cfg.Catalog.APIConfig())
	s.startTime = time.Now()

	s.startServerLoop(ctx)
	if err := s.startStatusServer(); err != nil {
		return err
	}
	atomic.StoreInt64(&s.isServing, 1)
	return nil
}

func (s *Server) startServerLoop(ctx context.Context) {
	s.serverLoopCtx, s.serverLoopCancel = context.WithCancel(ctx)
	s.gcWorker.Start(newGCHandler(s))
	if s.cfg.GC.Enable {
		s.serverLoopWg.Add(1)
		go s.gcLoop()
	}
}

func (s *Server) stopServerLoop() {
	s.serverLoopCancel()
	s.serverLoopWg.Wait()
	s.gcWorker.Stop()
	s.gcWg.Wait()
}

func (s *Server) startStatusServer() error {
	if s.cfg.StatusAddr == "" || s.builder == nil {
		return nil
	}
	s.statusServer = &http.Server{
		Addr:    s.cfg.StatusAddr,
		Handler: s.builder(s),
	}
	go func() {
		log.Info("status server is started", zap.String("address", s.cfg.StatusAddr))
		if err := s.statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server exits", zap.Error(err))
		}
	}()
	return nil
}

// Close closes the server.
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt64(&s.isServing, 1, 0) {
		// server is already closed
		return
	}

	log.Info("closing server")

	if s.statusServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statusServerTimeout)
		if err := s.statusServer.Shutdown(ctx); err != nil {
			log.Error("close status server meet error", zap.Error(err))
		}
		cancel()
	}

	s.stopServerLoop()

	if err := s.closeStore(); err != nil {
		log.Error("close store meet error", zap.Error(err))
	}
	if s.client != nil {
		s.client.Close()
	}

	log.Info("close server")
}

// IsClosed checks whether server is closed or not.
func (s *Server) IsClosed() bool {
	return atomic.LoadInt64(&s.isServing) == 0
}

// Context returns the loop context of server.
func (s *Server) Context() context.Context {
	return s.serverLoopCtx
}

// GetAPI returns the catalog API of the server.
func (s *Server) GetAPI() *catalog.API {
	return s.api
}

// GetStore returns the store the catalog runs on.
func (s *Server) GetStore() kv.Store {
	return s.store
}

// GetConfig returns the config of the server.
func (s *Server) GetConfig() *config.Config {
	return s.cfg.Clone()
}

// Name returns the unique name for this server.
func (s *Server) Name() string {
	return s.cfg.Name
}

// StorageVersion returns the catalog layout version of the store.
func (s *Server) StorageVersion() semver.Version {
	return *s.version
}

// StartTime returns when the server started serving.
func (s *Server) StartTime() time.Time {
	return s.startTime
}

// SetLogLevel sets log level.
func (s *Server) SetLogLevel(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return errors.WithStack(err)
	}
	s.cfg.Log.Level = level
	log.SetLevel(lvl)
	log.Warn("log level changed", zap.String("level", level))
	return nil
}
