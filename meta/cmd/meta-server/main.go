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


package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap-incubator/tinymeta/meta/pkg/logutil"
	"github.com/pingcap-incubator/tinymeta/meta/server"
	"github.com/pingcap-incubator/tinymeta/meta/server/api"
	"github.com/pingcap-incubator/tinymeta/meta/server/config"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	cfg := config.NewConfig()
	err := cfg.Parse(os.Args[1:])

	if cfg.Version {
		server.PrintMetaInfo()
		exit(0)
	}

	defer logutil.LogPanic()

	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if cfg.ConfigCheck {
		server.PrintConfigCheckMsg(cfg)
		exit(0)
	}

	// New zap logger
	err = cfg.SetupLogger()
	if err == nil {
		log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	} else {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	// Flushing any buffered log entries
	defer log.Sync()

	server.LogMetaInfo()

	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}

	svr, err := server.CreateServer(cfg, api.NewHandler)
	if err != nil {
		log.Fatal("create server failed", zap.Error(err))
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGUSR1)

	ctx, cancel := context.WithCancel(context.Background())
	var sig os.Signal
	go func() {
		for sig = range sc {
			if sig != syscall.SIGUSR1 {
				break
			}
			logGCStatus(svr)
		}
		cancel()
	}()

	if err := svr.Run(ctx); err != nil {
		log.Fatal("run server failed", zap.Error(err))
	}
	storeVersion := svr.StorageVersion()
	log.Info("meta server is serving",
		zap.String("backend", cfg.Backend),
		zap.String("storage-version", storeVersion.String()),
		zap.Bool("storage-newer", server.StorageVersion.LessThan(storeVersion)),
		zap.String("status-addr", cfg.StatusAddr),
		zap.Bool("gc", cfg.GC.Enable),
		zap.Duration("gc-interval", cfg.GC.Interval.Duration))

	<-ctx.Done()
	log.Info("Got signal to exit", zap.String("signal", sig.String()))

	svr.Close()
	logGCStatus(svr)
	switch sig {
	case syscall.SIGTERM:
		exit(0)
	default:
		exit(1)
	}
}

// logGCStatus dumps the vacuum counters, on SIGUSR1 and on exit.
func logGCStatus(svr *server.Server) {
	st := svr.GCStatus()
	log.Info("gc status",
		zap.Uint64("rounds", st.Rounds),
		zap.Uint64("passes", st.Passes),
		zap.Uint64("failures", st.Failures),
		zap.Uint64("databases", st.Databases),
		zap.Uint64("tables", st.Tables),
		zap.Uint64("indexes", st.Indexes),
		zap.Time("last-pass", st.LastPass),
		zap.Float64("median-seconds", st.MedianSeconds),
		zap.Float64("p99-seconds", st.P99Seconds))
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
