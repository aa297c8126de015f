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
	"fmt"

	"github.com/pingcap-incubator/tinymeta/meta/server/config"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Version information.
var (
	MetaReleaseVersion = "None"
	MetaBuildTS        = "None"
	MetaGitHash        = "None"
	MetaGitBranch      = "None"
)

// LogMetaInfo prints the meta server version information.
func LogMetaInfo() {
	log.Info("Welcome to the meta server")
	log.Info("Meta", zap.String("release-version", MetaReleaseVersion))
	log.Info("Meta", zap.String("git-hash", MetaGitHash))
	log.Info("Meta", zap.String("git-branch", MetaGitBranch))
	log.Info("Meta", zap.String("utc-build-time", MetaBuildTS))
	log.Info("Meta", zap.String("storage-version", StorageVersion.String()))
}

// PrintMetaInfo prints the version information without log info.
func PrintMetaInfo() {
	fmt.Println("Release Version:", MetaReleaseVersion)
	fmt.Println("Storage Version:", StorageVersion)
	fmt.Println("Git Commit Hash:", MetaGitHash)
	fmt.Println("Git Branch:", MetaGitBranch)
	fmt.Println("UTC Build Time: ", MetaBuildTS)
}

// PrintConfigCheckMsg prints the message about configuration checks.
func PrintConfigCheckMsg(cfg *config.Config) {
	if len(cfg.WarningMsgs) == 0 {
		fmt.Println("config check successful")
		return
	}

	for _, msg := range cfg.WarningMsgs {
		fmt.Println(msg)
	}
}
