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

	"github.com/coreos/go-semver/semver"
	"github.com/pingcap-incubator/tinymeta/meta/server/kv"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// storageVersionKey records the layout version of the catalog keys.
const storageVersionKey = "__fd_storage_version"

// StorageVersion is the catalog layout written by this server.
var StorageVersion = MustParseVersion("1.1.0")

// ParseVersion wraps semver.NewVersion and accepts a leading 'v'.
func ParseVersion(v string) (*semver.Version, error) {
	if v == "" {
		return nil, errors.New("empty version")
	}
	if v[0] == 'v' {
		v = v[1:]
	}
	ver, err := semver.NewVersion(v)
	return ver, errors.WithStack(err)
}

// MustParseVersion wraps ParseVersion and will panic if error is not nil.
func MustParseVersion(v string) *semver.Version {
	ver, err := ParseVersion(v)
	if err != nil {
		log.Fatal("version string is illegal", zap.Error(err))
	}
	return ver
}

// IsCompatible checks if a server at version can serve a store written at
// storeVersion. Layouts are compatible within one major version.
func IsCompatible(storeVersion, version semver.Version) bool {
	return storeVersion.Major == version.Major
}

// checkStorageVersion stamps an empty store with version, or fails when the
// store was written by an incompatible layout. A newer minor version in the
// store is kept as is.
func checkStorageVersion(ctx context.Context, store kv.Store, version *semver.Version) (*semver.Version, error) {
	for {
		cur, err := store.Get(ctx, storageVersionKey)
		if err != nil {
			return nil, err
		}
		if cur != nil {
			stored, err := ParseVersion(string(cur.Data))
			if err != nil {
				return nil, err
			}
			if !IsCompatible(*stored, *version) {
				return nil, errors.Errorf("store version %s is incompatible with server version %s", stored, version)
			}
			if stored.LessThan(*version) {
				if err := putStorageVersion(ctx, store, version, cur.Seq); err != nil {
					if errors.Cause(err) == errVersionChanged {
						continue
					}
					return nil, err
				}
				log.Info("storage version is updated",
					zap.String("old-version", stored.String()),
					zap.String("new-version", version.String()))
				return version, nil
			}
			return stored, nil
		}
		err = putStorageVersion(ctx, store, version, 0)
		if errors.Cause(err) == errVersionChanged {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("storage version is initialized", zap.String("version", version.String()))
		return version, nil
	}
}

var errVersionChanged = errors.New("storage version changed concurrently")

func putStorageVersion(ctx context.Context, store kv.Store, version *semver.Version, seq uint64) error {
	reply, err := store.Transaction(ctx, &kv.TxnRequest{
		Conditions: []*kv.TxnCondition{{Key: storageVersionKey, Result: kv.SeqEq, Seq: seq}},
		IfThen:     []*kv.TxnOp{kv.NewPut(storageVersionKey, []byte(version.String()))},
	})
	if err != nil {
		return err
	}
	if !reply.Success {
		return errVersionChanged
	}
	return nil
}
