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

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/etcdutil"
	"github.com/pingcap-incubator/tinymeta/meta/pkg/typeutil"
	"github.com/pingcap-incubator/tinymeta/meta/server/catalog"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage backends.
const (
	BackendEtcd    = "etcd"
	BackendMemory  = "memory"
	BackendLeveldb = "leveldb"
)

// Config is the meta server configuration.
type Config struct {
	*flag.FlagSet `json:"-"`

	Version bool `json:"-"`

	ConfigCheck bool `json:"-"`

	Name string `toml:"name" json:"name"`

	// Backend selects the store: etcd, memory or leveldb.
	Backend string `toml:"backend" json:"backend"`
	// EtcdEndpoints is a comma separated list of etcd client urls.
	EtcdEndpoints   string            `toml:"etcd-endpoints" json:"etcd-endpoints"`
	EtcdRootPath    string            `toml:"etcd-root-path" json:"etcd-root-path"`
	EtcdDialTimeout typeutil.Duration `toml:"etcd-dial-timeout" json:"etcd-dial-timeout"`
	// DataDir holds the leveldb files.
	DataDir string `toml:"data-dir" json:"data-dir"`

	// StatusAddr serves the status API and prometheus metrics when set.
	StatusAddr string `toml:"status-addr" json:"status-addr"`

	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	Catalog CatalogConfig `toml:"catalog" json:"catalog"`

	GC GCConfig `toml:"gc" json:"gc"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// NewConfig creates a new config.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("meta", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.Version, "V", false, "print version information and exit")
	fs.BoolVar(&cfg.Version, "version", false, "print version information and exit")
	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.BoolVar(&cfg.ConfigCheck, "config-check", false, "check config file validity and exit")

	fs.StringVar(&cfg.Name, "name", "", "human-readable name for this meta server")
	fs.StringVar(&cfg.Backend, "backend", "", "storage backend: etcd, memory or leveldb (default 'etcd')")
	fs.StringVar(&cfg.EtcdEndpoints, "etcd-endpoints", "", "etcd client urls, comma separated (default '"+defaultEtcdEndpoints+"')")
	fs.StringVar(&cfg.EtcdRootPath, "etcd-root-path", "", "key prefix of the catalog in etcd (default '"+defaultEtcdRootPath+"')")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "path to the leveldb data directory (default 'default.${name}')")
	fs.StringVar(&cfg.StatusAddr, "status-addr", "", "address to serve the status API and metrics on")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")

	return cfg
}

const (
	defaultName          = "meta"
	defaultBackend       = BackendEtcd
	defaultEtcdEndpoints = "http://127.0.0.1:2379"
	defaultEtcdRootPath  = "/tinymeta"

	defaultGCInterval        = 10 * time.Minute
	defaultGCPassesPerSecond = 1.0
	defaultGCLimit           = 1000
	defaultGCManualRate      = 0.2
)

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustFloat64(v *float64, defValue float64) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	return c.Adjust(meta)
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendEtcd, BackendMemory, BackendLeveldb:
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.Catalog.DataRetention.Duration < 0 {
		return errors.Errorf("negative data retention %s", c.Catalog.DataRetention.Duration)
	}
	if c.GC.Limit < 0 {
		return errors.Errorf("negative gc limit %d", c.GC.Limit)
	}
	if c.GC.ShardCount > 0 && c.GC.ShardIndex >= c.GC.ShardCount {
		return errors.Errorf("gc shard index %d out of %d shards", c.GC.ShardIndex, c.GC.ShardCount)
	}
	return nil
}

// Utility to test if a configuration is defined.
type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) Child(path ...string) *configMetaData {
	newPath := append([]string(nil), m.path...)
	newPath = append(newPath, path...)
	return &configMetaData{
		meta: m.meta,
		path: newPath,
	}
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	errInfo := "Config contains undefined item: "
	for _, key := range undecoded {
		errInfo += key.String() + ", "
	}
	return errors.New(errInfo[:len(errInfo)-2])
}

// Adjust fills the unset fields with defaults.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	if c.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return err
		}
		adjustString(&c.Name, fmt.Sprintf("%s-%s", defaultName, hostname))
	}
	adjustString(&c.Backend, defaultBackend)
	adjustString(&c.EtcdEndpoints, defaultEtcdEndpoints)
	adjustString(&c.EtcdRootPath, defaultEtcdRootPath)
	adjustDuration(&c.EtcdDialTimeout, etcdutil.DefaultDialTimeout)
	adjustString(&c.DataDir, fmt.Sprintf("default.%s", c.Name))

	c.Catalog.adjust()
	c.GC.adjust(configMetaData.Child("gc"))

	return c.Validate()
}

// Clone returns a cloned configuration.
func (c *Config) Clone() *Config {
	cfg := &Config{}
	*cfg = *c
	return cfg
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

// configFromFile loads config from file.
func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

// CatalogConfig tunes the catalog transactions.
type CatalogConfig struct {
	// DataRetention is how long dropped objects can be undropped before gc
	// removes them.
	DataRetention typeutil.Duration `toml:"data-retention" json:"data-retention"`
	// TxnMaxRetry bounds the attempts of one operation under conflicts.
	TxnMaxRetry       uint64            `toml:"txn-max-retry" json:"txn-max-retry"`
	TxnRetryBaseDelay typeutil.Duration `toml:"txn-retry-base-delay" json:"txn-retry-base-delay"`
	TxnRetryMaxDelay  typeutil.Duration `toml:"txn-retry-max-delay" json:"txn-retry-max-delay"`
	// GCBatchSize bounds the keys deleted per gc transaction.
	GCBatchSize int `toml:"gc-batch-size" json:"gc-batch-size"`
}

func (c *CatalogConfig) adjust() {
	adjustDuration(&c.DataRetention, catalog.DefaultDataRetention)
	adjustInt(&c.GCBatchSize, catalog.DefaultGCBatchSize)
}

// APIConfig converts to the catalog API config.
func (c *CatalogConfig) APIConfig() catalog.Config {
	return catalog.Config{
		DataRetention:     c.DataRetention.Duration,
		TxnMaxRetry:       c.TxnMaxRetry,
		TxnRetryBaseDelay: c.TxnRetryBaseDelay.Duration,
		TxnRetryMaxDelay:  c.TxnRetryMaxDelay.Duration,
		GCBatchSize:       c.GCBatchSize,
	}
}

// GCConfig controls the background vacuum of dropped objects.
type GCConfig struct {
	Enable bool `toml:"enable" json:"enable"`
	// Interval between two vacuum rounds.
	Interval typeutil.Duration `toml:"interval" json:"interval"`
	// Tenants to vacuum. Empty means every tenant with database history.
	Tenants []string `toml:"tenants" json:"tenants"`
	// Limit bounds the objects removed per tenant and round.
	Limit int `toml:"limit" json:"limit"`
	// PassesPerSecond throttles the per-tenant passes.
	PassesPerSecond float64 `toml:"passes-per-second" json:"passes-per-second"`
	// ManualRate bounds the vacuum requests accepted by the status API, per
	// second.
	ManualRate float64 `toml:"manual-rate" json:"manual-rate"`
	// ShardCount and ShardIndex split discovered tenants between servers
	// sharing one store. A tenant belongs to the shard of its name's hash.
	ShardCount uint64 `toml:"shard-count" json:"shard-count"`
	ShardIndex uint64 `toml:"shard-index" json:"shard-index"`
}

func (c *GCConfig) adjust(meta *configMetaData) {
	if !meta.IsDefined("enable") {
		c.Enable = true
	}
	adjustDuration(&c.Interval, defaultGCInterval)
	adjustInt(&c.Limit, defaultGCLimit)
	adjustFloat64(&c.PassesPerSecond, defaultGCPassesPerSecond)
	adjustFloat64(&c.ManualRate, defaultGCManualRate)
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}
