// Package config loads and validates the process-wide configuration for
// both the controller and the worker binaries. It mirrors the shape of the
// settings enumerated in section 6 of the design: common, controller,
// worker, database and observability sections, loaded from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Common holds settings shared by the controller and every worker.
type Common struct {
	RequestBufSizeBytes   int           `mapstructure:"request-buf-size-bytes"`
	RequestRetryIntervalS time.Duration `mapstructure:"request-retry-interval-sec"`
}

// Controller holds controller-side timers.
type Controller struct {
	RequestTimeoutSec      time.Duration `mapstructure:"request-timeout-sec"`
	JobTimeoutSec          time.Duration `mapstructure:"job-timeout-sec"`
	JobHeartbeatTimeoutSec time.Duration `mapstructure:"job-heartbeat-timeout-sec"`
	FixUpCronSchedule      string        `mapstructure:"fixup-cron-schedule"`
}

// Worker holds worker-process-processor and ingest settings.
type Worker struct {
	NumSvcProcessingThreads int    `mapstructure:"num-svc-processing-threads"`
	AsyncLoaderCleanupOnResume bool `mapstructure:"async-loader-cleanup-on-resume"`
	AsyncLoaderAutoResume   bool   `mapstructure:"async-loader-auto-resume"`
	IngestNumRetries        int   `mapstructure:"ingest-num-retries"`
	IngestMaxRetries        int   `mapstructure:"ingest-max-retries"`
	IngestCharsetName       string `mapstructure:"ingest-charset-name"`
	IngestDefaultMaxConcurrency int `mapstructure:"ingest-default-max-concurrency"`
	IngestNumLoaderThreads      int `mapstructure:"ingest-num-loader-threads"`
	Name               string        `mapstructure:"name"`
	ListenAddr         string        `mapstructure:"listen-addr"`
	DataDir            string        `mapstructure:"data-dir"`
	RequestExpirationSec time.Duration `mapstructure:"request-expiration-sec"`
}

// Database holds the DatabaseServicesPool settings.
type Database struct {
	ServicesPoolSize    int    `mapstructure:"services_pool_size"`
	QservMasterTmpDir   string `mapstructure:"qserv-master-tmp-dir"`
	Addr                string `mapstructure:"addr"`
	Password            string `mapstructure:"password"`
	DB                  int    `mapstructure:"db"`
}

// Observability configures logging and the metrics listener. It is not
// named in spec.md's configuration table but is carried as ambient stack
// per SPEC_FULL.md section 2.
type Observability struct {
	LogLevel    string `mapstructure:"log-level"`
	MetricsPort int    `mapstructure:"metrics-port"`
}

// Config is the root, immutable-after-load configuration object. A single
// instance is constructed at startup and passed explicitly to every
// component that needs it; there is no package-level singleton.
type Config struct {
	Common        Common            `mapstructure:"common"`
	Controller    Controller        `mapstructure:"controller"`
	Worker        Worker            `mapstructure:"worker"`
	Database      Database          `mapstructure:"database"`
	Observability Observability     `mapstructure:"observability"`
	HTTP          HTTP              `mapstructure:"http"`
	// Workers maps a worker name to its dialable messenger address
	// (host:port). Static for now; a dynamic registry is out of scope.
	Workers map[string]string `mapstructure:"workers"`
}

// HTTP configures internal/httpapi's listener and admin auth.
type HTTP struct {
	ListenAddr     string        `mapstructure:"listen-addr"`
	AdminToken     string        `mapstructure:"admin-token"`
	ReadTimeoutSec time.Duration `mapstructure:"read-timeout-sec"`
	WriteTimeoutSec time.Duration `mapstructure:"write-timeout-sec"`
	ContribTimeoutSec time.Duration `mapstructure:"contrib-timeout-sec"`
}

func defaults() *Config {
	return &Config{
		Common: Common{
			RequestBufSizeBytes:   1024 * 1024,
			RequestRetryIntervalS: 1 * time.Second,
		},
		Controller: Controller{
			RequestTimeoutSec:      30 * time.Second,
			JobTimeoutSec:          10 * time.Minute,
			JobHeartbeatTimeoutSec: 1 * time.Minute,
			FixUpCronSchedule:      "@every 5m",
		},
		Worker: Worker{
			NumSvcProcessingThreads:    4,
			AsyncLoaderCleanupOnResume: true,
			AsyncLoaderAutoResume:      false,
			IngestNumRetries:           0,
			IngestMaxRetries:           3,
			IngestCharsetName:          "utf8",
			IngestDefaultMaxConcurrency: 1,
			IngestNumLoaderThreads:      2,
			ListenAddr:                  ":25002",
			DataDir:                      "/tmp/qserv/data",
			RequestExpirationSec:         10 * time.Minute,
		},
		Database: Database{
			ServicesPoolSize:  4,
			QservMasterTmpDir: "/tmp/qserv",
			Addr:              "localhost:6379",
			DB:                0,
		},
		Observability: Observability{
			LogLevel:    "info",
			MetricsPort: 9090,
		},
		HTTP: HTTP{
			ListenAddr:        ":8080",
			ReadTimeoutSec:    15 * time.Second,
			WriteTimeoutSec:   15 * time.Second,
			ContribTimeoutSec: 30 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file at path, applying defaults and
// environment-variable overrides (dots become underscores, e.g.
// WORKER_NUM_SVC_PROCESSING_THREADS). A config file that does not exist,
// and any key absent from the file, take the defaults above; absent
// settings do not make Load fail. A file that cannot be read or parsed,
// a value that cannot be decoded, or a Validate failure does.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := defaults()
	v.SetDefault("common.request-buf-size-bytes", def.Common.RequestBufSizeBytes)
	v.SetDefault("common.request-retry-interval-sec", def.Common.RequestRetryIntervalS)
	v.SetDefault("controller.request-timeout-sec", def.Controller.RequestTimeoutSec)
	v.SetDefault("controller.job-timeout-sec", def.Controller.JobTimeoutSec)
	v.SetDefault("controller.job-heartbeat-timeout-sec", def.Controller.JobHeartbeatTimeoutSec)
	v.SetDefault("controller.fixup-cron-schedule", def.Controller.FixUpCronSchedule)
	v.SetDefault("worker.num-svc-processing-threads", def.Worker.NumSvcProcessingThreads)
	v.SetDefault("worker.async-loader-cleanup-on-resume", def.Worker.AsyncLoaderCleanupOnResume)
	v.SetDefault("worker.async-loader-auto-resume", def.Worker.AsyncLoaderAutoResume)
	v.SetDefault("worker.ingest-num-retries", def.Worker.IngestNumRetries)
	v.SetDefault("worker.ingest-max-retries", def.Worker.IngestMaxRetries)
	v.SetDefault("worker.ingest-charset-name", def.Worker.IngestCharsetName)
	v.SetDefault("worker.ingest-default-max-concurrency", def.Worker.IngestDefaultMaxConcurrency)
	v.SetDefault("worker.ingest-num-loader-threads", def.Worker.IngestNumLoaderThreads)
	v.SetDefault("worker.listen-addr", def.Worker.ListenAddr)
	v.SetDefault("worker.data-dir", def.Worker.DataDir)
	v.SetDefault("worker.request-expiration-sec", def.Worker.RequestExpirationSec)
	v.SetDefault("database.services_pool_size", def.Database.ServicesPoolSize)
	v.SetDefault("database.qserv-master-tmp-dir", def.Database.QservMasterTmpDir)
	v.SetDefault("database.addr", def.Database.Addr)
	v.SetDefault("database.db", def.Database.DB)
	v.SetDefault("observability.log-level", def.Observability.LogLevel)
	v.SetDefault("observability.metrics-port", def.Observability.MetricsPort)
	v.SetDefault("http.listen-addr", def.HTTP.ListenAddr)
	v.SetDefault("http.read-timeout-sec", def.HTTP.ReadTimeoutSec)
	v.SetDefault("http.write-timeout-sec", def.HTTP.WriteTimeoutSec)
	v.SetDefault("http.contrib-timeout-sec", def.HTTP.ContribTimeoutSec)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants startup depends on.
func Validate(cfg *Config) error {
	if cfg.Worker.NumSvcProcessingThreads < 1 {
		return fmt.Errorf("worker.num-svc-processing-threads must be >= 1")
	}
	if cfg.Database.ServicesPoolSize < 1 {
		return fmt.Errorf("database.services_pool_size must be >= 1")
	}
	if cfg.Common.RequestRetryIntervalS <= 0 {
		return fmt.Errorf("common.request-retry-interval-sec must be > 0")
	}
	if cfg.Controller.RequestTimeoutSec <= 0 {
		return fmt.Errorf("controller.request-timeout-sec must be > 0")
	}
	if cfg.Worker.IngestMaxRetries < 0 {
		return fmt.Errorf("worker.ingest-max-retries must be >= 0")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics-port must be 1..65535")
	}
	return nil
}
