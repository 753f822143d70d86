// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst/qserv-sub024/internal/config"
	"github.com/lsst/qserv-sub024/internal/controller"
	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/httpapi"
	"github.com/lsst/qserv-sub024/internal/messenger"
	"github.com/lsst/qserv-sub024/internal/obs"
)

var version = "dev"

func main() {
	var configPath string
	var fixupSchedule string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/controller.yaml", "Path to YAML config")
	fs.StringVar(&fixupSchedule, "fixup-schedule", "", "Cron schedule for periodic FixUp (overrides controller.fixup-cron-schedule)")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pool, err := dbsvc.New(cfg.Database.Addr, cfg.Database.Password, cfg.Database.DB, cfg.Database.ServicesPoolSize)
	if err != nil {
		logger.Fatal("failed to construct database services pool", obs.Err(err))
	}
	defer pool.Close()

	dialer := func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		d := net.Dialer{Timeout: 5 * time.Second}
		return d.DialContext(ctx, "tcp", addr)
	}
	msgr := messenger.New(dialer, cfg.Common.RequestRetryIntervalS, 60*cfg.Common.RequestRetryIntervalS, logger)
	defer msgr.Close()

	workerAddr := func(worker string) (string, bool) {
		addr, ok := cfg.Workers[worker]
		return addr, ok
	}

	ctl := controller.New(msgr, workerAddr, pool, cfg.Common.RequestRetryIntervalS, cfg.Controller.RequestTimeoutSec, cfg.Controller.JobTimeoutSec, cfg.Worker.NumSvcProcessingThreads, logger)

	schedule := cfg.Controller.FixUpCronSchedule
	if fixupSchedule != "" {
		schedule = fixupSchedule
	}
	families := map[string][]string{}
	for name := range cfg.Workers {
		families["default"] = append(families["default"], name)
	}
	if len(families["default"]) > 0 {
		if err := ctl.StartFixUpScheduler(schedule, families); err != nil {
			logger.Fatal("failed to start fixup scheduler", obs.Err(err))
		}
		defer ctl.StopFixUpScheduler()
	}

	metricsSrv := obs.StartHTTPServer(cfg.Observability.MetricsPort, func(ctx context.Context) error { return pool.Ping(ctx) })
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	httpSrv := httpapi.NewServer(httpapi.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		AdminToken:     cfg.HTTP.AdminToken,
		ReadTimeout:    cfg.HTTP.ReadTimeoutSec,
		WriteTimeout:   cfg.HTTP.WriteTimeoutSec,
		ContribTimeout: cfg.HTTP.ContribTimeoutSec,
	}, nil, &httpapi.AdminHandlers{Controller: ctl, Pool: pool}, &httpapi.HealthHandlers{Pool: pool}, logger)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			logger.Warn("httpapi server stopped", obs.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
