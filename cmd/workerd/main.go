// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst/qserv-sub024/internal/config"
	"github.com/lsst/qserv-sub024/internal/dbsvc"
	"github.com/lsst/qserv-sub024/internal/httpapi"
	"github.com/lsst/qserv-sub024/internal/ingest"
	"github.com/lsst/qserv-sub024/internal/obs"
	"github.com/lsst/qserv-sub024/internal/workerproc"
)

var version = "dev"

func main() {
	var configPath, name, listenAddr, dataDir string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/worker.yaml", "Path to YAML config")
	fs.StringVar(&name, "name", "", "This worker's instance name (overrides worker.name)")
	fs.StringVar(&listenAddr, "listen", "", "Address to accept Controller connections on (overrides worker.listen-addr)")
	fs.StringVar(&dataDir, "data-dir", "", "Replica data directory root (overrides worker.data-dir)")
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
	if name != "" {
		cfg.Worker.Name = name
	}
	if listenAddr != "" {
		cfg.Worker.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.Worker.DataDir = dataDir
	}
	if cfg.Worker.Name == "" {
		fmt.Fprintln(os.Stderr, "worker.name (or -name) is required")
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Worker.DataDir, 0o755); err != nil {
		logger.Fatal("failed to create data directory", obs.Err(err))
	}

	pool, err := dbsvc.New(cfg.Database.Addr, cfg.Database.Password, cfg.Database.DB, cfg.Database.ServicesPoolSize)
	if err != nil {
		logger.Fatal("failed to construct database services pool", obs.Err(err))
	}
	defer pool.Close()

	proc := workerproc.New(cfg.Worker.NumSvcProcessingThreads, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// localCopyTransport only knows this worker's own data directory; a
	// same-host deployment still exercises REPLICATION requests sourced
	// from this worker, but cross-host peer data directories aren't
	// discoverable without the registry this stand-in doesn't have.
	transport := &localCopyTransport{dataDirs: map[string]string{cfg.Worker.Name: cfg.Worker.DataDir}}
	build := newBuilder(ctx, cfg.Worker.Name, cfg.Worker.DataDir, transport, unimplementedSQLService{}, &fileIndexSource{path: cfg.Worker.DataDir + "/director_index.dat"})

	srv := workerproc.NewServer(proc, build, cfg.Worker.Name, int(cfg.Worker.RequestExpirationSec/time.Second), logger)

	ln, err := net.Listen("tcp", cfg.Worker.ListenAddr)
	if err != nil {
		logger.Fatal("failed to listen", obs.Err(err))
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Warn("workerproc server stopped", obs.Err(err))
		}
	}()

	ingestMgr := ingest.NewManager(cfg.Worker.IngestDefaultMaxConcurrency)
	loader := &httpFetchLoader{client: &http.Client{Timeout: 5 * time.Minute}}
	ingest.Run(ctx, ingestMgr, pool, loader, cfg.Worker.IngestNumLoaderThreads, logger)

	ingestHandlers := &httpapi.IngestHandlers{
		Manager:        ingestMgr,
		Pool:           pool,
		DefaultCharset: cfg.Worker.IngestCharsetName,
		MaxRetriesCap:  cfg.Worker.IngestMaxRetries,
		SyncTimeout:    cfg.HTTP.ContribTimeoutSec,
		Log:            logger,
	}

	httpSrv := httpapi.NewServer(httpapi.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		AdminToken:     cfg.HTTP.AdminToken,
		ReadTimeout:    cfg.HTTP.ReadTimeoutSec,
		WriteTimeout:   cfg.HTTP.WriteTimeoutSec,
		ContribTimeout: cfg.HTTP.ContribTimeoutSec,
	}, ingestHandlers, nil, &httpapi.HealthHandlers{Pool: pool}, logger)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil {
			logger.Warn("httpapi server stopped", obs.Err(err))
		}
	}()

	metricsSrv := obs.StartHTTPServer(cfg.Observability.MetricsPort, func(ctx context.Context) error { return pool.Ping(ctx) })
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))

	cancel()
	_ = ln.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
