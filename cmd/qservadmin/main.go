// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lsst/qserv-sub024/internal/config"
	"github.com/lsst/qserv-sub024/internal/dbsvc"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
var validPath = regexp.MustCompile(`^[A-Za-z0-9_/]+$`)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	var configPath string
	var verbose bool
	var showHelp bool
	fs := flag.NewFlagSet("qservadmin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "config/controller.yaml", "Path to YAML config")
	fs.BoolVar(&verbose, "v", false, "Verbose output")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&showHelp, "h", false, "Show help")
	fs.BoolVar(&showHelp, "help", false, "Show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if showHelp || len(rest) == 0 {
		printUsage(stderr)
		if showHelp {
			return 0
		}
		return 2
	}

	cmd := rest[0]
	cmdArgs := rest[1:]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}

	pool, err := dbsvc.New(cfg.Database.Addr, cfg.Database.Password, cfg.Database.DB, cfg.Database.ServicesPoolSize)
	if err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx := context.Background()

	switch cmd {
	case "installMeta":
		if err := pool.InstallMeta(ctx); err != nil {
			fmt.Fprintf(stderr, "qservadmin: %v\n", err)
			return 1
		}
	case "destroyMeta":
		if err := pool.DestroyMeta(ctx); err != nil {
			fmt.Fprintf(stderr, "qservadmin: %v\n", err)
			return 1
		}
	case "printMeta":
		return cmdPrintMeta(ctx, pool, stdout, stderr)
	case "registerDb":
		return cmdDbName(ctx, pool.RegisterDatabase, cmdArgs, stderr)
	case "unregisterDb":
		return cmdDbName(ctx, pool.UnregisterDatabase, cmdArgs, stderr)
	case "listDbs":
		return cmdListDbs(ctx, pool, stdout, stderr)
	case "createExportPaths":
		return cmdExportPaths(ctx, pool, cfg.Database.QservMasterTmpDir, cmdArgs, stderr, createExportPath)
	case "rebuildExportPaths":
		return cmdExportPaths(ctx, pool, cfg.Database.QservMasterTmpDir, cmdArgs, stderr, rebuildExportPath)
	default:
		fmt.Fprintf(stderr, "qservadmin: unknown command %q\n", cmd)
		printUsage(stderr)
		return 2
	}
	if verbose {
		fmt.Fprintf(stdout, "qservadmin: %s OK\n", cmd)
	}
	return 0
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "usage: qservadmin [-config path] [-v] <command> [args]")
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  installMeta")
	fmt.Fprintln(out, "  destroyMeta")
	fmt.Fprintln(out, "  printMeta")
	fmt.Fprintln(out, "  registerDb <db>")
	fmt.Fprintln(out, "  unregisterDb <db>")
	fmt.Fprintln(out, "  listDbs")
	fmt.Fprintln(out, "  createExportPaths [<db>]")
	fmt.Fprintln(out, "  rebuildExportPaths [<db>]")
}

func cmdPrintMeta(ctx context.Context, pool *dbsvc.Pool, stdout, stderr *os.File) int {
	installed, err := pool.MetaInstalled(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}
	dbs, err := pool.ListDatabases(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "installed: %v\n", installed)
	fmt.Fprintf(stdout, "databases: %v\n", dbs)
	return 0
}

func cmdDbName(ctx context.Context, op func(context.Context, string) error, args []string, stderr *os.File) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "qservadmin: expected exactly one database name")
		return 2
	}
	db := args[0]
	if !validName.MatchString(db) {
		fmt.Fprintf(stderr, "qservadmin: invalid database name %q\n", db)
		return 2
	}
	if err := op(ctx, db); err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}
	return 0
}

func cmdListDbs(ctx context.Context, pool *dbsvc.Pool, stdout, stderr *os.File) int {
	dbs, err := pool.ListDatabases(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "qservadmin: %v\n", err)
		return 1
	}
	for _, db := range dbs {
		fmt.Fprintln(stdout, db)
	}
	return 0
}

func cmdExportPaths(ctx context.Context, pool *dbsvc.Pool, root string, args []string, stderr *os.File, apply func(path string) error) int {
	var dbs []string
	if len(args) == 1 {
		if !validName.MatchString(args[0]) {
			fmt.Fprintf(stderr, "qservadmin: invalid database name %q\n", args[0])
			return 2
		}
		dbs = []string{args[0]}
	} else if len(args) == 0 {
		var err error
		dbs, err = pool.ListDatabases(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "qservadmin: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintln(stderr, "qservadmin: expected at most one database name")
		return 2
	}
	for _, db := range dbs {
		path := filepath.Join(root, db, "export")
		if !validPath.MatchString(path) {
			fmt.Fprintf(stderr, "qservadmin: invalid export path %q\n", path)
			return 2
		}
		if err := apply(path); err != nil {
			fmt.Fprintf(stderr, "qservadmin: %v\n", err)
			return 1
		}
	}
	return 0
}

func createExportPath(path string) error {
	return os.MkdirAll(path, 0o755)
}

func rebuildExportPath(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}
