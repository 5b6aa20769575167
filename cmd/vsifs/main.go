// Command vsifs browses, copies and mounts paths of the virtual file layer:
// local files, /vsimem/, archives, gzip streams and configured object stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/vsifs/vsifs-go/internal/config"
	"github.com/vsifs/vsifs-go/internal/logging"
	"github.com/vsifs/vsifs-go/internal/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	usage   string
	summary string
	run     func(env *env, fset *pflag.FlagSet, args []string) error
	setup   func(fset *pflag.FlagSet)
}

var commands = []command{
	{name: "ls", usage: "ls [--long] PATH", summary: "list a directory", run: runLs, setup: lsFlags},
	{name: "stat", usage: "stat PATH...", summary: "print size, mode and modification time", run: runStat},
	{name: "cat", usage: "cat PATH...", summary: "write file contents to stdout", run: runCat},
	{name: "cp", usage: "cp SRC DST", summary: "copy a file between any two schemes", run: runCp},
	{name: "find", usage: "find PATTERN", summary: "print paths matching a ** glob", run: runFind},
	{name: "mount", usage: "mount [--read-only] ROOT MOUNTPOINT", summary: "serve ROOT as a FUSE filesystem", run: runMount, setup: mountFlags},
}

// env is what every subcommand works with.
type env struct {
	ctx    context.Context
	cfg    *config.Config
	reg    *registry.Registry
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

// errUsage marks errors caused by bad arguments; they exit with status 2.
var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return 2
		}
		return 0
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "vsifs: unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}

	cfg := config.LoadOrDefault()
	fset := pflag.NewFlagSet("vsifs "+cmd.name, pflag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vsifs %s\n\n%s\n\nFlags:\n", cmd.usage, cmd.summary)
		fset.PrintDefaults()
	}
	bindConfigFlags(fset, cfg)
	if cmd.setup != nil {
		cmd.setup(fset)
	}
	if err := fset.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		fmt.Fprintf(stderr, "vsifs: invalid log level %q\n", cfg.Logging.Level)
		return 2
	}
	defer logger.Sync()

	reg, err := registry.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "vsifs: %v\n", err)
		return 1
	}
	defer reg.Close()

	e := &env{ctx: ctx, cfg: cfg, reg: reg, logger: logger, stdout: stdout, stderr: stderr}
	if err := cmd.run(e, fset, fset.Args()); err != nil {
		fmt.Fprintf(stderr, "vsifs %s: %v\n", cmd.name, err)
		if errors.Is(err, errUsage) {
			fset.Usage()
			return 2
		}
		return 1
	}
	return 0
}

// bindConfigFlags lets flags override what was loaded from VSIFS_* variables.
func bindConfigFlags(fset *pflag.FlagSet, cfg *config.Config) {
	fset.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	fset.BoolVar(&cfg.Logging.Development, "log-dev", cfg.Logging.Development, "human-readable development logging")

	fset.StringVar(&cfg.S3.Bucket, "s3-bucket", cfg.S3.Bucket, "bucket served under /vsis3/")
	fset.StringVar(&cfg.S3.Region, "s3-region", cfg.S3.Region, "AWS region")
	fset.StringVar(&cfg.S3.Endpoint, "s3-endpoint", cfg.S3.Endpoint, "S3-compatible endpoint URL (LocalStack, MinIO)")
	fset.StringVar(&cfg.S3.PasswdFile, "passwd-file", cfg.S3.PasswdFile, "credentials file with ACCESS_KEY:SECRET lines")

	fset.StringVar(&cfg.Postgres.DSN, "pg-dsn", cfg.Postgres.DSN, "PostgreSQL DSN served under /vsipg/")
	fset.StringVar(&cfg.Postgres.Table, "pg-table", cfg.Postgres.Table, "PostgreSQL table")
	fset.StringVar(&cfg.Mongo.URI, "mongo-uri", cfg.Mongo.URI, "MongoDB URI served under /vsimongo/")
	fset.StringVar(&cfg.Mongo.Database, "mongo-database", cfg.Mongo.Database, "MongoDB database")

	fset.IntVar(&cfg.Cache.ChunkSize, "chunk-size", cfg.Cache.ChunkSize, "bytes per cached chunk of remote reads")
	fset.Int64Var(&cfg.Cache.Size, "cache-size", cfg.Cache.Size, "chunk cache bytes per open file (0 caches whole files)")
	fset.DurationVar(&cfg.Cache.StatTTL, "stat-ttl", cfg.Cache.StatTTL, "stat cache lifetime (0 disables)")
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: vsifs COMMAND [flags] ARGS\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nRun 'vsifs COMMAND --help' for the flags of a command.\n")
}
