package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-marketdata/internal/config"
	"github.com/kjannette/trahn-marketdata/internal/db"
	"github.com/kjannette/trahn-marketdata/internal/logger"
	"github.com/kjannette/trahn-marketdata/internal/metrics"
)

const usage = `usage: mdingest <command> [flags]

commands:
  migrate                                      apply schema migrations
  ingest  --input GLOB --symbol S --dataset D  ingest vendor OHLCV files
          [--dry-run] [--limit N] [--verbose]
  gaps    --symbol S --start DATE --end DATE   completeness report
  replay  --version V --symbol S --start DATE --end DATE [--out FILE.parquet]
  version get --symbol S | set --symbol S --version V | list
  runs    [--limit N]                          recent ingest runs
  accept  --symbol S --start DATE --end DATE [--expect-symbols N]
`

// errUsage marks bad invocation; run exits 2.
var errUsage = errors.New("usage")

type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Recorder
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"migrate": cmdMigrate,
	"ingest":  cmdIngest,
	"gaps":    cmdGaps,
	"replay":  cmdReplay,
	"version": cmdVersion,
	"runs":    cmdRuns,
	"accept":  cmdAccept,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() { a.log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = cmd(ctx, a, args[1:])

	if werr := a.metrics.WriteTextfile(cfg.MetricsTextfile); werr != nil {
		a.log.Warn("could not write metrics textfile", "path", cfg.MetricsTextfile, "error", werr)
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errUsage):
		if err != errUsage {
			fmt.Fprintln(os.Stderr, err)
		}
		return 2
	default:
		a.log.Error(args[0]+" failed", "error", err)
		return 1
	}
}

// openPool connects using DATABASE_URL. The caller closes the pool.
func (a *app) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	a.log.Debug("connecting", "dsn", a.cfg.RedactedDSN())

	minConns := int32(a.cfg.DBMinConns)
	pool, err := db.Connect(ctx, a.cfg.DatabaseURL, db.PoolOptions{
		MaxConns: int32(a.cfg.DBMaxConns),
		MinConns: &minConns,
	})
	if err != nil {
		return nil, err
	}
	now, err := db.TestConnection(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.log.Debug("database ready", "server_time", now)
	return pool, nil
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// required reports the first empty flag as a usage error.
func required(fs *flag.FlagSet, names ...string) error {
	for _, n := range names {
		f := fs.Lookup(n)
		if f == nil || f.Value.String() == "" {
			fmt.Fprintf(os.Stderr, "%s: --%s is required\n", fs.Name(), n)
			fs.Usage()
			return errUsage
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
