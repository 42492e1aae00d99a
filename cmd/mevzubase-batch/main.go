// Command mevzubase-batch runs a connector over year windows as parallel child processes
// and renders their queue progress
//
// Arguments after -- are passed to every mevzubase-ingest child
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/nuxxor/Mevzubase/internal/modkit"
	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	phttp "github.com/nuxxor/Mevzubase/internal/platform/net/http"
	"github.com/nuxxor/Mevzubase/internal/platform/net/middleware"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	ptime "github.com/nuxxor/Mevzubase/internal/platform/time"
	batchhttp "github.com/nuxxor/Mevzubase/internal/services/batch/http"
	batch "github.com/nuxxor/Mevzubase/internal/services/batch/service"
	ingest "github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	ingestmod "github.com/nuxxor/Mevzubase/internal/services/ingest/module"
)

func main() {
	lo := logger.FromEnv()
	if lo.Service == "" {
		lo.Service = "mevzubase-batch"
	}
	logger.Init(lo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], config.New(), os.Stdout))
}

type cli struct {
	opts     batch.Options
	endDate  string
	refresh  int
	httpAddr string
	noColor  bool
}

func parseFlags(args []string, root config.Conf, stderr io.Writer) (cli, error) {
	c := cli{opts: batch.FromConfig(root)}
	fs := flag.NewFlagSet("mevzubase-batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&c.opts.StartYear, "start-year", 0, "first year to ingest")
	fs.IntVar(&c.opts.EndYear, "end-year", 0, "last year to ingest")
	fs.StringVar(&c.endDate, "end-date", "", "YYYY-MM-DD cut off for the last year")
	fs.IntVar(&c.opts.Parallel, "parallel", c.opts.Parallel, "windows running at once")
	fs.IntVar(&c.refresh, "refresh", int(c.opts.Refresh/time.Second), "monitor refresh in seconds")
	fs.StringVar(&c.opts.LogDir, "log-dir", c.opts.LogDir, "directory for per window child logs")
	fs.StringVar(&c.opts.Connector, "connector", c.opts.Connector, "connector passed to every child")
	fs.StringVar(&c.opts.IngestBin, "ingest-bin", c.opts.IngestBin, "path of the mevzubase-ingest binary")
	fs.StringVar(&c.httpAddr, "http-addr", "", "serve /healthz, /v1/batch, /v1/shards and /metrics on this address")
	fs.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.opts.Refresh = time.Duration(c.refresh) * time.Second
	c.opts.IngestArgs = append(c.opts.IngestArgs, fs.Args()...)
	if c.endDate != "" {
		d, ok := ptime.ParseDate(c.endDate)
		if !ok {
			return c, fmt.Errorf("bad --end-date %q", c.endDate)
		}
		c.opts.EndDate = &d
	}
	return c, c.opts.Validate()
}

func run(ctx context.Context, args []string, root config.Conf, stdout io.Writer) int {
	l := logger.Get()

	c, err := parseFlags(args, root, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		l.Error().Err(err).Msg("invalid arguments")
		return 2
	}
	windows, err := batch.YearWindows(c.opts.StartYear, c.opts.EndYear, c.opts.EndDate)
	if err != nil {
		l.Error().Err(err).Msg("invalid year range")
		return 2
	}

	// the monitor reads the same queue tables the children write
	var monitor ingest.MonitorPort
	var pg any
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	if url := pgCfg.MayString("DBURL", ""); url != "" {
		st, err := store.Open(ctx, store.Config{
			PG: store.PGConfig{
				Enabled:     true,
				URL:         url,
				MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 2)),
				SlowQueryMs: pgCfg.MayInt("SLOW_QUERY_MS", 500),
			},
		}, store.WithLogger(*l), store.WithRole("batch"))
		if err != nil {
			l.Error().Err(err).Msg("store.Open failed")
			return 1
		}
		defer func() {
			if err := st.Close(context.Background()); err != nil {
				l.Error().Err(err).Msg("failed to close store")
			}
		}()
		repokit.MustGuard(ctx, st)
		m, err := ingestmod.New(modkit.Deps{Cfg: root, Log: *l, PG: st.PG}, ingestmod.FromConfig(root), nil, nil, nil)
		if err != nil {
			l.Error().Err(err).Msg("ingest monitor wiring failed")
			return 1
		}
		monitor = m.Ports().(ingestmod.Ports).Monitor
		pg = st.PG
	} else {
		l.Warn().Msg("SERVICE_PGSQL_DBURL not set, progress counts are unavailable")
	}

	tty := false
	if f, ok := stdout.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	launcher := &batch.ExecLauncher{Bin: c.opts.IngestBin, Args: c.opts.IngestArgs, LogDir: c.opts.LogDir}
	svc := batch.New(launcher, monitor, c.opts, batch.WithOutput(stdout, tty), batch.WithColor(tty && !c.noColor))

	if c.httpAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		srv := phttp.NewServer(c.httpAddr)
		r := srv.Router()
		r.Use(middleware.Defaults(time.Second)...)
		r.Use(middleware.CORS(middleware.CORSOptions{AllowedOrigins: root.Prefix("CORE_STATUS_").MayCSV("CORS_ORIGINS", nil), MaxAge: 300}))
		batchhttp.Register(r, batchhttp.Deps{
			Service:   "mevzubase-batch",
			StartedAt: time.Now(),
			Batch:     svc,
			Monitor:   monitor,
			Gatherer:  reg,
			PG:        pg,
		})
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			if err := srv.Run(sctx); err != nil {
				l.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	fmt.Fprintf(stdout, "Launching %d windows (parallel=%d, connector=%s)\n", len(windows), c.opts.Parallel, c.opts.Connector)
	sum := svc.Run(ctx, windows)
	return sum.ExitCode()
}
