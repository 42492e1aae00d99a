// Command mevzubase-ingest runs one connector over one date window
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"

	"github.com/nuxxor/Mevzubase/internal/adapters/sink/chmirror"
	"github.com/nuxxor/Mevzubase/internal/adapters/sink/memsink"
	"github.com/nuxxor/Mevzubase/internal/adapters/sink/pgsink"
	"github.com/nuxxor/Mevzubase/internal/adapters/sources"
	"github.com/nuxxor/Mevzubase/internal/adapters/sources/bedesten"
	"github.com/nuxxor/Mevzubase/internal/adapters/sources/fixture"
	"github.com/nuxxor/Mevzubase/internal/modkit"
	"github.com/nuxxor/Mevzubase/internal/modkit/module"
	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	phttp "github.com/nuxxor/Mevzubase/internal/platform/net/http"
	"github.com/nuxxor/Mevzubase/internal/platform/net/middleware"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	ptime "github.com/nuxxor/Mevzubase/internal/platform/time"
	statushttp "github.com/nuxxor/Mevzubase/internal/services/batch/http"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	ingestmod "github.com/nuxxor/Mevzubase/internal/services/ingest/module"
)

func init() {
	sources.Register(bedesten.Name, bedesten.Factory)
	sources.Register(fixture.Name, fixture.Factory)
}

func main() {
	lo := logger.FromEnv()
	if lo.Service == "" {
		lo.Service = "mevzubase-ingest"
	}
	logger.Init(lo)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], config.New(), os.Stdout))
}

type cli struct {
	connector    string
	windowStart  string
	windowEnd    string
	days         int
	resume       bool
	requeueStuck bool
	limit        int
	storeKind    string
	httpAddr     string
	staleAfter   int
	opts         ingestmod.Options
}

func parseFlags(args []string, root config.Conf, stderr io.Writer) (cli, error) {
	c := cli{opts: ingestmod.FromConfig(root)}
	fs := flag.NewFlagSet("mevzubase-ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.connector, "connector", "", "connector name ("+strings.Join(sources.Names(), ", ")+")")
	fs.StringVar(&c.windowStart, "window-start", "", "window start YYYY-MM-DD (default today minus --days)")
	fs.StringVar(&c.windowEnd, "window-end", "", "window end YYYY-MM-DD inclusive (default today)")
	fs.IntVar(&c.days, "days", 2, "look back this many days when --window-start is not set")
	fs.BoolVar(&c.resume, "resume", false, "continue from the connector progress cursor")
	fs.IntVar(&c.opts.BufferDays, "buffer-days", c.opts.BufferDays, "overlap days when resuming")
	fs.IntVar(&c.opts.MaxAttempts, "max-attempts", c.opts.MaxAttempts, "attempts before an item is FAILED")
	fs.IntVar(&c.opts.MaxErrors, "max-errors", c.opts.MaxErrors, "consecutive failures before the run fails")
	fs.IntVar(&c.staleAfter, "stale-after", int(c.opts.StaleAfter/time.Second), "seconds without heartbeat before a run is stalled")
	fs.IntVar(&c.limit, "limit", 0, "max items to drain, 0 is unlimited")
	fs.BoolVar(&c.requeueStuck, "requeue-stuck", false, "move IN_PROGRESS entries of the shard back to PENDING first")
	fs.StringVar(&c.storeKind, "store", "pg", "state backend: pg | memory")
	fs.StringVar(&c.httpAddr, "http-addr", "", "serve /healthz, /v1/shards and /metrics on this address")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.opts.StaleAfter = time.Duration(c.staleAfter) * time.Second

	if c.connector == "" {
		return c, errors.New("--connector is required")
	}
	if c.storeKind != "pg" && c.storeKind != "memory" {
		return c, fmt.Errorf("--store must be pg or memory, got %q", c.storeKind)
	}
	if c.days < 0 {
		return c, errors.New("--days must not be negative")
	}
	if c.limit < 0 {
		return c, errors.New("--limit must not be negative")
	}
	return c, c.opts.Validate()
}

// window resolves the flags against today; either bound may be omitted
func (c cli) window(now time.Time) (domain.Window, error) {
	today := domain.Day(now)
	start, end := today.AddDate(0, 0, -c.days), today
	if c.windowStart != "" {
		t, ok := ptime.ParseDate(c.windowStart)
		if !ok {
			return domain.Window{}, fmt.Errorf("bad --window-start %q", c.windowStart)
		}
		start = t
	}
	if c.windowEnd != "" {
		t, ok := ptime.ParseDate(c.windowEnd)
		if !ok {
			return domain.Window{}, fmt.Errorf("bad --window-end %q", c.windowEnd)
		}
		end = t
	}
	return domain.NewWindow(start, end)
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
	w, err := c.window(time.Now())
	if err != nil {
		l.Error().Err(err).Msg("invalid window")
		return 2
	}

	src, err := sources.Open(c.connector, root)
	if err != nil {
		l.Error().Err(err).Str("connector", c.connector).Msg("open source failed")
		return 1
	}

	deps := modkit.Deps{Cfg: root, Log: *l}
	var sink domain.DocumentSink
	var st *store.Store
	if c.storeKind == "pg" {
		pgCfg := root.Prefix("SERVICE_PGSQL_")
		chCfg := root.Prefix("SERVICE_CH_")
		st, err = store.Open(ctx, store.Config{
			PG: store.PGConfig{
				Enabled:     true,
				URL:         pgCfg.MustString("DBURL"),
				MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: pgCfg.MayInt("SLOW_QUERY_MS", 500),
				LogSQL:      pgCfg.MayBool("LOG_SQL", false),
			},
			CH: store.CHConfig{
				Enabled:  chCfg.MayBool("ENABLED", false),
				URL:      chCfg.MayString("URL", ""),
				Database: chCfg.MayString("DATABASE", "mevzubase"),
			},
		}, store.WithLogger(*l), store.WithRole("ingest"))
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
		deps.PG, deps.CH = st.PG, st.CH
		if err := pgsink.Migrate(ctx, st.PG); err != nil {
			l.Error().Err(err).Msg("document schema migration failed")
			return 1
		}
		sink = pgsink.New(repokit.WithBeginHooks(st.PG, repokit.LockTimeout(c.opts.DBTimeout), repokit.StatementTimeout(2*c.opts.DBTimeout)))
		if st.CH != nil {
			if err := chmirror.Migrate(ctx, st.CH); err != nil {
				l.Error().Err(err).Msg("clickhouse mirror migration failed")
				return 1
			}
		}
	} else {
		sink = memsink.New()
	}
	sink = chmirror.Wrap(sink, deps.CH)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := ingestmod.New(deps, c.opts, src, sink, reg)
	if err != nil {
		l.Error().Err(err).Msg("ingest module wiring failed")
		return 1
	}
	if err := m.Migrate(ctx); err != nil {
		l.Error().Err(err).Msg("state schema migration failed")
		return 1
	}
	module.Register(m.Name(), m.Ports())
	ports := module.MustPortsAs[ingestmod.Ports](m.Name())

	if c.httpAddr != "" {
		srv := phttp.NewServer(c.httpAddr)
		r := srv.Router()
		r.Use(middleware.Defaults(time.Second)...)
		r.Use(middleware.CORS(middleware.CORSOptions{AllowedOrigins: root.Prefix("CORE_STATUS_").MayCSV("CORS_ORIGINS", nil), MaxAge: 300}))
		m.MountRoutes(r)
		statushttp.Register(r, statushttp.Deps{Service: "mevzubase-ingest", StartedAt: time.Now(), Gatherer: reg, PG: deps.PG})
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		go func() {
			if err := srv.Run(sctx); err != nil {
				l.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	res, err := ports.Runner.Run(ctx, domain.RunRequest{
		Window:       w,
		Resume:       c.resume,
		BufferDays:   c.opts.BufferDays,
		MaxAttempts:  c.opts.MaxAttempts,
		MaxErrors:    c.opts.MaxErrors,
		StaleAfter:   c.opts.StaleAfter,
		Limit:        c.limit,
		RequeueStuck: c.requeueStuck,
		Params:       map[string]any{"store": c.storeKind},
	})
	printResult(stdout, res)
	if res.Status == "" {
		if err != nil {
			l.Error().Err(err).Msg("ingest run did not start")
		}
		return 1
	}
	return res.Status.ExitCode()
}

func printResult(w io.Writer, res domain.RunResult) {
	if res.Status == "" {
		return
	}
	fmt.Fprintf(w, "run %s %s window=%s status=%s\n", res.RunID, res.ShardKey, res.Window, res.Status)
	fmt.Fprintf(w, "listed=%d enqueued=%d processed=%d unchanged=%d errors=%d\n",
		res.Listed, res.Enqueued, res.Processed, res.Unchanged, res.Errors)
	c := res.Counts
	fmt.Fprintf(w, "queue done=%d failed=%d pending=%d retry=%d in_progress=%d\n",
		c.Done, c.Failed, c.Pending, c.Retry, c.InProgress)
	if res.Report.Shortfall() {
		fmt.Fprintf(w, "expected %d, found %d\n", res.Report.Declared, res.Report.Observed)
	}
	for _, wr := range res.Report.Warnings {
		fmt.Fprintf(w, "warning: %s\n", wr)
	}
}
