// Package service provides the ingest orchestrator: list, enqueue, then drain a shard
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/guardrails"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/version"
)

// Config holds the orchestrator defaults; RunRequest values win when set
type Config struct {
	MaxAttempts int           // per item; <=0 -> 5
	MaxErrors   int           // consecutive item failures before the run fails; <=0 -> 50
	StaleAfter  time.Duration // silent in_progress runs older than this are stalled; <=0 -> 180s

	Backoff  Backoff
	Timeouts guardrails.Timeouts

	// DupWindow is how many recent listing keys are checked for repeats; <=0 -> 128
	DupWindow int

	// RetryPoll > 0 keeps draining while delayed retries remain, polling at this interval
	RetryPoll time.Duration

	// HeartbeatEvery paces heartbeats during listing; <=0 -> 30s
	HeartbeatEvery time.Duration
}

// Service implements domain.RunnerPort and domain.MonitorPort
type Service struct {
	State   domain.StateRepo
	Source  domain.Source
	Sink    domain.DocumentSink
	Lease   domain.ShardLease // optional
	Metrics *Metrics          // optional
	Cfg     Config

	now    func() time.Time
	jitter func() float64
}

var (
	_ domain.RunnerPort  = (*Service)(nil)
	_ domain.MonitorPort = (*Service)(nil)
)

// Option tweaks a Service at construction
type Option func(*Service)

// WithMetrics records run and item counters on m
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.Metrics = m } }

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithJitter replaces the uniform jitter sample used by the backoff
func WithJitter(u func() float64) Option { return func(s *Service) { s.jitter = u } }

// New constructs the orchestrator
func New(state domain.StateRepo, src domain.Source, sink domain.DocumentSink, lease domain.ShardLease, cfg Config, opts ...Option) *Service {
	if state == nil {
		panic("ingest.Service requires a non nil StateRepo")
	}
	if src == nil {
		panic("ingest.Service requires a non nil Source")
	}
	if sink == nil {
		panic("ingest.Service requires a non nil DocumentSink")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 180 * time.Second
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = 30 * time.Second
	}
	s := &Service{
		State: state, Source: src, Sink: sink, Lease: lease, Cfg: cfg,
		now:    time.Now,
		jitter: rand.Float64,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Counts implements domain.MonitorPort
func (s *Service) Counts(ctx context.Context, connector, shardKey string) (domain.Counts, error) {
	return s.State.Counts(ctx, connector, shardKey)
}

// Shards implements domain.MonitorPort
func (s *Service) Shards(ctx context.Context, connector string) ([]domain.ShardCounts, error) {
	return s.State.Shards(ctx, connector)
}

// run is the mutable state of one invocation
type run struct {
	id          string
	connector   string
	shard       string
	req         domain.RunRequest
	processed   int
	unchanged   int
	errors      int
	consecutive int
	handled     int
	lastKey     string
}

func (s *Service) withDefaults(req domain.RunRequest) domain.RunRequest {
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = s.Cfg.MaxAttempts
	}
	if req.MaxErrors <= 0 {
		req.MaxErrors = s.Cfg.MaxErrors
	}
	if req.StaleAfter <= 0 {
		req.StaleAfter = s.Cfg.StaleAfter
	}
	if req.BufferDays < 0 {
		req.BufferDays = 0
	}
	return req
}

// Run implements domain.RunnerPort
//
// The shard key always derives from the requested window so a resumed run
// drains the same queue; resume only narrows the listing window
func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	req = s.withDefaults(req)
	conn := s.Source.Name()
	if req.Window.End.Before(req.Window.Start) {
		return domain.RunResult{}, perr.InvalidArgf("ingest: window end %s before start %s",
			req.Window.End.Format(time.DateOnly), req.Window.Start.Format(time.DateOnly))
	}
	req.Window = domain.Window{Start: domain.Day(req.Window.Start), End: domain.Day(req.Window.End)}

	rs := &run{connector: conn, shard: domain.ShardKey(conn, req.Window), req: req}
	res := domain.RunResult{ShardKey: rs.shard, Window: req.Window}
	ctx = logger.WithRun(ctx, logger.RunFields{Connector: conn, Shard: rs.shard})
	log := logger.C(ctx)

	if n, err := withDB(ctx, s.Cfg.Timeouts, func(c context.Context) (int, error) {
		return s.State.MarkStaleRuns(c, conn, req.StaleAfter)
	}); err != nil {
		return res, perr.Wrap(err, perr.CodeOf(err), "ingest: mark stale runs")
	} else if n > 0 {
		log.Warn().Int("stalled", n).Msg("ingest: marked silent runs as stalled")
	}

	listWin, listing := req.Window, true
	if req.Resume {
		p, ok, err := withDB2(ctx, s.Cfg.Timeouts, func(c context.Context) (domain.Progress, bool, error) {
			return s.State.LoadProgress(c, conn)
		})
		if err != nil {
			return res, err
		}
		if ok {
			start := ResumeStart(p, req.Window.Start, req.BufferDays)
			if start.After(req.Window.End) {
				listing = false
			} else {
				listWin.Start = start
			}
			log.Info().
				Str("resume_start", start.Format(time.DateOnly)).
				Bool("listing", listing).
				Msg("ingest: resuming from progress cursor")
		}
	}

	if s.Lease != nil {
		release, err := s.Lease(ctx, rs.shard)
		if err != nil {
			return res, err
		}
		defer release()
	}

	if req.RequeueStuck {
		n, err := withDB(ctx, s.Cfg.Timeouts, func(c context.Context) (int, error) {
			return s.State.Requeue(c, conn, rs.shard)
		})
		if err != nil {
			return res, err
		}
		if n > 0 {
			log.Info().Int("requeued", n).Msg("ingest: returned stuck entries to pending")
		}
	}

	params := map[string]any{
		"resume":       req.Resume,
		"buffer_days":  req.BufferDays,
		"max_attempts": req.MaxAttempts,
		"max_errors":   req.MaxErrors,
		"limit":        req.Limit,
		"list_start":   listWin.Start.Format(time.DateOnly),
		"listing":      listing,
	}
	for k, v := range req.Params {
		params[k] = v
	}
	id, err := withDB(ctx, s.Cfg.Timeouts, func(c context.Context) (string, error) {
		return s.State.StartRun(c, conn, req.Window, params)
	})
	if err != nil {
		return res, err
	}
	rs.id, res.RunID = id, id
	ctx = logger.WithRun(ctx, logger.RunFields{RunID: id})
	log = logger.C(ctx)
	log.Info().
		Str("window", req.Window.String()).
		Str("list_window", listWin.String()).
		Msg("ingest: run started")

	status, runErr := s.execute(ctx, rs, listWin, listing, &res)

	// terminal writes survive a cancelled parent
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.State.FinishRun(fctx, rs.id, status, rs.processed, rs.errors); err != nil {
		log.Error().Err(err).Msg("ingest: finish run failed")
		runErr = errors.Join(runErr, err)
	}
	if c, err := s.State.Counts(fctx, conn, rs.shard); err == nil {
		res.Counts = c
	}
	res.Status = status
	res.Processed, res.Unchanged, res.Errors = rs.processed, rs.unchanged, rs.errors
	s.Metrics.run(conn, string(status))

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.
		Str("status", string(status)).
		Int("listed", res.Listed).
		Int("enqueued", res.Enqueued).
		Int("processed", rs.processed).
		Int("unchanged", rs.unchanged).
		Int("errors", rs.errors).
		Int("declared", res.Report.Declared).
		Int("observed", res.Report.Observed).
		Int("warnings", len(res.Report.Warnings)).
		Msg("ingest: run finished")
	return res, runErr
}

// execute walks the list, queue and drain stages and picks the terminal status
func (s *Service) execute(ctx context.Context, rs *run, listWin domain.Window, listing bool, res *domain.RunResult) (domain.RunStatus, error) {
	log := logger.C(ctx)

	if listing {
		items, rep, err := s.list(ctx, rs, listWin)
		res.Report = rep
		res.Listed = len(items)
		if err != nil {
			return s.abort(ctx, fmt.Errorf("list %s: %w", listWin, err))
		}
		if rep.Shortfall() {
			log.Warn().
				Int("declared", rep.Declared).
				Int("observed", rep.Observed).
				Msg("ingest: listing observed fewer items than the remote declared")
		}

		s.heartbeat(ctx, rs, domain.StageQueue)
		n, err := withDB(ctx, s.Cfg.Timeouts, func(c context.Context) (int, error) {
			return s.State.Enqueue(c, rs.connector, rs.shard, items)
		})
		if err != nil {
			return s.abort(ctx, err)
		}
		res.Enqueued = n
		log.Info().Int("listed", len(items)).Int("enqueued", n).Msg("ingest: queue seeded")
	}

	s.heartbeat(ctx, rs, domain.StageProcessing)
	if status, err := s.drain(ctx, rs); status != "" {
		return status, err
	}

	c, err := withDB(ctx, s.Cfg.Timeouts, func(cc context.Context) (domain.Counts, error) {
		return s.State.Counts(cc, rs.connector, rs.shard)
	})
	if err != nil {
		return s.abort(ctx, err)
	}
	if len(res.Report.Warnings) > 0 || c.Failed > 0 || c.Retry > 0 {
		return domain.RunCompletedWithWarnings, nil
	}
	return domain.RunCompleted, nil
}

// abort maps an error to cancelled when the parent context is gone, failed otherwise
func (s *Service) abort(ctx context.Context, err error) (domain.RunStatus, error) {
	if ctx.Err() != nil {
		return domain.RunCancelled, ctx.Err()
	}
	return domain.RunFailed, err
}

// list collects the listing of w, flagging keys repeated within the recent window
func (s *Service) list(ctx context.Context, rs *run, w domain.Window) ([]domain.ItemRef, domain.ListReport, error) {
	log := logger.C(ctx)
	dups := newDupRing(s.Cfg.DupWindow)
	started := time.Now()

	// the planner pages a whole window before emitting, so beat on a timer
	stop := s.beatEvery(ctx, rs, domain.StageList)
	defer stop()

	var items []domain.ItemRef
	rep, err := s.Source.ListItems(ctx, w, func(ref domain.ItemRef) error {
		if ref.Key == "" {
			log.Warn().Str("url", ref.URL).Msg("ingest: listing produced an item without key, skipped")
			return nil
		}
		if dups.Seen(ref.Key) {
			log.Warn().Str("item_key", ref.Key).Msg("ingest: duplicate key in listing")
		}
		items = append(items, ref)
		return ctx.Err()
	})
	s.Metrics.observe(rs.connector, domain.StageList, started)
	s.Metrics.listedN(rs.connector, len(items))
	for _, wr := range rep.Warnings {
		s.Metrics.warning(rs.connector, wr.Kind)
		log.Warn().
			Str("kind", wr.Kind).
			Str("window", wr.Window.String()).
			Int("declared", wr.Declared).
			Int("observed", wr.Observed).
			Msg("ingest: planner warning")
	}
	return items, rep, err
}

// drain leases and processes entries until the shard has nothing eligible
// a non empty status ends the run early
func (s *Service) drain(ctx context.Context, rs *run) (domain.RunStatus, error) {
	log := logger.C(ctx)
	for {
		if ctx.Err() != nil {
			return domain.RunCancelled, ctx.Err()
		}
		if rs.req.Limit > 0 && rs.handled >= rs.req.Limit {
			log.Info().Int("limit", rs.req.Limit).Msg("ingest: item limit reached")
			return "", nil
		}

		e, ok, err := withDB2(ctx, s.Cfg.Timeouts, func(c context.Context) (domain.QueueEntry, bool, error) {
			return s.State.CheckoutNext(c, rs.connector, rs.shard)
		})
		if err != nil {
			return s.abort(ctx, err)
		}
		if !ok {
			if s.Cfg.RetryPoll <= 0 {
				return "", nil
			}
			c, err := withDB(ctx, s.Cfg.Timeouts, func(cc context.Context) (domain.Counts, error) {
				return s.State.Counts(cc, rs.connector, rs.shard)
			})
			if err != nil {
				return s.abort(ctx, err)
			}
			if c.Retry == 0 {
				return "", nil
			}
			log.Debug().Int("retry", c.Retry).Dur("poll", s.Cfg.RetryPoll).Msg("ingest: waiting for delayed retries")
			s.heartbeat(ctx, rs, domain.StageProcessing)
			if err := sleepCtx(ctx, s.Cfg.RetryPoll); err != nil {
				return domain.RunCancelled, err
			}
			continue
		}

		rs.handled++
		rs.lastKey = e.ItemKey
		if status, err := s.handle(ctx, rs, e); status != "" {
			return status, err
		}
		s.heartbeat(ctx, rs, domain.StageProcessing)
	}
}

// handle processes one leased entry and records its outcome on the queue
func (s *Service) handle(ctx context.Context, rs *run, e domain.QueueEntry) (domain.RunStatus, error) {
	log := logger.C(ctx).With().Str("item_key", e.ItemKey).Int("attempt", e.Attempts+1).Logger()

	doc, unchanged, err := s.process(ctx, rs, e)
	if err != nil {
		if ctx.Err() != nil {
			// the entry stays IN_PROGRESS for --requeue-stuck
			return domain.RunCancelled, ctx.Err()
		}
		rs.errors++
		rs.consecutive++
		maxAttempts := rs.req.MaxAttempts
		if perr.Terminal(err) {
			maxAttempts = 1
		}
		delay := s.Cfg.Backoff.Delay(e.Attempts, s.jitter())
		st, merr := withDB(ctx, s.Cfg.Timeouts, func(c context.Context) (domain.Status, error) {
			return s.State.MarkRetry(c, e.ID, err.Error(), delay, maxAttempts)
		})
		if merr != nil {
			return s.abort(ctx, merr)
		}
		if st == domain.StatusFailed {
			s.Metrics.item(rs.connector, "failed")
			log.Error().Err(err).Msg("ingest: item failed permanently")
		} else {
			s.Metrics.item(rs.connector, "retry")
			log.Warn().Err(err).Dur("delay", delay).Msg("ingest: item scheduled for retry")
		}
		if rs.consecutive >= rs.req.MaxErrors {
			log.Error().Int("consecutive", rs.consecutive).Msg("ingest: too many consecutive errors, aborting run")
			return domain.RunFailed, perr.Wrapf(err, perr.ErrorCodeUnavailable,
				"ingest: aborted after %d consecutive item errors", rs.consecutive)
		}
		return "", nil
	}

	if err := withDB0(ctx, s.Cfg.Timeouts, func(c context.Context) error { return s.State.MarkDone(c, e.ID) }); err != nil {
		return s.abort(ctx, err)
	}
	rs.processed++
	rs.consecutive = 0
	if unchanged {
		rs.unchanged++
		s.Metrics.item(rs.connector, "unchanged")
	} else {
		s.Metrics.item(rs.connector, "done")
	}

	p := domain.Progress{
		Connector:        rs.connector,
		ShardKey:         rs.shard,
		LastDecisionDate: decisionDate(doc, e.Item),
		LastDocID:        doc.DocID,
		LastItemKey:      e.ItemKey,
	}
	if err := withDB0(ctx, s.Cfg.Timeouts, func(c context.Context) error { return s.State.SaveProgress(c, p) }); err != nil {
		log.Warn().Err(err).Msg("ingest: progress save failed")
	}
	log.Debug().Str("doc_id", doc.DocID).Int("version", doc.Version).Bool("unchanged", unchanged).Msg("ingest: item done")
	return "", nil
}

// process runs fetch, parse, version check, chunk and persist for one entry
func (s *Service) process(ctx context.Context, rs *run, e domain.QueueEntry) (domain.CanonDoc, bool, error) {
	ictx, cancel := guardrails.ForItem(ctx, s.Cfg.Timeouts)
	defer cancel()

	t := time.Now()
	fctx, fcancel := guardrails.ForFetch(ictx, s.Cfg.Timeouts)
	raw, err := s.Source.Fetch(fctx, e.Item)
	fcancel()
	s.Metrics.observe(rs.connector, "fetch", t)
	if err != nil {
		return domain.CanonDoc{}, false, fmt.Errorf("fetch %s: %w", e.ItemKey, err)
	}
	if raw.Ref.Key == "" {
		raw.Ref = e.Item
	}

	t = time.Now()
	doc, err := s.Source.Parse(ictx, raw)
	s.Metrics.observe(rs.connector, "parse", t)
	if err != nil {
		return domain.CanonDoc{}, false, fmt.Errorf("parse %s: %w", e.ItemKey, err)
	}
	if doc.DocID == "" {
		return doc, false, perr.Newf(perr.ErrorCodeValidation, "parse %s: document without id", e.ItemKey)
	}
	if doc.Checksum == "" {
		doc = version.Stamp(doc, doc.Chamber, doc.Meta["e_no"], doc.Meta["k_no"], doc.Meta["decision_date_text"])
	}

	sum, prev, found, err := withDB3(ictx, s.Cfg.Timeouts, func(c context.Context) (string, int, bool, error) {
		return s.Sink.Current(c, doc.DocID)
	})
	if err != nil {
		return doc, false, fmt.Errorf("current version %s: %w", doc.DocID, err)
	}
	var existing *string
	if found {
		existing = &sum
	}
	if !version.NeedsNewVersion(existing, doc.Checksum) {
		doc.Version, doc.IsCurrent = prev, true
		return doc, true, nil
	}
	doc = version.Bump(doc, prev)

	t = time.Now()
	chunks, err := s.Source.Chunk(ictx, doc)
	s.Metrics.observe(rs.connector, "chunk", t)
	if err != nil {
		return doc, false, fmt.Errorf("chunk %s: %w", doc.DocID, err)
	}

	t = time.Now()
	err = withDB0(ictx, s.Cfg.Timeouts, func(c context.Context) error { return s.Sink.Persist(c, doc, chunks) })
	s.Metrics.observe(rs.connector, "persist", t)
	if err != nil {
		return doc, false, fmt.Errorf("persist %s v%d: %w", doc.DocID, doc.Version, err)
	}
	return doc, false, nil
}

// heartbeat is best effort; a lost beat only risks a later stale mark
// beatEvery heartbeats stage every HeartbeatEvery until stop returns
// rs must not be mutated until then
func (s *Service) beatEvery(ctx context.Context, rs *run, stage string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(s.Cfg.HeartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.heartbeat(ctx, rs, stage)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) heartbeat(ctx context.Context, rs *run, stage string) {
	if rs.id == "" || ctx.Err() != nil {
		return
	}
	err := withDB0(ctx, s.Cfg.Timeouts, func(c context.Context) error {
		return s.State.Heartbeat(c, rs.id, stage, rs.lastKey, rs.processed, rs.errors)
	})
	if err != nil {
		logger.C(ctx).Warn().Err(err).Str("stage", stage).Msg("ingest: heartbeat failed")
	}
}
