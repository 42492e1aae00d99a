// Package service runs year windows as parallel child ingest runs and renders their queue progress
package service

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/batch/domain"
	ingest "github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

const clearScreen = "\033[H\033[2J"

// Service drives one batch
type Service struct {
	launcher domain.Launcher
	monitor  ingest.MonitorPort
	opts     Options

	out   io.Writer
	table Table
	tty   bool
	now   func() time.Time

	mu       sync.Mutex
	rows     []domain.Row
	outcomes []domain.Outcome
}

// Option customizes a Service
type Option func(*Service)

// WithOutput sets where frames go; tty enables screen clearing and colors
func WithOutput(w io.Writer, tty bool) Option {
	return func(s *Service) {
		s.out, s.tty = w, tty
		s.table.Color = tty
	}
}

// WithColor overrides color output
func WithColor(on bool) Option { return func(s *Service) { s.table.Color = on } }

// WithClock sets the clock seam
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New builds a batch service; monitor may be nil, rows then show zero counts
func New(l domain.Launcher, monitor ingest.MonitorPort, opts Options, o ...Option) *Service {
	s := &Service{launcher: l, monitor: monitor, opts: opts, out: io.Discard, now: time.Now}
	for _, fn := range o {
		fn(s)
	}
	return s
}

// Snapshot copies the current rows
func (s *Service) Snapshot() []domain.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Row(nil), s.rows...)
}

// Run launches one child per window, at most Parallel at a time, until all have exited
// cancelling ctx stops queued windows and signals active children
func (s *Service) Run(ctx context.Context, windows []ingest.Window) domain.Summary {
	log := logger.C(ctx)
	s.mu.Lock()
	s.rows = make([]domain.Row, len(windows))
	s.outcomes = make([]domain.Outcome, len(windows))
	for i, w := range windows {
		s.rows[i] = domain.Row{Job: domain.Job{Connector: s.opts.Connector, Window: w}, State: domain.StateQueued}
	}
	s.mu.Unlock()
	log.Info().Int("windows", len(windows)).Int("parallel", s.opts.Parallel).Str("connector", s.opts.Connector).Msg("batch: launching")

	done := make(chan struct{})
	var mon sync.WaitGroup
	mon.Add(1)
	go func() {
		defer mon.Done()
		s.watch(ctx, done)
	}()

	var g errgroup.Group
	g.SetLimit(max(1, s.opts.Parallel))
	for i := range windows {
		g.Go(func() error {
			s.runOne(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	close(done)
	mon.Wait()

	// final frame reads counts even after a cancel
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.refresh(fctx)
	s.frame()

	s.mu.Lock()
	sum := domain.Summary{
		Outcomes: append([]domain.Outcome(nil), s.outcomes...),
		Rows:     append([]domain.Row(nil), s.rows...),
	}
	s.mu.Unlock()
	s.table.Summary(s.out, sum)
	return sum
}

func (s *Service) runOne(ctx context.Context, i int) {
	s.mu.Lock()
	job := s.rows[i].Job
	s.mu.Unlock()

	o := domain.Outcome{Job: job, Started: s.now()}
	if ctx.Err() != nil {
		o.ExitCode, o.Finished = 130, o.Started
		s.finish(i, o, domain.StateStopped)
		return
	}
	s.setState(i, domain.StateActive)

	log := logger.C(ctx).With().Str("shard", job.ShardKey()).Logger()
	code, err := s.launcher.Launch(ctx, job)
	o.ExitCode, o.Err, o.Finished = code, err, s.now()

	st := domain.StateDone
	switch {
	case code == 130 && ctx.Err() != nil:
		st = domain.StateStopped
	case o.Failed():
		st = domain.StateFailed
		log.Warn().Err(err).Int("exit", code).Msg("batch: window failed")
	default:
		log.Info().Dur("took", o.Finished.Sub(o.Started)).Msg("batch: window finished")
	}
	s.finish(i, o, st)
}

func (s *Service) setState(i int, st domain.State) {
	s.mu.Lock()
	s.rows[i].State = st
	s.mu.Unlock()
}

func (s *Service) finish(i int, o domain.Outcome, st domain.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[i] = o
	s.rows[i].State = st
	s.rows[i].ExitCode = o.ExitCode
	if o.Err != nil {
		s.rows[i].Err = o.Err.Error()
	}
}

func (s *Service) watch(ctx context.Context, done <-chan struct{}) {
	refresh := s.opts.Refresh
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.refresh(ctx)
			s.frame()
		}
	}
}

// refresh polls queue counts for every window
func (s *Service) refresh(ctx context.Context) {
	if s.monitor == nil {
		return
	}
	for i, r := range s.Snapshot() {
		c, err := s.monitor.Counts(ctx, r.Job.Connector, r.Job.ShardKey())
		if err != nil {
			logger.C(ctx).Debug().Err(err).Str("shard", r.Job.ShardKey()).Msg("batch: counts unavailable")
			continue
		}
		s.mu.Lock()
		s.rows[i].Counts = c
		s.mu.Unlock()
	}
}

func (s *Service) frame() {
	if s.tty {
		_, _ = io.WriteString(s.out, clearScreen)
	}
	s.table.Render(s.out, s.Snapshot())
}
