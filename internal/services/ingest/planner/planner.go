// Package planner splits date windows so no listing exceeds the remote result cap
package planner

import (
	"context"
	"errors"

	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Page is one page of a remote listing
// HasTotal is false when the remote did not declare a total
type Page struct {
	Rows     []domain.ItemRef
	Total    int
	HasTotal bool
}

// Prober fetches a single listing page of w
type Prober interface {
	Page(ctx context.Context, w domain.Window, page int) (Page, error)
}

// ProbeFunc adapts a function to Prober
type ProbeFunc func(ctx context.Context, w domain.Window, page int) (Page, error)

// Page calls f
func (f ProbeFunc) Page(ctx context.Context, w domain.Window, page int) (Page, error) {
	return f(ctx, w, page)
}

// Config tunes the planner
type Config struct {
	// MaxRows is the largest declared total accepted without bisection
	MaxRows int

	// PageSize is the remote page size, used to detect the last page when no total is declared
	PageSize int

	// FirstPage is the native page index of the first page, AltPage the other convention
	FirstPage int
	AltPage   int

	// MaxPages bounds paging through one window
	MaxPages int
}

// DefaultConfig matches the Bedesten search API
func DefaultConfig() Config {
	return Config{MaxRows: 25000, PageSize: 100, FirstPage: 1, AltPage: 0, MaxPages: 1000}
}

// Planner bisects windows against a Prober
type Planner struct {
	p   Prober
	cfg Config
}

// New builds a planner, zero config fields fall back to DefaultConfig
func New(p Prober, cfg Config) *Planner {
	def := DefaultConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.FirstPage == cfg.AltPage {
		cfg.FirstPage, cfg.AltPage = def.FirstPage, def.AltPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &Planner{p: p, cfg: cfg}
}

// ErrStop can be returned by an emit callback to end Collect early without error
var ErrStop = errors.New("planner: stop")

// fetch reads one page; a zero total next to real rows counts as no total
func (pl *Planner) fetch(ctx context.Context, w domain.Window, page int) (Page, error) {
	pg, err := pl.p.Page(ctx, w, page)
	if err != nil {
		return Page{}, err
	}
	if pg.HasTotal && pg.Total == 0 && len(pg.Rows) > 0 {
		pg.HasTotal = false
	}
	return pg, nil
}

// probeFirst reads the first page, retrying the alternate page index when the
// remote declares a total but returns no rows
func (pl *Planner) probeFirst(ctx context.Context, w domain.Window) (Page, int, error) {
	pg, err := pl.fetch(ctx, w, pl.cfg.FirstPage)
	if err != nil {
		return Page{}, 0, err
	}
	if !pg.HasTotal || pg.Total == 0 || len(pg.Rows) > 0 {
		return pg, pl.cfg.FirstPage, nil
	}
	alt, err := pl.fetch(ctx, w, pl.cfg.AltPage)
	if err != nil {
		return Page{}, 0, err
	}
	if len(alt.Rows) > 0 {
		if !alt.HasTotal {
			alt.Total, alt.HasTotal = pg.Total, true
		}
		return alt, pl.cfg.AltPage, nil
	}
	return pg, pl.cfg.FirstPage, nil
}

// Plan returns disjoint windows covering w in order, using only declared totals
// windows that stay over the cap or empty at day granularity are kept and reported
func (pl *Planner) Plan(ctx context.Context, w domain.Window) ([]domain.Window, []domain.Warning, error) {
	var (
		out   []domain.Window
		warns []domain.Warning
	)
	stack := []domain.Window{w}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pg, _, err := pl.probeFirst(ctx, cur)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case pg.HasTotal && pg.Total > pl.cfg.MaxRows && cur.Splittable():
			l, r := cur.Split()
			stack = append(stack, r, l)
			continue
		case pg.HasTotal && pg.Total > 0 && len(pg.Rows) == 0 && cur.Splittable():
			l, r := cur.Split()
			stack = append(stack, r, l)
			continue
		case pg.HasTotal && pg.Total > pl.cfg.MaxRows:
			warns = append(warns, domain.Warning{Window: cur, Kind: domain.WarnOverCap, Declared: pg.Total, Observed: len(pg.Rows)})
		case pg.HasTotal && pg.Total > 0 && len(pg.Rows) == 0:
			warns = append(warns, domain.Warning{Window: cur, Kind: domain.WarnEmptyPage, Declared: pg.Total})
		}
		out = append(out, cur)
	}
	return out, warns, nil
}

// Collect plans w and pages through every accepted window, emitting each
// distinct item once in window order
func (pl *Planner) Collect(ctx context.Context, w domain.Window, emit func(domain.ItemRef) error) (domain.ListReport, error) {
	log := logger.C(ctx)
	var rep domain.ListReport
	seen := map[string]struct{}{}

	stack := []domain.Window{w}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		first, page, err := pl.probeFirst(ctx, cur)
		if err != nil {
			return rep, err
		}

		if first.HasTotal && first.Total > pl.cfg.MaxRows && cur.Splittable() {
			log.Debug().Str("window", cur.String()).Int("declared", first.Total).Msg("planner: over cap, bisecting")
			l, r := cur.Split()
			stack = append(stack, r, l)
			continue
		}
		if first.HasTotal && first.Total > 0 && len(first.Rows) == 0 {
			if cur.Splittable() {
				l, r := cur.Split()
				stack = append(stack, r, l)
				continue
			}
			log.Warn().Str("window", cur.String()).Int("declared", first.Total).Msg("planner: declared rows but every page empty, skipping")
			rep.Windows = append(rep.Windows, cur)
			rep.Warnings = append(rep.Warnings, domain.Warning{Window: cur, Kind: domain.WarnEmptyPage, Declared: first.Total})
			rep.Declared += first.Total
			continue
		}

		local := map[string]struct{}{}
		var pending []domain.ItemRef
		take := func(rows []domain.ItemRef) int {
			added := 0
			for _, r := range rows {
				if r.Key == "" {
					continue
				}
				if _, ok := local[r.Key]; ok {
					continue
				}
				local[r.Key] = struct{}{}
				added++
				if _, ok := seen[r.Key]; ok {
					continue
				}
				pending = append(pending, r)
			}
			return added
		}

		total, hasTotal := first.Total, first.HasTotal
		rows := first.Rows
		take(rows)
		for pages := 1; pages < pl.cfg.MaxPages && len(rows) > 0; pages++ {
			if hasTotal && len(local) >= total {
				break
			}
			if !hasTotal && len(rows) < pl.cfg.PageSize {
				break
			}
			page++
			next, err := pl.fetch(ctx, cur, page)
			if err != nil {
				return rep, err
			}
			if !hasTotal && next.HasTotal {
				total, hasTotal = next.Total, true
			}
			rows = next.Rows
			if take(rows) == 0 {
				break
			}
		}

		observed := len(local)
		if hasTotal && observed < total && cur.Splittable() {
			log.Debug().Str("window", cur.String()).Int("declared", total).Int("observed", observed).Msg("planner: shortfall, bisecting")
			l, r := cur.Split()
			stack = append(stack, r, l)
			continue
		}

		rep.Windows = append(rep.Windows, cur)
		if hasTotal {
			rep.Declared += total
		} else {
			rep.Declared += observed
		}
		rep.Observed += observed
		if hasTotal && observed < total {
			log.Warn().Str("window", cur.String()).Int("declared", total).Int("observed", observed).Msg("planner: single day shortfall")
			rep.Warnings = append(rep.Warnings, domain.Warning{Window: cur, Kind: domain.WarnShortfall, Declared: total, Observed: observed})
		}

		for _, r := range pending {
			seen[r.Key] = struct{}{}
			if err := emit(r); err != nil {
				if errors.Is(err, ErrStop) {
					return rep, nil
				}
				return rep, err
			}
		}
	}
	return rep, nil
}
