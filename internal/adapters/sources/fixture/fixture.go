// Package fixture is an offline decision source read from a YAML file
package fixture

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nuxxor/Mevzubase/internal/adapters/sources"
	"github.com/nuxxor/Mevzubase/internal/core/decision"
	"github.com/nuxxor/Mevzubase/internal/core/normalize"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	pstrings "github.com/nuxxor/Mevzubase/internal/platform/strings"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/planner"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/version"
)

// Name is the connector name of the fixture source
const Name = "fixture"

// Decision is one fixture row
type Decision struct {
	ID      string `yaml:"id"`
	Chamber string `yaml:"chamber"`
	ENo     string `yaml:"e_no"`
	KNo     string `yaml:"k_no"`
	Date    string `yaml:"date"`
	Text    string `yaml:"text"`

	// FailTimes makes the first n fetches fail with a retryable error
	FailTimes int `yaml:"fail_times"`

	// Missing makes every fetch fail with a terminal not found error
	Missing bool `yaml:"missing"`
}

// File is the YAML document
type File struct {
	Decisions []Decision `yaml:"decisions"`

	// Declared overrides the per day totals reported by the listing, keyed YYYY-MM-DD
	Declared map[string]int `yaml:"declared"`

	MaxRows  int `yaml:"max_rows"`
	PageSize int `yaml:"page_size"`
}

type item struct {
	Decision
	day time.Time
}

// Source serves File through the domain.Source contract
type Source struct {
	items    []item
	declared map[time.Time]int
	pageSize int
	plan     *planner.Planner
	chunker  decision.Chunker

	mu      sync.Mutex
	fetches map[string]int
}

var _ domain.Source = (*Source)(nil)

// Load reads and validates a fixture file
func Load(path string) (*Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "read fixture %s", path)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "decode fixture %s", path)
	}
	return New(f)
}

// New builds a source from an in memory file
func New(f File) (*Source, error) {
	s := &Source{
		declared: map[time.Time]int{},
		pageSize: f.PageSize,
		chunker:  decision.DefaultChunker(),
		fetches:  map[string]int{},
	}
	if s.pageSize <= 0 {
		s.pageSize = 100
	}
	ids := map[string]struct{}{}
	for i, d := range f.Decisions {
		if d.ID == "" {
			return nil, perr.InvalidArgf("fixture decision %d: id is required", i)
		}
		if _, dup := ids[d.ID]; dup {
			return nil, perr.InvalidArgf("fixture decision %s: duplicate id", d.ID)
		}
		ids[d.ID] = struct{}{}
		day, err := time.Parse(time.DateOnly, d.Date)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "fixture decision %s: date", d.ID)
		}
		s.items = append(s.items, item{Decision: d, day: day})
	}
	sort.SliceStable(s.items, func(i, j int) bool {
		if !s.items[i].day.Equal(s.items[j].day) {
			return s.items[i].day.Before(s.items[j].day)
		}
		return s.items[i].ID < s.items[j].ID
	})
	for k, n := range f.Declared {
		day, err := time.Parse(time.DateOnly, k)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "fixture declared %q", k)
		}
		s.declared[day] = n
	}
	s.plan = planner.New(s, planner.Config{MaxRows: f.MaxRows, PageSize: s.pageSize, FirstPage: 1, AltPage: 0})
	return s, nil
}

// Factory opens FIXTURE_PATH
func Factory(cfg config.Conf) (domain.Source, error) {
	path := cfg.Prefix("FIXTURE_").MayString("PATH", "")
	if path == "" {
		return nil, perr.InvalidArgf("FIXTURE_PATH is required for the fixture connector")
	}
	return Load(path)
}

// Name implements domain.Source
func (s *Source) Name() string { return Name }

func (s *Source) inWindow(w domain.Window) []item {
	var out []item
	for _, it := range s.items {
		if w.Contains(it.day) {
			out = append(out, it)
		}
	}
	return out
}

// Page implements planner.Prober; page 0 and page 1 are the same first page
func (s *Source) Page(ctx context.Context, w domain.Window, page int) (planner.Page, error) {
	if err := ctx.Err(); err != nil {
		return planner.Page{}, err
	}
	all := s.inWindow(w)
	total := 0
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		if n, ok := s.declared[d]; ok {
			total += n
			continue
		}
		for _, it := range all {
			if it.day.Equal(d) {
				total++
			}
		}
	}
	if page < 1 {
		page = 1
	}
	lo := min((page-1)*s.pageSize, len(all))
	hi := min(lo+s.pageSize, len(all))
	pg := planner.Page{Total: total, HasTotal: true, Rows: make([]domain.ItemRef, 0, hi-lo)}
	for _, it := range all[lo:hi] {
		pg.Rows = append(pg.Rows, ref(it))
	}
	return pg, nil
}

func ref(it item) domain.ItemRef {
	return domain.ItemRef{
		Key: fmt.Sprintf("FIXTURE:%s:%s", it.ID, it.Date),
		URL: "fixture://" + it.ID,
		Metadata: map[string]string{
			"doc_id":        it.ID,
			"chamber":       decision.NormalizeChamber(it.Chamber),
			"e_no":          decision.NormalizeCaseNumber(it.ENo),
			"k_no":          decision.NormalizeCaseNumber(it.KNo),
			"decision_date": it.Date,
		},
	}
}

// ListItems plans w against the declared totals and emits every fixture row in it
func (s *Source) ListItems(ctx context.Context, w domain.Window, emit func(domain.ItemRef) error) (domain.ListReport, error) {
	return s.plan.Collect(ctx, w, emit)
}

func (s *Source) lookup(id string) (item, bool) {
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return item{}, false
}

// Fetch returns the raw fixture text, honoring the failure knobs
func (s *Source) Fetch(ctx context.Context, r domain.ItemRef) (domain.RawPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.RawPayload{}, err
	}
	it, ok := s.lookup(r.Meta("doc_id"))
	if !ok || it.Missing {
		return domain.RawPayload{}, perr.NotFoundf("fixture %s not found", r.Key)
	}
	s.mu.Lock()
	s.fetches[it.ID]++
	n := s.fetches[it.ID]
	s.mu.Unlock()
	if n <= it.FailTimes {
		return domain.RawPayload{}, perr.Unavailablef("fixture %s: injected failure %d/%d", it.ID, n, it.FailTimes)
	}
	return domain.RawPayload{Ref: r, Body: []byte(it.Text), ContentType: "text/plain; charset=utf-8", FetchedAt: time.Now()}, nil
}

// Parse normalizes the text and fills identity fields from the listing metadata
func (s *Source) Parse(_ context.Context, raw domain.RawPayload) (domain.CanonDoc, error) {
	r := raw.Ref
	id := r.Meta("doc_id")
	if id == "" {
		return domain.CanonDoc{}, perr.Newf(perr.ErrorCodeValidation, "fixture %s: no doc id", r.Key)
	}
	chamber := r.Meta("chamber")
	doc := domain.CanonDoc{
		DocID:   "fixture:" + id,
		Source:  "FIXTURE",
		DocType: "karar",
		Title:   pstrings.FirstNonEmpty(chamber, "Karar"),
		URL:     r.URL,
		Court:   "Fixture",
		Chamber: chamber,
		Text:    normalize.Text(normalize.StripNoise(string(raw.Body))),
		Meta: map[string]string{
			"e_no": r.Meta("e_no"),
			"k_no": r.Meta("k_no"),
		},
	}
	date := r.Meta("decision_date")
	if d, err := time.Parse(time.DateOnly, date); err == nil {
		doc.DecisionDate = &d
		doc.Meta["year"] = date[:4]
	}
	if strings.TrimSpace(doc.Text) == "" {
		doc.Text = sources.NoTextPlaceholder
		doc.Checksum = version.Fallback(chamber, doc.Meta["e_no"], doc.Meta["k_no"], date)
		doc.Meta["quality_flag"] = domain.QualityNoText
	}
	return doc, nil
}

// Chunk uses the shared decision chunker
func (s *Source) Chunk(_ context.Context, doc domain.CanonDoc) ([]domain.Chunk, error) {
	return sources.DecisionChunks(doc, s.chunker), nil
}
