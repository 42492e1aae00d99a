package sources

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nuxxor/Mevzubase/internal/core/decision"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/testkit"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

type nopSource struct{ name string }

func (s nopSource) Name() string { return s.name }
func (nopSource) ListItems(context.Context, domain.Window, func(domain.ItemRef) error) (domain.ListReport, error) {
	return domain.ListReport{}, nil
}
func (nopSource) Fetch(context.Context, domain.ItemRef) (domain.RawPayload, error) {
	return domain.RawPayload{}, nil
}
func (nopSource) Parse(context.Context, domain.RawPayload) (domain.CanonDoc, error) {
	return domain.CanonDoc{}, nil
}
func (nopSource) Chunk(context.Context, domain.CanonDoc) ([]domain.Chunk, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	testkit.Serial(t)
	Reset()
	t.Cleanup(Reset)

	Register("b", func(config.Conf) (domain.Source, error) { return nopSource{"b"}, nil })
	Register("a", func(config.Conf) (domain.Source, error) { return nil, perr.New(perr.ErrorCodeValidation, "bad") })

	if got := Names(); strings.Join(got, ",") != "a,b" {
		t.Fatalf("Names = %v", got)
	}
	src, err := Open("b", config.New())
	if err != nil || src.Name() != "b" {
		t.Fatalf("Open(b) = %v, %v", src, err)
	}
	if _, err := Open("a", config.New()); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("factory error = %v", err)
	}
	if _, err := Open("zzz", config.New()); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("unknown connector = %v", err)
	}
	testkit.MustPanic(t, func() { Register("", nil) })
}

func TestDecisionChunks(t *testing.T) {
	t.Parallel()

	d := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	doc := domain.CanonDoc{
		DocID:        "yargitay:3.HD:2019/1-2020/2:2021-03-04",
		Source:       "YARGITAY",
		Court:        "Yargıtay",
		Chamber:      "3.HD",
		DecisionDate: &d,
		Version:      2,
		Text:         "Giriş.\n\nGEREKÇE\nRed.",
		Meta:         map[string]string{"e_no": "2019/1", "k_no": "2020/2"},
	}
	chunks := DecisionChunks(doc, decision.DefaultChunker())
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	c := chunks[1]
	if c.ChunkID != doc.DocID+":v2:c1" || c.Ordinal != 1 || c.Version != 2 {
		t.Fatalf("chunk ids = %+v", c)
	}
	if c.Anchor != "[KAYNAK:Yargıtay|DAİRE:3.HD|E:2019/1|K:2020/2|T:2021-03-04]" {
		t.Fatalf("anchor = %q", c.Anchor)
	}
	if !strings.HasPrefix(c.Content, c.Anchor+"\n[GEREKÇE]\n") {
		t.Fatalf("content = %q", c.Content)
	}

	doc.Text = NoTextPlaceholder
	doc.Meta["quality_flag"] = domain.QualityNoText
	if got := DecisionChunks(doc, decision.DefaultChunker()); len(got) != 0 {
		t.Fatalf("no_text doc chunked: %d", len(got))
	}
}

func TestHead_FallsBackToSource(t *testing.T) {
	t.Parallel()

	h := Head(domain.CanonDoc{Source: "FIXTURE", Meta: map[string]string{"chamber": "GK", "decision_date_text": "eski"}})
	if h.Court != "FIXTURE" || h.Chamber != "GK" || h.Date != "eski" {
		t.Fatalf("head = %+v", h)
	}
}
