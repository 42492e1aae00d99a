package bedesten

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/testkit"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/version"
)

type sleeps struct {
	mu  sync.Mutex
	got []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.got = append(s.got, d)
	s.mu.Unlock()
	return nil
}

func newTestSource(t *testing.T, h http.Handler, mut ...func(*Options)) (*Source, *sleeps) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	o := DefaultOptions()
	o.BaseURL = srv.URL
	o.ViewURL = srv.URL + "/ictihat/"
	for _, m := range mut {
		m(&o)
	}
	s, err := New(o)
	require.NoError(t, err)
	sl := &sleeps{}
	s.c.sleep = sl.sleep
	s.c.jitter = func() float64 { return 0 }
	return s, sl
}

type searchBody struct {
	ApplicationName string `json:"applicationName"`
	Paging          bool   `json:"paging"`
	Data            struct {
		PageSize         int      `json:"pageSize"`
		PageNumber       int      `json:"pageNumber"`
		KararTarihiStart string   `json:"kararTarihiStart"`
		KararTarihiEnd   string   `json:"kararTarihiEnd"`
		ItemTypeList     []string `json:"itemTypeList"`
	} `json:"data"`
}

func decodeSearch(t *testing.T, r *http.Request) searchBody {
	t.Helper()
	var b searchBody
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, &b); err != nil {
		t.Errorf("bad search body %s: %v", body, err)
	}
	return b
}

func window(t *testing.T, a, b string) domain.Window {
	w, err := domain.NewWindow(testkit.Day(t, a), testkit.Day(t, b))
	require.NoError(t, err)
	return w
}

func TestListItems_PagesAndMapsRows(t *testing.T) {
	pages := map[int]string{
		1: `{"data":{"recordsTotal":"3","emsalKararList":[
			{"birimAdi":"3. Hukuk Dairesi","esasNo":"2019/1","kararNo":"2020/2","kararTarihiStr":"01.03.2021","documentId":"111"},
			{"daireAdi":"Hukuk Genel Kurulu","esasNoYil":2018,"esasNoSira":7,"kararNoYil":2021,"kararNoSira":"9",
			 "kararTarihi":"2021-03-02T00:00:00.000Z","documentId":222,"birimId":"B1","itemType":{"name":"YARGITAYKARARI"}}
		]}}`,
		2: `{"data":{"recordsTotal":3,"emsalKararList":[{"documentId":"333"},{"foo":""},7]}}`,
	}
	var (
		mu   sync.Mutex
		seen []searchBody
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, searchPath, r.URL.Path)
		assert.Equal(t, appName, r.Header.Get("AdaletApplicationName"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b := decodeSearch(t, r)
		mu.Lock()
		seen = append(seen, b)
		mu.Unlock()
		_, _ = io.WriteString(w, pages[b.Data.PageNumber])
	})
	s, _ := newTestSource(t, h, func(o *Options) { o.PageSize = 2 })

	var got []domain.ItemRef
	rep, err := s.ListItems(context.Background(), window(t, "2021-03-01", "2021-03-03"), func(r domain.ItemRef) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 3, rep.Declared)
	assert.Equal(t, 3, rep.Observed)
	assert.Empty(t, rep.Warnings)

	assert.Equal(t, "YARGITAY:3.HD:2019/1-2020/2:01.03.2021", got[0].Key)
	assert.Equal(t, s.opts.ViewURL+"111", got[0].URL)
	assert.Equal(t, "111", got[0].Meta("doc_id"))

	assert.Equal(t, "YARGITAY:GK:2018/7-2021/9:2021-03-02T00:00:00.000Z", got[1].Key)
	assert.Equal(t, "B1", got[1].Meta("birim_id"))
	assert.Equal(t, "YARGITAYKARARI", got[1].Meta("item_type"))
	assert.Equal(t, "222", got[1].Meta("doc_id"))

	assert.Equal(t, "YARGITAY::-:333", got[2].Key)

	require.Len(t, seen, 2)
	first := seen[0]
	assert.Equal(t, appName, first.ApplicationName)
	assert.True(t, first.Paging)
	assert.Equal(t, 2, first.Data.PageSize)
	assert.Equal(t, "2021-03-01T00:00:00.000Z", first.Data.KararTarihiStart)
	assert.Equal(t, "2021-03-03T23:59:59.000Z", first.Data.KararTarihiEnd)
	assert.Equal(t, []string{"YARGITAYKARARI"}, first.Data.ItemTypeList)
}

func TestListItems_SlicesByWindowDays(t *testing.T) {
	var (
		mu    sync.Mutex
		spans []string
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := decodeSearch(t, r)
		mu.Lock()
		spans = append(spans, b.Data.KararTarihiStart[:10]+"/"+b.Data.KararTarihiEnd[:10])
		mu.Unlock()
		_, _ = io.WriteString(w, `{"data":{"recordsTotal":0,"emsalKararList":[]}}`)
	})
	s, _ := newTestSource(t, h, func(o *Options) { o.WindowDays = 2 })

	rep, err := s.ListItems(context.Background(), window(t, "2021-03-01", "2021-03-05"), func(domain.ItemRef) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"2021-03-01/2021-03-02", "2021-03-03/2021-03-04", "2021-03-05/2021-03-05"}, spans)
	assert.Len(t, rep.Windows, 3)
}

func TestListItems_BisectsOverCap(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := decodeSearch(t, r)
		if b.Data.KararTarihiStart[:10] != b.Data.KararTarihiEnd[:10] {
			_, _ = io.WriteString(w, `{"data":{"recordsTotal":50,"emsalKararList":[{"documentId":"x"}]}}`)
			return
		}
		day := b.Data.KararTarihiStart[:10]
		_, _ = io.WriteString(w, `{"data":{"recordsTotal":1,"emsalKararList":[{"documentId":"`+day+`","kararTarihiStr":"`+day+`"}]}}`)
	})
	s, _ := newTestSource(t, h, func(o *Options) { o.MaxRows = 5 })

	var keys []string
	_, err := s.ListItems(context.Background(), window(t, "2021-03-01", "2021-03-04"), func(r domain.ItemRef) error {
		keys = append(keys, r.Key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"YARGITAY::-:2021-03-01", "YARGITAY::-:2021-03-02", "YARGITAY::-:2021-03-03", "YARGITAY::-:2021-03-04",
	}, keys)
}

func TestClient_RetryAfterThenSuccess(t *testing.T) {
	var calls int
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"emsalKararList":[]}}`)
	})
	s, sl := newTestSource(t, h)

	_, err := s.Page(context.Background(), window(t, "2021-01-01", "2021-01-01"), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{7 * time.Second}, sl.got)
}

func TestClient_ServerErrorsExhaustRetries(t *testing.T) {
	var calls int
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	s, sl := newTestSource(t, h)

	_, err := s.Page(context.Background(), window(t, "2021-01-01", "2021-01-01"), 1)
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUnavailable))
	assert.True(t, perr.Retryable(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second + 200*time.Millisecond, 1700 * time.Millisecond}, sl.got)
}

func TestClient_NotFoundIsTerminal(t *testing.T) {
	var calls int
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	})
	s, _ := newTestSource(t, h)

	_, err := s.Fetch(context.Background(), domain.ItemRef{Key: "k", URL: s.opts.ViewURL + "missing"})
	require.Error(t, err)
	assert.True(t, perr.Terminal(err))
	assert.Equal(t, 1, calls)
}

const decisionPage = `<html><head><title>x</title><script>var a = 1;</script><style>.x{}</style></head>
<body>
<div class="menu">Yardım</div>
<h2>Yargıtay Kararı</h2>
<div><b>Daire:</b> 3. Hukuk Dairesi</div>
<div><b>Esas No:</b> 2019/1234</div>
<div><b>Karar No:</b> 2020/55</div>
<div><b>Karar Tarihi:</b> 04.03.2021</div>
<div class="card-scroll">
<p>T.C. YARGITAY</p>
<p>Davacı vekili tarafından istinaf edilmiştir.</p>
<p>GEREKÇE</p>
<p>Dava reddedilmiştir.   Kapat</p>
<p>Kapat</p>
</div></body></html>`

func TestFetchAndParse_ContentAPI(t *testing.T) {
	h := http.NewServeMux()
	h.HandleFunc(contentPath, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data struct {
				DocumentID string `json:"documentId"`
			} `json:"data"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		assert.Equal(t, "111", req.Data.DocumentID)
		enc := base64.StdEncoding.EncodeToString([]byte(decisionPage))
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"content": enc}})
	})
	s, _ := newTestSource(t, h)

	ref := domain.ItemRef{Key: "k", URL: s.opts.ViewURL + "111", Metadata: map[string]string{"doc_id": "111", "chamber": "3.HD"}}
	raw, err := s.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.Contains(t, string(raw.Body), "card-scroll")

	doc, err := s.Parse(context.Background(), raw)
	require.NoError(t, err)
	wantText := "T.C. YARGITAY\n\nDavacı vekili tarafından istinaf edilmiştir.\n\nGEREKÇE\n\nDava reddedilmiştir. Kapat"
	assert.Equal(t, wantText, doc.Text)
	assert.Equal(t, "yargitay:3.HD:2019/1234-2020/55:2021-03-04", doc.DocID)
	assert.Equal(t, "3.HD", doc.Chamber)
	assert.Equal(t, CourtYargitay, doc.Court)
	assert.Equal(t, "Yargıtay Kararı", doc.Title)
	require.NotNil(t, doc.DecisionDate)
	assert.Equal(t, "2021-03-04", doc.DecisionDate.Format(time.DateOnly))
	assert.Equal(t, version.Checksum(wantText), doc.Checksum)
	assert.Equal(t, domain.QualityOK, doc.Meta["quality_flag"])
	assert.Equal(t, "2021", doc.Meta["year"])
	assert.Equal(t, "111", doc.Meta["bedesten_id"])
	assert.NotContains(t, doc.Text, "var a")

	chunks, err := s.Chunk(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "GEREKÇE:1", chunks[1].ParagraphNo)
}

func TestFetch_FallsBackToViewPage(t *testing.T) {
	h := http.NewServeMux()
	h.HandleFunc(contentPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{}}`)
	})
	h.HandleFunc("/ictihat/111", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, decisionPage)
	})
	s, _ := newTestSource(t, h)

	raw, err := s.Fetch(context.Background(), domain.ItemRef{Key: "k", Metadata: map[string]string{"doc_id": "111"}})
	require.NoError(t, err)
	assert.Equal(t, decisionPage, string(raw.Body))
}

func TestParse_NoTextFallsBackToBedestenID(t *testing.T) {
	s, _ := newTestSource(t, http.NotFoundHandler())

	ref := domain.ItemRef{Key: "k", Metadata: map[string]string{"doc_id": "222", "chamber": "GK", "decision_date": "2021-03-02"}}
	doc, err := s.Parse(context.Background(), domain.RawPayload{Ref: ref, Body: []byte(`<html><body><div class="card-scroll">  </div></body></html>`)})
	require.NoError(t, err)
	assert.Equal(t, "Metin alınamadı", doc.Text)
	assert.Equal(t, domain.QualityNoText, doc.Meta["quality_flag"])
	assert.Equal(t, version.Fallback("GK", "", "", "2021-03-02"), doc.Checksum)
	assert.Equal(t, "yargitay:bedesten:222", doc.DocID)
	assert.Equal(t, CourtGeneral, doc.Court)

	chunks, err := s.Chunk(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestRowsAndTotal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		rows     int
		total    int
		hasTotal bool
	}{
		{"emsal list", `{"data":{"emsalKararList":[{},{}],"recordsTotal":12}}`, 2, 12, true},
		{"nested data", `{"data":{"data":[{}],"totalElements":"40"}}`, 1, 40, true},
		{"results", `{"data":{"results":[{}],"total":0,"totalCount":5}}`, 1, 5, true},
		{"top level array", `{"data":[{},{},"x"],"totalCount":3}`, 2, 3, true},
		{"no total", `{"data":{"emsalKararList":[]}}`, 0, 0, false},
		{"bad total", `{"data":{"emsalKararList":[],"recordsTotal":"many"}}`, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rows, total, ok, err := rowsAndTotal([]byte(tc.body))
			require.NoError(t, err)
			assert.Len(t, rows, tc.rows)
			assert.Equal(t, tc.total, total)
			assert.Equal(t, tc.hasTotal, ok)
		})
	}

	_, _, _, err := rowsAndTotal([]byte(`<html>`))
	assert.True(t, perr.IsCode(err, perr.ErrorCodeUpstream))
}

func TestMaybeBase64HTML(t *testing.T) {
	t.Parallel()

	page := "<html><body>T.C. Yargıtay karar</body></html>"
	enc := base64.StdEncoding.EncodeToString([]byte(page))
	assert.Equal(t, page, maybeBase64HTML(enc))
	assert.Equal(t, page, maybeBase64HTML(strings.TrimRight(enc, "=")))
	assert.Equal(t, page, maybeBase64HTML(page))

	plain := base64.StdEncoding.EncodeToString([]byte("nothing relevant in this text at all"))
	assert.Equal(t, plain, maybeBase64HTML(plain))
	assert.Equal(t, "short", maybeBase64HTML("short"))
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 3*time.Second, retryAfter("3", now))
	assert.Equal(t, 1500*time.Millisecond, retryAfter("1.5", now))
	assert.Equal(t, time.Duration(0), retryAfter("", now))
	assert.Equal(t, time.Duration(0), retryAfter("-1", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
}

func TestFromConfig(t *testing.T) {
	t.Setenv("BEDESTEN_PAGE_SIZE", "50")
	t.Setenv("BEDESTEN_TIMEOUT", "12")
	t.Setenv("BEDESTEN_PROXIES", "10.0.0.1:3128\nsocks5://10.0.0.2:1080, ")
	t.Setenv("CORE_INGEST_MAX_ROWS_PER_WINDOW", "900")

	o := FromConfig(testConf())
	assert.Equal(t, 50, o.PageSize)
	assert.Equal(t, 12*time.Second, o.Timeout)
	assert.Equal(t, 900, o.MaxRows)
	assert.Equal(t, []string{"http://10.0.0.1:3128", "socks5://10.0.0.2:1080"}, o.Proxies)
	assert.Equal(t, 7, o.WindowDays)
	require.NoError(t, o.Validate())

	o.PageSize = 0
	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEDESTEN_PAGE_SIZE")
}

func testConf() config.Conf { return config.New() }
