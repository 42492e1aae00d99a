package bedesten

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nuxxor/Mevzubase/internal/core/decision"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/planner"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// keyPrefix scopes item keys; it predates the connector rename and is kept so
// stored queues stay valid
const keyPrefix = "YARGITAY"

type searchData struct {
	PageSize         int       `json:"pageSize"`
	PageNumber       int       `json:"pageNumber"`
	KararTarihiStart string    `json:"kararTarihiStart"`
	KararTarihiEnd   string    `json:"kararTarihiEnd"`
	ItemTypeList     []string  `json:"itemTypeList"`
	OrderByList      []orderBy `json:"orderByList"`
}

type orderBy struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// searchRequest builds the listing payload; the end day is inclusive up to 23:59:59
func (s *Source) searchRequest(w domain.Window, page int) request {
	end := w.End.Add(24*time.Hour - time.Second)
	return request{
		ApplicationName: appName,
		Paging:          true,
		Data: searchData{
			PageSize:         s.opts.PageSize,
			PageNumber:       page,
			KararTarihiStart: w.Start.Format(isoMillis),
			KararTarihiEnd:   end.Format(isoMillis),
			ItemTypeList:     s.opts.ItemTypes,
			OrderByList: []orderBy{
				{Field: "kararTarihi", Order: "ASC"},
				{Field: "documentId", Order: "ASC"},
			},
		},
	}
}

// Page implements planner.Prober against the search endpoint
func (s *Source) Page(ctx context.Context, w domain.Window, page int) (planner.Page, error) {
	body, err := s.c.postJSON(ctx, searchPath, s.searchRequest(w, page))
	if err != nil {
		return planner.Page{}, err
	}
	rows, total, hasTotal, err := rowsAndTotal(body)
	if err != nil {
		return planner.Page{}, err
	}
	pg := planner.Page{Total: total, HasTotal: hasTotal, Rows: make([]domain.ItemRef, 0, len(rows))}
	for _, r := range rows {
		if ref, ok := s.itemFromRow(r); ok {
			pg.Rows = append(pg.Rows, ref)
		}
	}
	return pg, nil
}

// ListItems walks w in WindowDays slices, each one planned against the row cap
func (s *Source) ListItems(ctx context.Context, w domain.Window, emit func(domain.ItemRef) error) (domain.ListReport, error) {
	var rep domain.ListReport
	step := time.Duration(s.opts.WindowDays) * 24 * time.Hour
	for cur := w.Start; !cur.After(w.End); cur = cur.Add(step) {
		end := cur.Add(step - 24*time.Hour)
		if end.After(w.End) {
			end = w.End
		}
		slice := domain.Window{Start: cur, End: end}
		r, err := s.plan.Collect(ctx, slice, emit)
		rep.Merge(r)
		if err != nil {
			return rep, fmt.Errorf("list %s: %w", slice, err)
		}
	}
	return rep, nil
}

type row map[string]any

// rowsAndTotal reads rows from data.emsalKararList, data.data, data.results or a
// top level data array, and the first usable total field
func rowsAndTotal(body []byte) ([]row, int, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var blob map[string]any
	if err := dec.Decode(&blob); err != nil {
		return nil, 0, false, perr.Wrap(err, perr.ErrorCodeUpstream, "bedesten search: bad json")
	}
	var (
		rows  []row
		total any
	)
	switch data := blob["data"].(type) {
	case map[string]any:
		for _, k := range []string{"emsalKararList", "data", "results"} {
			if list, ok := data[k].([]any); ok {
				rows = toRows(list)
				break
			}
		}
		total = firstTruthy(data, "recordsTotal", "totalElements", "total", "totalCount", "recordCount")
	case []any:
		rows = toRows(data)
		total = firstTruthy(blob, "recordsTotal", "totalElements", "total", "totalCount")
	}
	n, ok := asInt(total)
	return rows, n, ok, nil
}

func toRows(list []any) []row {
	out := make([]row, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstTruthy(m map[string]any, keys ...string) any {
	for _, k := range keys {
		switch v := m[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			if v.String() != "0" {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

// pick returns the first non empty field of r rendered as a string
func (r row) pick(keys ...string) string {
	for _, k := range keys {
		if s := str(r[k]); s != "" {
			return s
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return ""
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// composeCase joins year and sequence fields into YYYY/N
func composeCase(year, seq any) string {
	y, s := str(year), str(seq)
	if y == "" || s == "" {
		return ""
	}
	if yi, err := strconv.Atoi(y); err == nil {
		if si, err := strconv.Atoi(s); err == nil {
			return fmt.Sprintf("%d/%d", yi, si)
		}
	}
	return y + "/" + s
}

// itemFromRow maps one search row; rows with no identifying field are dropped
func (s *Source) itemFromRow(r row) (domain.ItemRef, bool) {
	chamber := r.pick("birimAdi", "daireAdi", "daire", "daireadi", "daireAd", "kurum")
	eNo := r.pick("esasNo", "esas", "esasno", "esasNumarasi")
	if eNo == "" {
		eNo = composeCase(r["esasNoYil"], r["esasNoSira"])
	}
	kNo := r.pick("kararNo", "karar", "kararno", "kararNumarasi")
	if kNo == "" {
		kNo = composeCase(r["kararNoYil"], r["kararNoSira"])
	}
	dt := r.pick("kararTarihiStr", "kararTarihi", "tarih", "decisionDate")
	docID := r.pick("documentId", "id", "docId", "dokumanId", "dokumanID")
	if chamber == "" && eNo == "" && kNo == "" && dt == "" && docID == "" {
		return domain.ItemRef{}, false
	}

	nc := decision.NormalizeChamber(chamber)
	ne, nk := decision.NormalizeCaseNumber(eNo), decision.NormalizeCaseNumber(kNo)
	tail := dt
	if tail == "" {
		tail = docID
	}
	if tail == "" {
		tail = "unknown"
	}

	ref := domain.ItemRef{
		Key: fmt.Sprintf("%s:%s:%s-%s:%s", keyPrefix, nc, ne, nk, tail),
		URL: s.opts.BaseURL + searchPath,
		Metadata: map[string]string{
			"chamber":       nc,
			"e_no":          ne,
			"k_no":          nk,
			"decision_date": dt,
			"doc_id":        docID,
		},
	}
	if docID != "" {
		ref.URL = s.opts.ViewURL + docID
	}
	if b := str(r["birimId"]); b != "" {
		ref.Metadata["birim_id"] = b
	}
	if it, ok := r["itemType"].(map[string]any); ok {
		if name := row(it).pick("name", "description"); name != "" {
			ref.Metadata["item_type"] = name
		}
	}
	return ref, true
}
