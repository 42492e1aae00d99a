package bedesten

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// minContent is the shortest API body accepted before falling back to the view page
const minContent = 50

type contentData struct {
	DocumentID string `json:"documentId"`
}

// Fetch reads the document through getDocumentContent and falls back to the
// public view page when the API has nothing usable
func (s *Source) Fetch(ctx context.Context, ref domain.ItemRef) (domain.RawPayload, error) {
	docID := ref.Meta("doc_id")
	var body string
	if docID != "" {
		body = s.fetchAPI(ctx, docID)
	}
	if strings.TrimSpace(body) == "" {
		u := ref.URL
		if docID != "" {
			u = s.opts.ViewURL + docID
		}
		if u == "" {
			return domain.RawPayload{}, perr.InvalidArgf("item %s has neither doc id nor url", ref.Key)
		}
		raw, err := s.c.get(ctx, u)
		if err != nil {
			return domain.RawPayload{}, err
		}
		body = string(raw)
	}
	return domain.RawPayload{
		Ref:         ref,
		Body:        []byte(maybeBase64HTML(body)),
		ContentType: "text/html; charset=utf-8",
		FetchedAt:   s.now(),
	}, nil
}

// fetchAPI returns "" on any failure so Fetch can fall back; cancellation is left to the GET
func (s *Source) fetchAPI(ctx context.Context, docID string) string {
	raw, err := s.c.postJSON(ctx, contentPath, request{ApplicationName: appName, Data: contentData{DocumentID: docID}})
	if err != nil {
		logger.C(ctx).Warn().Err(err).Str("doc_id", docID).Msg("bedesten: content api failed")
		return ""
	}
	html := docFromPayload(raw)
	if html == "" {
		html = string(raw)
	}
	if len(strings.TrimSpace(html)) <= minContent {
		return ""
	}
	return html
}

// docFromPayload digs the document out of data.{data,icerik,content,html,belgeIcerik}
// or a top level icerik/content/html/dokuman field
func docFromPayload(raw []byte) string {
	var blob any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&blob); err != nil {
		return ""
	}
	switch t := blob.(type) {
	case string:
		return maybeBase64HTML(t)
	case map[string]any:
		switch d := t["data"].(type) {
		case map[string]any:
			for _, k := range []string{"data", "icerik", "content", "html", "belgeIcerik"} {
				if v, ok := d[k].(string); ok && v != "" {
					return maybeBase64HTML(v)
				}
			}
		case string:
			return maybeBase64HTML(d)
		}
		for _, k := range []string{"icerik", "content", "html", "dokuman"} {
			if v, ok := t[k].(string); ok {
				return maybeBase64HTML(v)
			}
		}
	}
	return ""
}

var decodedMarkers = []string{"<html", "<body", "<meta", "mahkeme", "karar", "dava", "esas no", "t.c."}

// maybeBase64HTML decodes s when it is base64 whose payload looks like a decision;
// anything else is returned untouched
func maybeBase64HTML(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 20 || (strings.Contains(strings.ToLower(t), "<html") && strings.Contains(t, ">")) {
		return s
	}
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, t)
	for _, r := range clean {
		if !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '/' || r == '=')) {
			return s
		}
	}
	clean = strings.TrimRight(clean, "=")
	dec, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return s
	}
	txt := strings.ToValidUTF8(string(dec), "")
	low := strings.ToLower(txt)
	for _, m := range decodedMarkers {
		if strings.Contains(low, m) {
			return txt
		}
	}
	return s
}
