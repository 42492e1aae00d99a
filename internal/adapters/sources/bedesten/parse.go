package bedesten

import (
	"bytes"
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nuxxor/Mevzubase/internal/adapters/sources"
	"github.com/nuxxor/Mevzubase/internal/core/decision"
	"github.com/nuxxor/Mevzubase/internal/core/normalize"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	pstrings "github.com/nuxxor/Mevzubase/internal/platform/strings"
	ptime "github.com/nuxxor/Mevzubase/internal/platform/time"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/version"
)

// Court names inferred from the listing
const (
	CourtYargitay   = "Yargıtay"
	CourtGeneral    = "Yargıtay Genel Kurulu"
	CourtRegional   = "Bölge Adliye Mahkemesi"
	defaultDocTitle = "Karar"
)

// Parse extracts the decision text and identity from a fetched page
func (s *Source) Parse(_ context.Context, raw domain.RawPayload) (domain.CanonDoc, error) {
	root, err := html.Parse(bytes.NewReader(raw.Body))
	if err != nil {
		return domain.CanonDoc{}, perr.Wrapf(err, perr.ErrorCodeValidation, "parse %s", raw.Ref.Key)
	}
	prune(root)

	ref := raw.Ref
	pm := metaFields(root)
	chamber := pstrings.FirstNonEmpty(pm.chamber, ref.Meta("chamber"))
	eNo := pstrings.FirstNonEmpty(pm.eNo, ref.Meta("e_no"))
	kNo := pstrings.FirstNonEmpty(pm.kNo, ref.Meta("k_no"))
	dateText := pstrings.FirstNonEmpty(pm.date, ref.Meta("decision_date"))

	nc := pstrings.FirstNonEmpty(decision.NormalizeChamber(chamber), "unknown")

	doc := domain.CanonDoc{
		Source:  keyPrefix,
		DocType: "karar",
		Title:   pstrings.FirstNonEmpty(pm.title, defaultDocTitle),
		URL:     ref.URL,
		Court:   court(ref),
		Chamber: nc,
		Meta: map[string]string{
			"e_no":        eNo,
			"k_no":        kNo,
			"bedesten_id": ref.Meta("doc_id"),
		},
	}

	datePart := pstrings.FirstNonEmpty(dateText, "unknown")
	if d, ok := ptime.ParseDate(dateText); ok {
		doc.DecisionDate = &d
		datePart = d.Format("2006-01-02")
		doc.Meta["year"] = datePart[:4]
	} else {
		doc.Meta["decision_date_text"] = dateText
		if len(dateText) >= 4 {
			doc.Meta["year"] = dateText[:4]
		}
	}

	body := containerText(root)
	if body == "" {
		body = nodeText(root)
	}
	doc.Text = normalize.Text(normalize.StripNoise(normalize.Text(body)))
	if strings.TrimSpace(doc.Text) == "" {
		doc.Text = sources.NoTextPlaceholder
		doc.Checksum = version.Fallback(nc, eNo, kNo, datePart)
		doc.Meta["quality_flag"] = domain.QualityNoText
	} else {
		doc.Checksum = version.Checksum(doc.Text)
		doc.Meta["quality_flag"] = domain.QualityOK
	}

	doc.DocID = docID(nc, eNo, kNo, datePart)
	if bid := ref.Meta("doc_id"); bid != "" && (strings.Contains(doc.DocID, "unknown") || eNo == "" || kNo == "") {
		doc.DocID = "yargitay:bedesten:" + bid
	}
	if aliases := decision.Aliases(eNo, kNo, "", nc); len(aliases) > 0 {
		doc.Meta["aliases"] = strings.Join(aliases, "|")
	}
	return doc, nil
}

func docID(chamber, eNo, kNo, date string) string {
	return strings.Join([]string{
		"yargitay",
		pstrings.FirstNonEmpty(chamber, "unknown"),
		pstrings.FirstNonEmpty(eNo, "e0") + "-" + pstrings.FirstNonEmpty(kNo, "k0"),
		pstrings.FirstNonEmpty(date, "unknown"),
	}, ":")
}

// court reads the listing item type and chamber
func court(ref domain.ItemRef) string {
	itemType := normalize.Upper(ref.Meta("item_type"))
	chamber := normalize.Upper(ref.Meta("chamber"))
	switch {
	case strings.Contains(itemType, "ISTINAF") || strings.Contains(itemType, "İSTİNAF") || strings.Contains(chamber, "BAM"):
		return CourtRegional
	case strings.Contains(chamber, "GENEL KURUL") || chamber == "GK":
		return CourtGeneral
	default:
		return CourtYargitay
	}
}

// prune drops nodes whose text never belongs to a decision
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && dropped(c.DataAtom)) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func dropped(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Link, atom.Meta, atom.Noscript, atom.Template:
		return true
	}
	return false
}

// nodeText renders text nodes one per line, trimmed, skipping blanks
func nodeText(n *html.Node) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.P && len(lines) > 0 {
			lines = append(lines, "")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(lines, "\n")
}

var containerClasses = []string{"card-scroll", "content", "decision-text", "panel-body", "tab-content"}

// isContainer matches .card-scroll, .content, article, .decision-text, .panel-body, .tab-content and #printArea
func isContainer(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Article || attr(n, "id") == "printArea" {
		return true
	}
	for _, cls := range strings.Fields(attr(n, "class")) {
		for _, want := range containerClasses {
			if cls == want {
				return true
			}
		}
	}
	return false
}

// containerText returns the text of the first container in document order
func containerText(root *html.Node) string {
	if n := find(root, isContainer); n != nil {
		return nodeText(n)
	}
	return ""
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m := find(c, match); m != nil {
			return m
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

type pageMeta struct {
	title, chamber, eNo, kNo, date string
}

func hasClass(n *html.Node, cls string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == cls {
			return true
		}
	}
	return false
}

// metaFields reads the first heading and the labelled fields
// (<b>DAİRE</b> 3. Hukuk Dairesi, ...) of a decision page
func metaFields(root *html.Node) pageMeta {
	var pm pageMeta
	if h := find(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && (n.DataAtom == atom.H1 || n.DataAtom == atom.H2 || hasClass(n, "title"))
	}); h != nil {
		pm.title = oneLine(nodeText(h))
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.B || n.DataAtom == atom.Strong || n.DataAtom == atom.Label || hasClass(n, "label")) {
			label := normalize.Upper(oneLine(nodeText(n)))
			val := siblingText(n)
			switch {
			case strings.Contains(label, "DAİRE"):
				pm.chamber = val
			case strings.Contains(label, "ESAS"):
				pm.eNo = val
			case strings.Contains(label, "KARAR") && strings.Contains(label, "NO"):
				pm.kNo = val
			case strings.Contains(label, "TARİH"):
				pm.date = val
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return pm
}

// siblingText is the text right after a label, leading colons dropped
func siblingText(n *html.Node) string {
	for s := n.NextSibling; s != nil; s = s.NextSibling {
		var t string
		switch s.Type {
		case html.TextNode:
			t = s.Data
		case html.ElementNode:
			t = nodeText(s)
		}
		if t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), ":")); t != "" {
			return oneLine(t)
		}
		if s.Type == html.ElementNode && s.DataAtom == atom.Br {
			continue
		}
	}
	return ""
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }
