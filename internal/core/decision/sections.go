package decision

import (
	"strings"

	"github.com/nuxxor/Mevzubase/internal/core/normalize"
)

// DefaultSection holds text seen before any heading
const DefaultSection = "METİN"

var sectionAliases = map[string]string{
	"ÖZET":                         "ÖZET",
	"ÖZETİ":                        "ÖZET",
	"KÜNYE":                        "KÜNYE",
	"GEREĞİ DÜŞÜNÜLDÜ":             "GEREĞİ DÜŞÜNÜLDÜ",
	"GEREKÇE":                      "GEREKÇE",
	"DELİLLERİN DEĞERLENDİRİLMESİ": "GEREKÇE",
	"SONUÇ":                        "HÜKÜM/SONUÇ",
	"HÜKÜM":                        "HÜKÜM/SONUÇ",
	"HÜKÜM/SONUÇ":                  "HÜKÜM/SONUÇ",
	"TALEP":                        "TALEP",
	"SAVUNMA":                      "SAVUNMA",
}

// Section is a titled run of paragraphs
type Section struct {
	Title      string
	Paragraphs []string
}

// Heading returns the canonical section title when line is a heading on its own
func Heading(line string) (string, bool) {
	h := strings.TrimSpace(line)
	h = strings.TrimRight(h, ":-– ")
	if h == "" {
		return "", false
	}
	title, ok := sectionAliases[normalize.Upper(h)]
	return title, ok
}

// SplitSections walks text line by line; blank lines close a paragraph and a
// heading line closes both the paragraph and the section
func SplitSections(text string) []Section {
	var (
		out  []Section
		cur  = Section{Title: DefaultSection}
		para []string
	)
	flushPara := func() {
		if len(para) > 0 {
			cur.Paragraphs = append(cur.Paragraphs, strings.Join(para, " "))
			para = para[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flushPara()
			continue
		}
		if title, ok := Heading(line); ok {
			flushPara()
			if len(cur.Paragraphs) > 0 {
				out = append(out, cur)
			}
			cur = Section{Title: title}
			continue
		}
		para = append(para, line)
	}
	flushPara()
	if len(cur.Paragraphs) > 0 {
		out = append(out, cur)
	}
	return out
}
