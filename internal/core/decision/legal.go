// Package decision holds the court decision text rules shared by sources:
// chamber and case number normalization, section splitting and chunking
package decision

import (
	"regexp"
	"sort"
	"strings"

	"github.com/nuxxor/Mevzubase/internal/core/normalize"
)

var (
	bamChamber = regexp.MustCompile(`(?i)^(?P<city>[\p{L} ]+?)\s+Bölge\s+Adliye\s+Mahkemesi\s+(?P<num>\d+)\.?\s*(?P<branch>Hukuk|Ceza)\s+Dairesi`)
	numChamber = regexp.MustCompile(`(?i)^(?P<num>\d+)\.?\s*(?P<branch>Hukuk|Ceza)\s+Dairesi`)
	caseNumber = regexp.MustCompile(`(\d{4})[^\d]*(\d+)`)
)

// NormalizeChamber shortens chamber names:
// "3. Hukuk Dairesi" -> "3.HD", "Ankara Bölge Adliye Mahkemesi 2. Ceza Dairesi" -> "Ankara BAM 2.CD",
// anything naming a Genel Kurul -> "GK"; other values come back trimmed
func NormalizeChamber(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if m := bamChamber.FindStringSubmatch(v); m != nil {
		return strings.TrimSpace(m[1]) + " BAM " + m[2] + "." + branch(m[3])
	}
	if m := numChamber.FindStringSubmatch(v); m != nil {
		return m[1] + "." + branch(m[2])
	}
	if strings.Contains(v, "Genel Kurul") {
		return "GK"
	}
	return v
}

func branch(s string) string {
	if strings.HasPrefix(strings.ToLower(s), "h") {
		return "HD"
	}
	return "CD"
}

// NormalizeCaseNumber renders esas/karar numbers as YYYY/N when a year and a
// sequence can be found, otherwise the upper cased value without spaces
func NormalizeCaseNumber(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	s := normalize.Upper(v)
	s = strings.NewReplacer(":", " ", "\t", " ", "ESAS", "E", "KARAR", "K", "NO", "").Replace(s)
	if m := caseNumber.FindStringSubmatch(s); m != nil {
		return m[1] + "/" + m[2]
	}
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "")
}

// Aliases lists the spellings a reader may search a decision by, sorted and deduplicated
func Aliases(eNo, kNo, bNo, chamber string) []string {
	set := map[string]struct{}{}
	add := func(vals ...string) {
		for _, v := range vals {
			if v != "" {
				set[v] = struct{}{}
			}
		}
	}
	for _, c := range []struct{ prefix, label, raw string }{
		{"E", "Esas", eNo},
		{"K", "Karar", kNo},
		{"B", "Basvuru", bNo},
	} {
		n := NormalizeCaseNumber(c.raw)
		if n == "" {
			continue
		}
		add(c.prefix+"."+n, c.prefix+" "+n, c.label+" "+n, n)
	}
	if chamber = strings.TrimSpace(chamber); chamber != "" {
		add(chamber, strings.ReplaceAll(chamber, " ", ""), normalize.Upper(chamber))
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
