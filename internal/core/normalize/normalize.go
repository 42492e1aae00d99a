// Package normalize provides the deterministic text normalizer applied to decision bodies
// before checksumming and chunking.
// Pipeline order
// 1 Sanitize unify line breaks, drop NUL, controls and invalid UTF-8
// 2 Unicode NFKC normalization
// 3 Remove format characters (ZWJ, ZWNJ, FEFF, soft hyphen)
// 4 Width fold fullwidth forms
// 5 Per line whitespace collapse and trim, blank line runs kept as one paragraph break
//
// Case is preserved; Turkish dotted and dotless i survive unchanged
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// Text returns the normalized form of s following the pipeline described above
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = Sanitize(s)

	tr := chainPool.Get().(transform.Transformer)
	ns, _, _ := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)

	return collapseLines(ns)
}

// Upper folds s to upper case with Turkish rules (i -> İ, ı -> I)
// cases.Caser is stateful, a fresh one per call keeps this concurrency safe
func Upper(s string) string {
	return cases.Upper(language.Turkish).String(s)
}

// collapseLines trims each line, squeezes inner whitespace runs to one space and
// keeps at most one blank line between paragraphs
func collapseLines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	blank := false
	lines := strings.Split(s, "\n")
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
			if blank {
				b.WriteByte('\n')
			}
		}
		blank = false
		b.WriteString(line)
	}
	return b.String()
}
