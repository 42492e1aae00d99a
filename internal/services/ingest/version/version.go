// Package version decides when a document needs a new stored version
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

const noTextSeed = "no_text"

// NeedsNewVersion is true when nothing is stored yet or the checksum moved
func NeedsNewVersion(existing *string, next string) bool {
	return existing == nil || *existing != next
}

// Bump returns doc as the next current version after prev, prev 0 meaning never stored
func Bump(doc domain.CanonDoc, prev int) domain.CanonDoc {
	doc.Version = prev + 1
	doc.IsCurrent = true
	return doc
}

// Checksum is the hex sha256 of already normalized text
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fallback is the checksum of a document without usable text
// it hashes the identifying fields so repeated failed extractions stay stable
func Fallback(chamber, eNo, kNo, date string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{chamber, eNo, kNo, date} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Checksum(noTextSeed)
	}
	return Checksum(strings.Join(parts, "|"))
}

// Stamp sets doc.Checksum from its text, or from the fallback fields when the
// text is empty, and records the quality flag
func Stamp(doc domain.CanonDoc, chamber, eNo, kNo, date string) domain.CanonDoc {
	if doc.Meta == nil {
		doc.Meta = map[string]string{}
	}
	if strings.TrimSpace(doc.Text) == "" {
		doc.Checksum = Fallback(chamber, eNo, kNo, date)
		doc.Meta["quality_flag"] = domain.QualityNoText
		return doc
	}
	doc.Checksum = Checksum(doc.Text)
	if doc.Meta["quality_flag"] == "" {
		doc.Meta["quality_flag"] = domain.QualityOK
	}
	return doc
}
