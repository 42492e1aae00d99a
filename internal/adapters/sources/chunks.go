package sources

import (
	"fmt"
	"strings"

	"github.com/nuxxor/Mevzubase/internal/core/decision"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// NoTextPlaceholder is stored as the body of decisions whose text could not be extracted
const NoTextPlaceholder = "Metin alınamadı"

// Head builds the chunk anchor fields of doc
func Head(doc domain.CanonDoc) decision.Head {
	h := decision.Head{
		Court:   doc.Court,
		Chamber: doc.Chamber,
		ENo:     doc.Meta["e_no"],
		KNo:     doc.Meta["k_no"],
		BNo:     doc.Meta["b_no"],
		Date:    doc.Meta["decision_date_text"],
	}
	if h.Court == "" {
		h.Court = doc.Source
	}
	if h.Chamber == "" {
		h.Chamber = doc.Meta["chamber"]
	}
	if doc.DecisionDate != nil {
		h.Date = doc.DecisionDate.Format("2006-01-02")
	}
	return h
}

// DecisionChunks splits a parsed decision into stored chunks with ids doc:v{n}:c{i}
// a no_text decision yields no chunks
func DecisionChunks(doc domain.CanonDoc, c decision.Chunker) []domain.Chunk {
	if doc.Meta["quality_flag"] == domain.QualityNoText || strings.TrimSpace(doc.Text) == "" || doc.Text == NoTextPlaceholder {
		return nil
	}
	h := Head(doc)
	pieces := c.Split(h, doc.Text)
	out := make([]domain.Chunk, 0, len(pieces))
	anchor := h.Anchor()
	for i, p := range pieces {
		out = append(out, domain.Chunk{
			ChunkID:     fmt.Sprintf("%s:v%d:c%d", doc.DocID, doc.Version, i),
			DocID:       doc.DocID,
			Version:     doc.Version,
			Ordinal:     i,
			Section:     p.Section,
			ParagraphNo: p.ParagraphNo,
			Content:     p.Content,
			ContentHash: p.ContentHash,
			TokenCount:  p.Tokens,
			Anchor:      anchor,
		})
	}
	return out
}
