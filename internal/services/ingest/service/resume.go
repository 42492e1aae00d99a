package service

import (
	"time"

	ptime "github.com/nuxxor/Mevzubase/internal/platform/time"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// ResumeStart is max(lastDecisionDate - bufferDays, requested)
// a cursor without a date leaves the requested start alone
func ResumeStart(p domain.Progress, requested time.Time, bufferDays int) time.Time {
	requested = domain.Day(requested)
	if p.LastDecisionDate == nil {
		return requested
	}
	if bufferDays < 0 {
		bufferDays = 0
	}
	start := domain.Day(*p.LastDecisionDate).AddDate(0, 0, -bufferDays)
	if start.Before(requested) {
		return requested
	}
	return start
}

// decisionDate picks the doc date, then the listing metadata, then the raw text
func decisionDate(doc domain.CanonDoc, ref domain.ItemRef) *time.Time {
	if doc.DecisionDate != nil {
		return ptime.Ptr(domain.Day(*doc.DecisionDate))
	}
	for _, s := range []string{ref.Meta("decision_date"), doc.Meta["decision_date_text"]} {
		if d, ok := ptime.ParseDate(s); ok {
			return ptime.Ptr(d)
		}
	}
	return nil
}
