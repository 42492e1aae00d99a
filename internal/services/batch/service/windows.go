package service

import (
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	ingest "github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// YearWindows slices [startYear, endYear] into calendar years
// endDate, when set, cuts the last year short
func YearWindows(startYear, endYear int, endDate *time.Time) ([]ingest.Window, error) {
	if endYear < startYear {
		return nil, perr.InvalidArgf("end year %d before start year %d", endYear, startYear)
	}
	out := make([]ingest.Window, 0, endYear-startYear+1)
	for y := startYear; y <= endYear; y++ {
		w := ingest.Window{
			Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
		}
		if y == endYear && endDate != nil {
			cut := ingest.Day(*endDate)
			if cut.Before(w.Start) {
				return nil, perr.InvalidArgf("end date %s before year %d", cut.Format(time.DateOnly), y)
			}
			if cut.Before(w.End) {
				w.End = cut
			}
		}
		out = append(out, w)
	}
	return out, nil
}
