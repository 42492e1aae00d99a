// Package modkit provides module wiring and core deps
package modkit

import (
	"time"

	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
)

// Deps holds core dependencies passed to modules
// PG and CH may be nil; modules pick an in-memory fallback or skip the feature
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
	CH  store.Clickhouse

	// Now is the clock seam, nil means time.Now
	Now func() time.Time
}

// Clock returns d.Now or time.Now
func (d Deps) Clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}
