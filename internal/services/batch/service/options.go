package service

import (
	"time"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/platform/validate"
)

// Options configures one batch
type Options struct {
	Connector string     `flag:"connector" validate:"required"`
	StartYear int        `flag:"start-year" validate:"min=1900,max=2200"`
	EndYear   int        `flag:"end-year" validate:"gtefield=StartYear,max=2200"`
	EndDate   *time.Time `flag:"end-date"`

	Parallel int           `flag:"parallel" validate:"min=1,max=64"`
	Refresh  time.Duration `flag:"refresh" validate:"min=100ms"`

	LogDir    string `flag:"log-dir" validate:"required"`
	IngestBin string `flag:"ingest-bin" validate:"required"`

	// IngestArgs are appended to every child command line
	IngestArgs []string
}

// FromConfig reads batch defaults from config with CORE_BATCH_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_BATCH_")
	o := Options{
		Connector:  c.MayString("CONNECTOR", "yargitay"),
		Parallel:   c.MayInt("PARALLEL", 4),
		Refresh:    c.MayDuration("REFRESH", 5*time.Second),
		LogDir:     c.MayString("LOG_DIR", "logs"),
		IngestBin:  c.MayString("INGEST_BIN", "mevzubase-ingest"),
		IngestArgs: c.MayCSV("INGEST_ARGS", nil),
	}
	if d := c.MayDate("END_DATE", time.Time{}); !d.IsZero() {
		o.EndDate = &d
	}
	return o
}

// Validate reports the first invalid option
func (o Options) Validate() error { return validate.Struct(o) }
