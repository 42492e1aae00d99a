package bedesten

import (
	"strings"
	"time"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
	pstrings "github.com/nuxxor/Mevzubase/internal/platform/strings"
	"github.com/nuxxor/Mevzubase/internal/platform/validate"
)

const (
	defaultBaseURL = "https://bedesten.adalet.gov.tr"
	defaultViewURL = "https://mevzuat.adalet.gov.tr/ictihat/"
	defaultUA      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Options configures the Bedesten source
type Options struct {
	BaseURL    string        `flag:"BEDESTEN_BASE_URL" validate:"required,url"`
	ViewURL    string        `flag:"BEDESTEN_VIEW_URL" validate:"required,url"`
	PageSize   int           `flag:"BEDESTEN_PAGE_SIZE" validate:"min=1,max=1000"`
	WindowDays int           `flag:"BEDESTEN_WINDOW_DAYS" validate:"min=1,max=366"`
	MaxRows    int           `flag:"CORE_INGEST_MAX_ROWS_PER_WINDOW" validate:"min=1"`
	Timeout    time.Duration `flag:"BEDESTEN_TIMEOUT" validate:"min=1s"`
	MaxRetries int           `flag:"BEDESTEN_MAX_RETRIES" validate:"min=1,max=10"`
	ItemTypes  []string      `flag:"BEDESTEN_ITEM_TYPES" validate:"min=1,dive,required"`
	Proxies    []string
	UserAgent  string
}

// DefaultOptions matches the public Bedesten endpoints
func DefaultOptions() Options {
	return Options{
		BaseURL:    defaultBaseURL,
		ViewURL:    defaultViewURL,
		PageSize:   100,
		WindowDays: 7,
		MaxRows:    25000,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		ItemTypes:  []string{"YARGITAYKARARI"},
		UserAgent:  defaultUA,
	}
}

// FromConfig reads BEDESTEN_* from the root conf; the ingest row cap comes
// from CORE_INGEST_MAX_ROWS_PER_WINDOW
func FromConfig(root config.Conf) Options {
	d := DefaultOptions()
	c := root.Prefix("BEDESTEN_")
	return Options{
		BaseURL:    c.MayString("BASE_URL", d.BaseURL),
		ViewURL:    c.MayString("VIEW_URL", d.ViewURL),
		PageSize:   c.MayInt("PAGE_SIZE", d.PageSize),
		WindowDays: c.MayInt("WINDOW_DAYS", d.WindowDays),
		MaxRows:    root.Prefix("CORE_INGEST_").MayInt("MAX_ROWS_PER_WINDOW", d.MaxRows),
		Timeout:    c.MayDuration("TIMEOUT", d.Timeout),
		MaxRetries: c.MayInt("MAX_RETRIES", d.MaxRetries),
		ItemTypes:  c.MayCSV("ITEM_TYPES", d.ItemTypes),
		Proxies:    proxyURLs(pstrings.SplitList(c.MayString("PROXIES", ""))),
		UserAgent:  c.MayString("USER_AGENT", d.UserAgent),
	}
}

// Validate checks option ranges
func (o Options) Validate() error { return validate.Struct(o) }

// proxyURLs prefixes bare host:port entries with http://
func proxyURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if !strings.Contains(p, "://") {
			p = "http://" + p
		}
		out = append(out, p)
	}
	return out
}
