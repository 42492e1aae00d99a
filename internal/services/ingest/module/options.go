package module

import (
	"time"

	"github.com/nuxxor/Mevzubase/internal/platform/config"
	"github.com/nuxxor/Mevzubase/internal/platform/validate"
)

// Options holds configuration for the ingest orchestrator
type Options struct {
	MaxAttempts int           `flag:"max-attempts" validate:"min=1,max=100"`
	MaxErrors   int           `flag:"max-errors" validate:"min=1"`
	StaleAfter  time.Duration `flag:"stale-after" validate:"min=1s"`
	BufferDays  int           `flag:"buffer-days" validate:"min=0,max=366"`

	BackoffBase time.Duration `validate:"min=0"`
	BackoffCap  time.Duration `validate:"gtefield=BackoffBase"`

	ItemTimeout  time.Duration
	FetchTimeout time.Duration
	DBTimeout    time.Duration

	// RetryPoll > 0 keeps a run alive until delayed retries are drained
	RetryPoll time.Duration

	// Leases guards each shard so one worker drains it; LeaseTTL bounds a crashed holder
	Leases   bool
	LeaseTTL time.Duration
}

// FromConfig reads the ingest options from config with CORE_INGEST_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_INGEST_")
	return Options{
		MaxAttempts:  c.MayInt("MAX_ATTEMPTS", 5),
		MaxErrors:    c.MayInt("MAX_ERRORS", 50),
		StaleAfter:   c.MayDuration("STALE_AFTER", 180*time.Second),
		BufferDays:   c.MayInt("BUFFER_DAYS", 3),
		BackoffBase:  c.MayDuration("BACKOFF_BASE", 5*time.Second),
		BackoffCap:   c.MayDuration("BACKOFF_CAP", time.Hour),
		ItemTimeout:  c.MayDuration("ITEM_TIMEOUT", 5*time.Minute),
		FetchTimeout: c.MayDuration("FETCH_TIMEOUT", 60*time.Second),
		DBTimeout:    c.MayDuration("DB_TIMEOUT", 30*time.Second),
		RetryPoll:    c.MayDuration("RETRY_POLL", 5*time.Second),
		Leases:       c.MayBool("LEASES", true),
		LeaseTTL:     c.MayDuration("LEASE_TTL", 3*time.Minute),
	}
}

// Validate reports the first out of range option
func (o Options) Validate() error { return validate.Struct(o) }
