// Package guardrails holds cross cutting safety helpers for the ingest orchestrator
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for a single queue item.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Item is the overall time budget for fetch, parse, chunk and persist of one item
	Item time.Duration

	// Fetch caps the remote fetch step
	Fetch time.Duration

	// DB caps each queue, run or sink statement
	DB time.Duration
}

// ForItem returns a context limited by the item budget without extending any parent deadline
func ForItem(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Item)
}

// ForFetch returns a sub context for the fetch phase
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForDB returns a sub context for one storage call
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of d and any parent remainder, never extending the parent
// d of zero returns a cancelable child inheriting the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
