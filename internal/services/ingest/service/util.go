package service

import (
	"context"
	"time"

	"github.com/nuxxor/Mevzubase/internal/services/ingest/guardrails"
)

// withDB* bound one storage call by the DB budget

func withDB0(ctx context.Context, t guardrails.Timeouts, fn func(context.Context) error) error {
	c, cancel := guardrails.ForDB(ctx, t)
	defer cancel()
	return fn(c)
}

func withDB[T any](ctx context.Context, t guardrails.Timeouts, fn func(context.Context) (T, error)) (T, error) {
	c, cancel := guardrails.ForDB(ctx, t)
	defer cancel()
	return fn(c)
}

func withDB2[A, B any](ctx context.Context, t guardrails.Timeouts, fn func(context.Context) (A, B, error)) (A, B, error) {
	c, cancel := guardrails.ForDB(ctx, t)
	defer cancel()
	return fn(c)
}

func withDB3[A, B, C any](ctx context.Context, t guardrails.Timeouts, fn func(context.Context) (A, B, C, error)) (A, B, C, error) {
	c, cancel := guardrails.ForDB(ctx, t)
	defer cancel()
	return fn(c)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
