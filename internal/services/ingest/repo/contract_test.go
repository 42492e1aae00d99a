package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// harness is one backend under the shared state contract
// wait lets time pass, a fake clock advance for memory and a real sleep for postgres
type harness struct {
	repo domain.StateRepo
	wait func(time.Duration)
}

func refs(keys ...string) []domain.ItemRef {
	out := make([]domain.ItemRef, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.ItemRef{Key: k, URL: "https://example.test/" + k, Metadata: map[string]string{"k": k}})
	}
	return out
}

func mustDay(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

// runContract exercises the queue, run and progress semantics every backend must share
func runContract(t *testing.T, newHarness func(t *testing.T) harness) {
	t.Run("enqueue is idempotent and keeps DONE", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		n, err := h.repo.Enqueue(ctx, "c", "s", refs("a", "b", "a"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		e, ok, err := h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", e.ItemKey)
		require.NoError(t, h.repo.MarkDone(ctx, e.ID))

		for i := 0; i < 3; i++ {
			again := refs("a", "b")
			again[0].URL = "https://example.test/refreshed"
			n, err = h.repo.Enqueue(ctx, "c", "s", again)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		}

		c, err := h.repo.Counts(ctx, "c", "s")
		require.NoError(t, err)
		assert.Equal(t, domain.Counts{Pending: 1, Done: 1}, c)

		// the DONE entry is never leased again
		e, ok, err = h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "b", e.ItemKey)
		_, ok, err = h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("checkout is FIFO and scoped to the shard", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.repo.Enqueue(ctx, "c", "s1", refs("x1", "x2", "x3"))
		require.NoError(t, err)
		_, err = h.repo.Enqueue(ctx, "c", "s2", refs("y1"))
		require.NoError(t, err)

		var got []string
		for {
			e, ok, err := h.repo.CheckoutNext(ctx, "c", "s1")
			require.NoError(t, err)
			if !ok {
				break
			}
			assert.Equal(t, domain.StatusInProgress, e.Status)
			assert.Equal(t, "https://example.test/"+e.ItemKey, e.Item.URL)
			assert.Equal(t, e.ItemKey, e.Item.Meta("k"))
			got = append(got, e.ItemKey)
		}
		assert.Equal(t, []string{"x1", "x2", "x3"}, got)

		c, err := h.repo.Counts(ctx, "c", "s2")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Pending)
	})

	t.Run("retry backoff then fail at max attempts", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.repo.Enqueue(ctx, "c", "s", refs("1", "2", "3"))
		require.NoError(t, err)

		// item 2 fails on every attempt with max_attempts 3, the others succeed
		const maxAttempts = 3
		for round := 0; round < 10; round++ {
			e, ok, err := h.repo.CheckoutNext(ctx, "c", "s")
			require.NoError(t, err)
			if !ok {
				break
			}
			if e.ItemKey != "2" {
				require.NoError(t, h.repo.MarkDone(ctx, e.ID))
				continue
			}
			st, err := h.repo.MarkRetry(ctx, e.ID, "boom", 0, maxAttempts)
			require.NoError(t, err)
			if e.Attempts+1 >= maxAttempts {
				assert.Equal(t, domain.StatusFailed, st)
			} else {
				assert.Equal(t, domain.StatusRetry, st)
			}
		}

		c, err := h.repo.Counts(ctx, "c", "s")
		require.NoError(t, err)
		assert.Equal(t, domain.Counts{Done: 2, Failed: 1}, c)
	})

	t.Run("retry waits for next_attempt_at", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.repo.Enqueue(ctx, "c", "s", refs("late"))
		require.NoError(t, err)
		e, ok, err := h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)
		require.True(t, ok)

		long := fmt.Sprintf("%0600d", 7)
		st, err := h.repo.MarkRetry(ctx, e.ID, long, time.Hour, 5)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRetry, st)

		_, ok, err = h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)
		assert.False(t, ok, "retry leased before its delay elapsed")

		c, err := h.repo.Counts(ctx, "c", "s")
		require.NoError(t, err)
		assert.Equal(t, domain.Counts{Retry: 1}, c)
	})

	t.Run("exactly once lease under concurrency", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		const k, m = 5, 20
		keys := make([]string, k)
		for i := range keys {
			keys[i] = fmt.Sprintf("item-%d", i)
		}
		_, err := h.repo.Enqueue(ctx, "c", "s", refs(keys...))
		require.NoError(t, err)

		var (
			mu     sync.Mutex
			leased = map[int64]int{}
			wg     sync.WaitGroup
			errs   = make(chan error, m)
		)
		for i := 0; i < m; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, ok, err := h.repo.CheckoutNext(ctx, "c", "s")
				if err != nil {
					errs <- err
					return
				}
				if ok {
					mu.Lock()
					leased[e.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Len(t, leased, k)
		for id, n := range leased {
			assert.Equal(t, 1, n, "entry %d leased %d times", id, n)
		}
	})

	t.Run("requeue returns stuck entries", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.repo.Enqueue(ctx, "c", "s", refs("a", "b"))
		require.NoError(t, err)
		_, _, err = h.repo.CheckoutNext(ctx, "c", "s")
		require.NoError(t, err)

		n, err := h.repo.Requeue(ctx, "c", "s")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		shards, err := h.repo.Shards(ctx, "c")
		require.NoError(t, err)
		require.Len(t, shards, 1)
		assert.Equal(t, "s", shards[0].ShardKey)
		assert.Equal(t, 2, shards[0].Pending)
	})

	t.Run("mark on a missing entry is not found", func(t *testing.T) {
		h := newHarness(t)
		err := h.repo.MarkDone(context.Background(), 987654)
		assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound), "err = %v", err)
	})

	t.Run("run lifecycle", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		w := domain.Window{Start: mustDay("2021-01-01"), End: mustDay("2021-12-31")}

		id, err := h.repo.StartRun(ctx, "c", w, map[string]any{"resume": true})
		require.NoError(t, err)
		other, err := h.repo.StartRun(ctx, "c", w, nil)
		require.NoError(t, err)
		assert.NotEqual(t, id, other)

		require.NoError(t, h.repo.Heartbeat(ctx, id, domain.StageProcessing, "k1", 1, 0))
		require.NoError(t, h.repo.Heartbeat(ctx, id, domain.StageProcessing, "", 2, 1))

		run, err := h.repo.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunInProgress, run.Status)
		assert.Equal(t, "k1", run.LastItemKey)
		assert.Equal(t, 2, run.Processed)
		assert.Equal(t, 1, run.Errors)
		assert.Equal(t, w, run.Window)
		assert.Equal(t, true, run.Params["resume"])

		n, err := h.repo.ActiveRuns(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, h.repo.FinishRun(ctx, id, domain.RunCompleted, 2, 1))
		require.NoError(t, h.repo.FinishRun(ctx, id, domain.RunCompletedWithWarnings, 3, 1))
		run, err = h.repo.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunCompletedWithWarnings, run.Status)
		assert.Equal(t, 3, run.Processed)
		assert.NotNil(t, run.FinishedAt)

		// only the silent sibling goes stale
		h.wait(300 * time.Millisecond)
		stale, err := h.repo.MarkStaleRuns(ctx, "c", 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 1, stale)
		run, err = h.repo.GetRun(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStalled, run.Status)

		_, err = h.repo.GetRun(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, perr.IsCode(err, perr.ErrorCodeNotFound), "err = %v", err)
	})

	t.Run("progress cursor last write wins", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		_, ok, err := h.repo.LoadProgress(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)

		d1, d2 := mustDay("2022-03-01"), mustDay("2022-02-01")
		require.NoError(t, h.repo.SaveProgress(ctx, domain.Progress{Connector: "c", ShardKey: "s", LastDecisionDate: &d1, LastDocID: "doc1", LastItemKey: "k1"}))
		require.NoError(t, h.repo.SaveProgress(ctx, domain.Progress{Connector: "c", ShardKey: "s", LastDecisionDate: &d2, LastDocID: "doc2", LastItemKey: "k2"}))
		require.NoError(t, h.repo.SaveProgress(ctx, domain.Progress{Connector: "c", ShardKey: "s", LastDocID: "doc3", LastItemKey: "k3"}))

		p, ok, err := h.repo.LoadProgress(ctx, "c")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "doc3", p.LastDocID)
		assert.Equal(t, "k3", p.LastItemKey)
		require.NotNil(t, p.LastDecisionDate)
		assert.True(t, p.LastDecisionDate.Equal(d2), "date = %s", p.LastDecisionDate)
	})
}
