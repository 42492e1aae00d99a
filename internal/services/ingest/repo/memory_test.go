package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuxxor/Mevzubase/internal/platform/testkit"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

func TestMemoryContract(t *testing.T) {
	runContract(t, func(t *testing.T) harness {
		clock := testkit.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		return harness{repo: NewMemory(clock.Now), wait: clock.Advance}
	})
}

func TestMemoryRetryBecomesEligible(t *testing.T) {
	t.Parallel()

	clock := testkit.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := NewMemory(clock.Now)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, "c", "s", refs("a"))
	require.NoError(t, err)
	e, _, err := m.CheckoutNext(ctx, "c", "s")
	require.NoError(t, err)
	_, err = m.MarkRetry(ctx, e.ID, "429", 10*time.Second, 5)
	require.NoError(t, err)

	stored, ok := m.Entry(e.ID)
	require.True(t, ok)
	require.NotNil(t, stored.NextAttemptAt)
	assert.Equal(t, clock.Now().Add(10*time.Second), *stored.NextAttemptAt)
	assert.Equal(t, "429", stored.LastError)
	assert.Equal(t, 1, stored.Attempts)

	clock.Advance(9 * time.Second)
	_, ok, err = m.CheckoutNext(ctx, "c", "s")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Second)
	got, ok, err := m.CheckoutNext(ctx, "c", "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, domain.StatusInProgress, got.Status)
}

func TestTrimErr(t *testing.T) {
	t.Parallel()

	long := make([]rune, 800)
	for i := range long {
		long[i] = 'ş'
	}
	got := []rune(trimErr(string(long)))
	assert.Len(t, got, lastErrorMax)
	assert.Equal(t, "short", trimErr("short"))
}

func TestDedupeLast(t *testing.T) {
	t.Parallel()

	in := []domain.ItemRef{{Key: "a", URL: "1"}, {Key: ""}, {Key: "b"}, {Key: "a", URL: "2"}}
	out := dedupeLast(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Key)
	assert.Equal(t, "2", out[0].URL)
	assert.Equal(t, "b", out[1].Key)
}
