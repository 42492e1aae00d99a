//go:build integration_pg

package pgsink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/testkit/pgtest"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/version"
)

func doc(id, text string, v int) domain.CanonDoc {
	d := time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)
	return domain.CanonDoc{
		DocID: id, Source: "YARGITAY", DocType: "karar", Court: "Yargıtay", Chamber: "3.HD",
		DecisionDate: &d, Text: text, Checksum: version.Checksum(text), Version: v, IsCurrent: true,
		Meta: map[string]string{"quality_flag": domain.QualityOK},
	}
}

func chunk(id string, v, i int) domain.Chunk {
	return domain.Chunk{ChunkID: id, DocID: "d1", Version: v, Ordinal: i, Section: "METİN", ParagraphNo: "METİN:1", Content: "x", ContentHash: "h", TokenCount: 1}
}

func TestSink_Postgres(t *testing.T) {
	st := pgtest.Open(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, st.PG))
	require.NoError(t, Migrate(ctx, st.PG))
	s := New(st.PG)

	_, _, ok, err := s.Current(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Persist(ctx, doc("d1", "bir", 1), []domain.Chunk{chunk("d1:v1:c0", 1, 0), chunk("d1:v1:c1", 1, 1)}))
	sum, v, ok, err := s.Current(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, version.Checksum("bir"), sum)

	require.NoError(t, s.Persist(ctx, doc("d1", "iki", 2), []domain.Chunk{chunk("d1:v2:c0", 2, 0)}))
	_, v, _, err = s.Current(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var current, total, chunks int
	require.NoError(t, st.PG.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE is_current), COUNT(*) FROM documents WHERE doc_id = 'd1'`).Scan(&current, &total))
	assert.Equal(t, 1, current)
	assert.Equal(t, 2, total)
	require.NoError(t, st.PG.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE doc_id = 'd1'`).Scan(&chunks))
	assert.Equal(t, 3, chunks)

	// a stale writer loses and may retry
	err = s.Persist(ctx, doc("d1", "eski", 2), nil)
	require.Error(t, err)
	assert.True(t, perr.Retryable(err))

	// a failing chunk insert rolls the version back
	err = s.Persist(ctx, doc("d1", "üç", 3), []domain.Chunk{chunk("d1:v1:c0", 3, 0)})
	require.Error(t, err)
	_, v, _, err = s.Current(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSink_ConcurrentWritersKeepOneCurrent(t *testing.T) {
	st := pgtest.Open(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, st.PG))
	s := New(st.PG)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Persist(ctx, doc("race", "metin", 1), nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	var current int
	require.NoError(t, st.PG.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE doc_id = 'race' AND is_current`).Scan(&current))
	assert.Equal(t, 1, current)
}
