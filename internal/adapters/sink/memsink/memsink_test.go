package memsink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

func TestSink_Versions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	_, _, ok, err := s.Current(ctx, "d")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Persist(ctx, domain.CanonDoc{DocID: "d", Version: 1, Checksum: "a"}, []domain.Chunk{{ChunkID: "d:v1:c0", Version: 1}}))
	require.NoError(t, s.Persist(ctx, domain.CanonDoc{DocID: "d", Version: 2, Checksum: "b"}, []domain.Chunk{{ChunkID: "d:v2:c0", Version: 2}}))

	sum, v, ok, err := s.Current(ctx, "d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", sum)
	assert.Equal(t, 2, v)

	vs := s.Versions("d")
	require.Len(t, vs, 2)
	assert.False(t, vs[0].IsCurrent)
	assert.True(t, vs[1].IsCurrent)
	assert.Len(t, s.Chunks("d", 1), 1)
	assert.Equal(t, []string{"d"}, s.DocIDs())

	err = s.Persist(ctx, domain.CanonDoc{DocID: "d", Version: 2, Checksum: "c"}, nil)
	assert.True(t, perr.Retryable(err))
	err = s.Persist(ctx, domain.CanonDoc{DocID: "d", Version: 3}, nil)
	assert.True(t, perr.Terminal(err))
}
