// Package chmirror copies persisted decision versions and chunks into ClickHouse
// for analytics; the wrapped sink stays the source of truth
package chmirror

import (
	"context"
	"time"

	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Tables written by the mirror
const (
	VersionsTable = "mevzubase.decision_versions"
	ChunksTable   = "mevzubase.decision_chunks"
)

var (
	versionColumns = []string{"doc_id", "version", "source", "court", "chamber", "decision_date", "checksum", "quality_flag", "chunk_count", "text_chars", "persisted_at"}
	chunkColumns   = []string{"chunk_id", "doc_id", "version", "ordinal", "section", "paragraph_no", "token_count", "content_hash", "content"}
)

var ddl = []string{
	`CREATE DATABASE IF NOT EXISTS mevzubase`,
	`CREATE TABLE IF NOT EXISTS mevzubase.decision_versions (
		doc_id        String,
		version       UInt32,
		source        LowCardinality(String),
		court         LowCardinality(String),
		chamber       LowCardinality(String),
		decision_date Nullable(Date),
		checksum      String,
		quality_flag  LowCardinality(String),
		chunk_count   UInt32,
		text_chars    UInt32,
		persisted_at  DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(persisted_at)
	ORDER BY (doc_id, version)`,
	`CREATE TABLE IF NOT EXISTS mevzubase.decision_chunks (
		chunk_id     String,
		doc_id       String,
		version      UInt32,
		ordinal      UInt32,
		section      LowCardinality(String),
		paragraph_no String,
		token_count  UInt32,
		content_hash FixedString(40),
		content      String CODEC(ZSTD(3))
	) ENGINE = ReplacingMergeTree
	ORDER BY (doc_id, version, ordinal)`,
}

// Migrate creates the mirror tables when missing
func Migrate(ctx context.Context, ch store.Clickhouse) error {
	for _, q := range ddl {
		if err := ch.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Mirror decorates a domain.DocumentSink
type Mirror struct {
	inner domain.DocumentSink
	ch    store.Clickhouse
	now   func() time.Time
}

var _ domain.DocumentSink = (*Mirror)(nil)

// Wrap returns inner unchanged when ch is nil
func Wrap(inner domain.DocumentSink, ch store.Clickhouse) domain.DocumentSink {
	if ch == nil {
		return inner
	}
	return &Mirror{inner: inner, ch: ch, now: time.Now}
}

// Current reads from the wrapped sink
func (m *Mirror) Current(ctx context.Context, docID string) (string, int, bool, error) {
	return m.inner.Current(ctx, docID)
}

// Persist writes through, then mirrors; mirror failures are logged and dropped
func (m *Mirror) Persist(ctx context.Context, doc domain.CanonDoc, chunks []domain.Chunk) error {
	if err := m.inner.Persist(ctx, doc, chunks); err != nil {
		return err
	}
	if err := m.mirror(ctx, doc, chunks); err != nil {
		logger.C(ctx).Warn().Err(err).Str("doc_id", doc.DocID).Int("version", doc.Version).Msg("chmirror: mirror write failed")
	}
	return nil
}

func (m *Mirror) mirror(ctx context.Context, doc domain.CanonDoc, chunks []domain.Chunk) error {
	var date any
	if doc.DecisionDate != nil {
		date = doc.DecisionDate.UTC()
	}
	vrow := []any{
		doc.DocID, uint32(doc.Version), doc.Source, doc.Court, doc.Chamber, date, doc.Checksum,
		doc.Meta["quality_flag"], uint32(len(chunks)), uint32(len([]rune(doc.Text))), m.now().UTC(),
	}
	if err := m.ch.Insert(ctx, VersionsTable, versionColumns, [][]any{vrow}); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, []any{
			c.ChunkID, c.DocID, uint32(c.Version), uint32(c.Ordinal), c.Section, c.ParagraphNo,
			uint32(c.TokenCount), c.ContentHash, c.Content,
		})
	}
	return m.ch.Insert(ctx, ChunksTable, chunkColumns, rows)
}
