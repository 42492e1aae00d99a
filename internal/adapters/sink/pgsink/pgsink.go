// Package pgsink stores decision versions and chunks in Postgres
package pgsink

import (
	"context"
	_ "embed"
	"encoding/json"

	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

//go:embed schema.sql
var schemaSQL string

// Sink implements domain.DocumentSink
type Sink struct {
	db repokit.TxRunner
}

var _ domain.DocumentSink = (*Sink)(nil)

// New binds the sink to a transactional Postgres handle
func New(db repokit.TxRunner) *Sink {
	if db == nil {
		panic("pgsink: nil db")
	}
	return &Sink{db: db}
}

// Migrate creates the document tables when missing
func Migrate(ctx context.Context, q repokit.Queryer) error {
	if _, err := q.Exec(ctx, schemaSQL); err != nil {
		return perr.FromPostgres(err, "pgsink schema")
	}
	return nil
}

// Current reads the checksum and version of the current row
func (s *Sink) Current(ctx context.Context, docID string) (string, int, bool, error) {
	var (
		sum string
		ver int
	)
	err := s.db.QueryRow(ctx, `SELECT checksum, version FROM documents WHERE doc_id = $1 AND is_current`, docID).Scan(&sum, &ver)
	if err != nil {
		if err = store.NoRows(err); perr.IsCode(err, perr.ErrorCodeNotFound) {
			return "", 0, false, nil
		}
		return "", 0, false, perr.FromPostgres(err, "current document")
	}
	return sum, ver, true, nil
}

// Persist writes doc as the current version with its chunks in one transaction
// a concurrent writer that already stored this or a later version makes the call
// fail with a retryable error so the item is reprocessed against the new state
func (s *Sink) Persist(ctx context.Context, doc domain.CanonDoc, chunks []domain.Chunk) error {
	if doc.DocID == "" || doc.Version < 1 || doc.Checksum == "" {
		return perr.Newf(perr.ErrorCodeValidation, "persist: doc id, version and checksum are required")
	}
	meta, err := json.Marshal(nonNil(doc.Meta))
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode document meta")
	}
	rows, err := json.Marshal(chunkRows(chunks))
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode chunks")
	}

	return repokit.WithTx(ctx, s.db, func(q repokit.Queryer) error {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doc.DocID); err != nil {
			return perr.FromPostgres(err, "lock document")
		}

		latest, err := store.Scalar[int](ctx, q, `SELECT COALESCE(MAX(version), 0) FROM documents WHERE doc_id = $1`, doc.DocID)
		if err != nil {
			return perr.FromPostgres(err, "latest version")
		}
		if latest >= doc.Version {
			return perr.Unavailablef("document %s: version %d already stored (latest %d)", doc.DocID, doc.Version, latest)
		}

		if _, err := q.Exec(ctx, `UPDATE documents SET is_current = FALSE WHERE doc_id = $1 AND is_current`, doc.DocID); err != nil {
			return perr.FromPostgres(err, "retire versions")
		}

		const insertDoc = `
			INSERT INTO documents (doc_id, version, is_current, source, doc_type, title, url, court, chamber,
			                       decision_date, checksum, body, meta)
			VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)
		`
		if _, err := q.Exec(ctx, insertDoc,
			doc.DocID, doc.Version, doc.Source, doc.DocType, doc.Title, doc.URL, doc.Court, doc.Chamber,
			doc.DecisionDate, doc.Checksum, doc.Text, string(meta),
		); err != nil {
			return perr.FromPostgres(err, "insert document")
		}

		if len(chunks) == 0 {
			return nil
		}
		const insertChunks = `
			INSERT INTO chunks (chunk_id, doc_id, version, ordinal, section, paragraph_no, content, content_hash, token_count, anchor)
			SELECT c.chunk_id, $1, $2, c.ordinal, c.section, c.paragraph_no, c.content, c.content_hash, c.token_count, c.anchor
			FROM jsonb_to_recordset($3::jsonb) AS c(
				chunk_id text, ordinal int, section text, paragraph_no text,
				content text, content_hash text, token_count int, anchor text)
		`
		if _, err := q.Exec(ctx, insertChunks, doc.DocID, doc.Version, string(rows)); err != nil {
			return perr.FromPostgres(err, "insert chunks")
		}
		return nil
	})
}

type chunkRow struct {
	ChunkID     string `json:"chunk_id"`
	Ordinal     int    `json:"ordinal"`
	Section     string `json:"section"`
	ParagraphNo string `json:"paragraph_no"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`
	TokenCount  int    `json:"token_count"`
	Anchor      string `json:"anchor"`
}

func chunkRows(chunks []domain.Chunk) []chunkRow {
	out := make([]chunkRow, len(chunks))
	for i, c := range chunks {
		out[i] = chunkRow{
			ChunkID:     c.ChunkID,
			Ordinal:     c.Ordinal,
			Section:     c.Section,
			ParagraphNo: c.ParagraphNo,
			Content:     c.Content,
			ContentHash: c.ContentHash,
			TokenCount:  c.TokenCount,
			Anchor:      c.Anchor,
		}
	}
	return out
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
