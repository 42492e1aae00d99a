package repo

import (
	"context"
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// LoadProgress reads the connector cursor, ok is false before the first save
func (r *queries) LoadProgress(ctx context.Context, connector string) (domain.Progress, bool, error) {
	const sql = `
		SELECT connector, shard_key, last_decision_date, last_doc_id, last_item_key, updated_at
		FROM connector_progress
		WHERE connector = $1
	`
	var p domain.Progress
	err := r.q.QueryRow(ctx, sql, connector).Scan(&p.Connector, &p.ShardKey, &p.LastDecisionDate,
		&p.LastDocID, &p.LastItemKey, &p.UpdatedAt)
	if err != nil {
		if err = store.NoRows(err); perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.Progress{}, false, nil
		}
		return domain.Progress{}, false, perr.FromPostgres(err, "load progress")
	}
	if p.LastDecisionDate != nil {
		d := domain.Day(*p.LastDecisionDate)
		p.LastDecisionDate = &d
	}
	return p, true, nil
}

// SaveProgress overwrites the cursor; a missing decision date keeps the stored one
func (r *queries) SaveProgress(ctx context.Context, p domain.Progress) error {
	const sql = `
		INSERT INTO connector_progress (connector, shard_key, last_decision_date, last_doc_id, last_item_key, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (connector) DO UPDATE
		SET shard_key = EXCLUDED.shard_key,
		    last_decision_date = COALESCE(EXCLUDED.last_decision_date, connector_progress.last_decision_date),
		    last_doc_id = EXCLUDED.last_doc_id,
		    last_item_key = EXCLUDED.last_item_key,
		    updated_at = NOW()
	`
	var date *time.Time
	if p.LastDecisionDate != nil {
		d := domain.Day(*p.LastDecisionDate)
		date = &d
	}
	if _, err := r.q.Exec(ctx, sql, p.Connector, p.ShardKey, date, p.LastDocID, p.LastItemKey); err != nil {
		return perr.FromPostgres(err, "save progress")
	}
	return nil
}
