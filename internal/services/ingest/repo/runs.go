package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	pstrings "github.com/nuxxor/Mevzubase/internal/platform/strings"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// StartRun opens an in_progress run with a fresh id
// the first heartbeat is stamped at start so siblings do not mark it stale
func (r *queries) StartRun(ctx context.Context, connector string, w domain.Window, params map[string]any) (string, error) {
	const sql = `
		INSERT INTO ingest_runs (run_id, connector, window_start, window_end, params, stage, status, started_at, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, 'in_progress', NOW(), NOW())
	`
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeJSON, "encode run params")
	}
	id := uuid.NewString()
	if _, err := r.q.Exec(ctx, sql, id, connector, w.Start, w.End, string(body), domain.StageList); err != nil {
		return "", perr.FromPostgres(err, "start run")
	}
	return id, nil
}

// Heartbeat stamps liveness and live counters
func (r *queries) Heartbeat(ctx context.Context, runID, stage, lastItemKey string, processed, errors int) error {
	const sql = `
		UPDATE ingest_runs
		SET last_heartbeat = NOW(),
		    stage = $2,
		    last_item_key = COALESCE($3::text, last_item_key),
		    processed_count = $4,
		    error_count = $5
		WHERE run_id = $1
	`
	return wrapOne(store.ExecOne(ctx, r.q, sql, runID, stage, pstrings.SQLNull(lastItemKey), processed, errors), "heartbeat")
}

// MarkStaleRuns flips silent in_progress runs of a connector to stalled
func (r *queries) MarkStaleRuns(ctx context.Context, connector string, staleAfter time.Duration) (int, error) {
	const sql = `
		UPDATE ingest_runs
		SET status = 'stalled'
		WHERE connector = $1
		  AND status = 'in_progress'
		  AND (last_heartbeat IS NULL OR last_heartbeat < NOW() - make_interval(secs => $2::double precision))
	`
	tag, err := r.q.Exec(ctx, sql, connector, staleAfter.Seconds())
	if err != nil {
		return 0, perr.FromPostgres(err, "mark stale runs")
	}
	return int(tag.RowsAffected()), nil
}

// FinishRun writes the terminal status, calling it again overwrites
func (r *queries) FinishRun(ctx context.Context, runID string, status domain.RunStatus, processed, errors int) error {
	const sql = `
		UPDATE ingest_runs
		SET status = $2,
		    processed_count = $3,
		    error_count = $4,
		    finished_at = NOW(),
		    last_heartbeat = NOW()
		WHERE run_id = $1
	`
	return wrapOne(store.ExecOne(ctx, r.q, sql, runID, string(status), processed, errors), "finish run")
}

// GetRun loads one run
func (r *queries) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	const sql = `
		SELECT run_id::text, connector, window_start, window_end, params, stage, last_item_key,
		       processed_count, error_count, started_at, last_heartbeat, finished_at, status
		FROM ingest_runs
		WHERE run_id = $1
	`
	var (
		run    domain.Run
		params []byte
		status string
	)
	err := r.q.QueryRow(ctx, sql, runID).Scan(&run.ID, &run.Connector, &run.Window.Start, &run.Window.End,
		&params, &run.Stage, &run.LastItemKey, &run.Processed, &run.Errors,
		&run.StartedAt, &run.LastHeartbeat, &run.FinishedAt, &status)
	if err != nil {
		return domain.Run{}, wrapOne(store.NoRows(err), "get run")
	}
	run.Status = domain.RunStatus(status)
	run.Window.Start, run.Window.End = domain.Day(run.Window.Start), domain.Day(run.Window.End)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return domain.Run{}, perr.Wrap(err, perr.ErrorCodeJSON, "decode run params")
		}
	}
	return run, nil
}

// ActiveRuns counts in_progress runs of a connector
func (r *queries) ActiveRuns(ctx context.Context, connector string) (int, error) {
	const sql = `SELECT COUNT(*) FROM ingest_runs WHERE connector = $1 AND status = 'in_progress'`
	n, err := store.Scalar[int64](ctx, r.q, sql, connector)
	if err != nil {
		return 0, perr.FromPostgres(err, "active runs")
	}
	return int(n), nil
}
