package repo

import (
	"context"
	"encoding/json"
	"time"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/store"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// enqueueBatch bounds the jsonb array sent per upsert statement
const enqueueBatch = 500

// Enqueue upserts items into the shard queue and returns how many rows were new
// DONE and FAILED rows only get their payload refreshed
func (r *queries) Enqueue(ctx context.Context, connector, shardKey string, items []domain.ItemRef) (int, error) {
	const sql = `
		INSERT INTO ingest_queue (connector, shard_key, item_key, payload)
		SELECT $1, $2, e->>'key', e
		FROM jsonb_array_elements($3::jsonb) AS e
		ON CONFLICT (connector, shard_key, item_key) DO UPDATE
		SET payload = EXCLUDED.payload,
		    updated_at = clock_timestamp()
		RETURNING (xmax = 0) AS inserted
	`
	items = dedupeLast(items)
	added := 0
	for lo := 0; lo < len(items); lo += enqueueBatch {
		hi := min(lo+enqueueBatch, len(items))
		body, err := json.Marshal(items[lo:hi])
		if err != nil {
			return added, perr.Wrap(err, perr.ErrorCodeJSON, "encode queue payload")
		}
		rows, err := r.q.Query(ctx, sql, connector, shardKey, string(body))
		if err != nil {
			return added, perr.FromPostgres(err, "enqueue")
		}
		for rows.Next() {
			var inserted bool
			if err := rows.Scan(&inserted); err != nil {
				rows.Close()
				return added, err
			}
			if inserted {
				added++
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return added, perr.FromPostgres(err, "enqueue")
		}
	}
	return added, nil
}

// dedupeLast keeps the last occurrence of each key in first seen order
// one upsert statement cannot touch the same row twice
func dedupeLast(items []domain.ItemRef) []domain.ItemRef {
	idx := make(map[string]int, len(items))
	out := make([]domain.ItemRef, 0, len(items))
	for _, it := range items {
		if it.Key == "" {
			continue
		}
		if i, ok := idx[it.Key]; ok {
			out[i] = it
			continue
		}
		idx[it.Key] = len(out)
		out = append(out, it)
	}
	return out
}

const entryCols = `q.id, q.connector, q.shard_key, q.item_key, q.status, q.attempts,
	q.next_attempt_at, q.last_error, q.payload, q.created_at, q.updated_at`

func scanEntry(row store.Row) (domain.QueueEntry, error) {
	var (
		e       domain.QueueEntry
		status  string
		payload []byte
	)
	if err := row.Scan(&e.ID, &e.Connector, &e.ShardKey, &e.ItemKey, &status, &e.Attempts,
		&e.NextAttemptAt, &e.LastError, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.QueueEntry{}, err
	}
	e.Status = domain.Status(status)
	if err := json.Unmarshal(payload, &e.Item); err != nil {
		return domain.QueueEntry{}, perr.Wrapf(err, perr.ErrorCodeJSON, "queue payload %d", e.ID)
	}
	return e, nil
}

// CheckoutNext leases the oldest eligible entry of the shard
// SKIP LOCKED keeps concurrent callers from ever leasing the same row
func (r *queries) CheckoutNext(ctx context.Context, connector, shardKey string) (domain.QueueEntry, bool, error) {
	const sql = `
		WITH next AS (
			SELECT id
			FROM ingest_queue
			WHERE connector = $1
			  AND shard_key = $2
			  AND (status = 'PENDING' OR (status = 'RETRY' AND next_attempt_at <= NOW()))
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ingest_queue q
		SET status = 'IN_PROGRESS',
		    updated_at = clock_timestamp()
		FROM next
		WHERE q.id = next.id
		RETURNING ` + entryCols
	e, err := scanEntry(r.q.QueryRow(ctx, sql, connector, shardKey))
	if err != nil {
		if err = store.NoRows(err); perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.QueueEntry{}, false, nil
		}
		return domain.QueueEntry{}, false, perr.FromPostgres(err, "checkout")
	}
	return e, true, nil
}

// MarkDone finishes an entry
func (r *queries) MarkDone(ctx context.Context, id int64) error {
	const sql = `
		UPDATE ingest_queue
		SET status = 'DONE',
		    next_attempt_at = NULL,
		    updated_at = clock_timestamp()
		WHERE id = $1
	`
	return wrapOne(store.ExecOne(ctx, r.q, sql, id), "mark done")
}

// MarkRetry records a failed attempt, failing the entry once attempts reach maxAttempts
func (r *queries) MarkRetry(ctx context.Context, id int64, lastErr string, delay time.Duration, maxAttempts int) (domain.Status, error) {
	const sql = `
		UPDATE ingest_queue
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $4 THEN 'FAILED' ELSE 'RETRY' END,
		    next_attempt_at = CASE WHEN attempts + 1 >= $4 THEN NULL
		                           ELSE NOW() + make_interval(secs => $3::double precision) END,
		    last_error = $2,
		    updated_at = clock_timestamp()
		WHERE id = $1
		RETURNING status
	`
	st, err := store.Scalar[string](ctx, r.q, sql, id, trimErr(lastErr), delay.Seconds(), maxAttempts)
	if err != nil {
		return "", wrapOne(err, "mark retry")
	}
	return domain.Status(st), nil
}

// Counts is one GROUP BY so the snapshot is consistent
func (r *queries) Counts(ctx context.Context, connector, shardKey string) (domain.Counts, error) {
	const sql = `
		SELECT status, COUNT(*)
		FROM ingest_queue
		WHERE connector = $1 AND shard_key = $2
		GROUP BY status
	`
	rows, err := r.q.Query(ctx, sql, connector, shardKey)
	if err != nil {
		return domain.Counts{}, perr.FromPostgres(err, "queue counts")
	}
	defer rows.Close()

	var c domain.Counts
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return domain.Counts{}, err
		}
		c.Add(domain.Status(st), n)
	}
	return c, rows.Err()
}

// Shards lists per shard counts for a connector ordered by shard key
func (r *queries) Shards(ctx context.Context, connector string) ([]domain.ShardCounts, error) {
	const sql = `
		SELECT shard_key, status, COUNT(*)
		FROM ingest_queue
		WHERE connector = $1
		GROUP BY shard_key, status
		ORDER BY shard_key
	`
	type bucket struct {
		key, status string
		n           int
	}
	buckets, err := store.Many(ctx, r.q, func(row store.Row) (bucket, error) {
		var b bucket
		return b, row.Scan(&b.key, &b.status, &b.n)
	}, sql, connector)
	if err != nil {
		return nil, perr.FromPostgres(err, "queue shards")
	}

	var out []domain.ShardCounts
	for _, b := range buckets {
		if len(out) == 0 || out[len(out)-1].ShardKey != b.key {
			out = append(out, domain.ShardCounts{ShardKey: b.key})
		}
		out[len(out)-1].Add(domain.Status(b.status), b.n)
	}
	return out, nil
}

// Requeue hands stuck IN_PROGRESS entries of a shard back to the queue
func (r *queries) Requeue(ctx context.Context, connector, shardKey string) (int, error) {
	const sql = `
		UPDATE ingest_queue
		SET status = 'PENDING',
		    updated_at = clock_timestamp()
		WHERE connector = $1 AND shard_key = $2 AND status = 'IN_PROGRESS'
	`
	tag, err := r.q.Exec(ctx, sql, connector, shardKey)
	if err != nil {
		return 0, perr.FromPostgres(err, "requeue")
	}
	return int(tag.RowsAffected()), nil
}

func wrapOne(err error, msg string) error {
	if err == nil {
		return nil
	}
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return perr.Wrap(err, perr.ErrorCodeNotFound, msg)
	}
	return perr.FromPostgres(err, msg)
}
