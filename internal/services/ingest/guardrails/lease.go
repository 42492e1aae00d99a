package guardrails

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nuxxor/Mevzubase/internal/modkit/repokit"
	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/platform/logger"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// ErrLeaseHeld signals another worker is draining the shard
var ErrLeaseHeld = perr.New(perr.ErrorCodeConflict, "ingest: shard lease already held")

// MakeTableLease returns a shard lease backed by the ingest_shard_leases table.
// A lease expires after ttl unless renewed; the holder renews it every ttl/3
// until release, so a crashed worker frees its shard after at most ttl
func MakeTableLease(db repokit.TxRunner, ttl time.Duration) domain.ShardLease {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	ttl = max(ttl, time.Second)
	return func(ctx context.Context, shardKey string) (func(), error) {
		holder := uuid.NewString()
		claimed := false
		err := db.Tx(ctx, func(q repokit.Queryer) error {
			rows, err := q.Query(ctx, `
				INSERT INTO ingest_shard_leases (shard_key, holder, leased_at, expires_at)
				VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3::double precision))
				ON CONFLICT (shard_key) DO UPDATE
				SET holder = EXCLUDED.holder, leased_at = EXCLUDED.leased_at, expires_at = EXCLUDED.expires_at
				WHERE ingest_shard_leases.expires_at < NOW()
				RETURNING true
			`, shardKey, holder, ttl.Seconds())
			if err != nil {
				return err
			}
			defer rows.Close()
			claimed = rows.Next()
			return rows.Err()
		})
		if err != nil {
			return nil, perr.FromPostgres(err, "claim shard lease")
		}
		if !claimed {
			return nil, ErrLeaseHeld
		}

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			t := time.NewTicker(ttl / 3)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.C:
					rctx, cancel := context.WithTimeout(context.Background(), ttl/3)
					_, err := db.Exec(rctx, `
						UPDATE ingest_shard_leases
						SET expires_at = NOW() + make_interval(secs => $3::double precision)
						WHERE shard_key = $1 AND holder = $2
					`, shardKey, holder, ttl.Seconds())
					cancel()
					if err != nil {
						logger.C(ctx).Warn().Err(err).Str("shard", shardKey).Msg("ingest: shard lease renew failed")
					}
				}
			}
		}()

		var once sync.Once
		return func() {
			once.Do(func() {
				close(stop)
				<-done
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := db.Exec(rctx, `DELETE FROM ingest_shard_leases WHERE shard_key = $1 AND holder = $2`, shardKey, holder); err != nil {
					logger.C(ctx).Warn().Err(err).Str("shard", shardKey).Msg("ingest: shard lease release failed")
				}
			})
		}, nil
	}
}

// LocalLeases is a process local lease set for the in-memory store
type LocalLeases struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLeases returns an empty lease set
func NewLocalLeases() *LocalLeases { return &LocalLeases{held: map[string]struct{}{}} }

// Lease implements domain.ShardLease
func (l *LocalLeases) Lease(_ context.Context, shardKey string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[shardKey]; ok {
		return nil, ErrLeaseHeld
	}
	l.held[shardKey] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, shardKey)
			l.mu.Unlock()
		})
	}, nil
}
