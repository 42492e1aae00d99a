package repo

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	perr "github.com/nuxxor/Mevzubase/internal/platform/errors"
	"github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Memory is a process local domain.StateRepo with the same semantics as the Postgres one
// used by --store=memory and unit tests
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	queue    map[int64]*domain.QueueEntry
	byKey    map[queueKey]int64
	runs     map[string]*domain.Run
	progress map[string]domain.Progress
}

type queueKey struct{ connector, shard, item string }

var _ domain.StateRepo = (*Memory)(nil)

// NewMemory builds an empty store; now may be nil
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:      now,
		queue:    map[int64]*domain.QueueEntry{},
		byKey:    map[queueKey]int64{},
		runs:     map[string]*domain.Run{},
		progress: map[string]domain.Progress{},
	}
}

// Enqueue upserts items, DONE and FAILED entries keep their status
func (m *Memory) Enqueue(_ context.Context, connector, shardKey string, items []domain.ItemRef) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, it := range dedupeLast(items) {
		k := queueKey{connector, shardKey, it.Key}
		now := m.now()
		if id, ok := m.byKey[k]; ok {
			e := m.queue[id]
			e.Item = cloneRef(it)
			e.UpdatedAt = now
			continue
		}
		m.nextID++
		m.queue[m.nextID] = &domain.QueueEntry{
			ID: m.nextID, Connector: connector, ShardKey: shardKey, ItemKey: it.Key,
			Status: domain.StatusPending, Item: cloneRef(it), CreatedAt: now, UpdatedAt: now,
		}
		m.byKey[k] = m.nextID
		added++
	}
	return added, nil
}

// CheckoutNext leases the oldest eligible entry under the store mutex
func (m *Memory) CheckoutNext(_ context.Context, connector, shardKey string) (domain.QueueEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var best *domain.QueueEntry
	for _, e := range m.queue {
		if e.Connector != connector || e.ShardKey != shardKey {
			continue
		}
		eligible := e.Status == domain.StatusPending ||
			(e.Status == domain.StatusRetry && e.NextAttemptAt != nil && !e.NextAttemptAt.After(now))
		if !eligible {
			continue
		}
		if best == nil || e.CreatedAt.Before(best.CreatedAt) || (e.CreatedAt.Equal(best.CreatedAt) && e.ID < best.ID) {
			best = e
		}
	}
	if best == nil {
		return domain.QueueEntry{}, false, nil
	}
	best.Status = domain.StatusInProgress
	best.UpdatedAt = now
	return snapshot(best), true, nil
}

// MarkDone finishes an entry
func (m *Memory) MarkDone(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.queue[id]
	if !ok {
		return perr.NotFoundf("queue entry %d", id)
	}
	e.Status = domain.StatusDone
	e.NextAttemptAt = nil
	e.UpdatedAt = m.now()
	return nil
}

// MarkRetry records a failed attempt
func (m *Memory) MarkRetry(_ context.Context, id int64, lastErr string, delay time.Duration, maxAttempts int) (domain.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.queue[id]
	if !ok {
		return "", perr.NotFoundf("queue entry %d", id)
	}
	now := m.now()
	e.Attempts++
	e.LastError = trimErr(lastErr)
	e.UpdatedAt = now
	if e.Attempts >= maxAttempts {
		e.Status = domain.StatusFailed
		e.NextAttemptAt = nil
		return e.Status, nil
	}
	next := now.Add(delay)
	e.Status = domain.StatusRetry
	e.NextAttemptAt = &next
	return e.Status, nil
}

// Counts snapshots one shard
func (m *Memory) Counts(_ context.Context, connector, shardKey string) (domain.Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c domain.Counts
	for _, e := range m.queue {
		if e.Connector == connector && e.ShardKey == shardKey {
			c.Add(e.Status, 1)
		}
	}
	return c, nil
}

// Shards snapshots every shard of a connector ordered by key
func (m *Memory) Shards(_ context.Context, connector string) ([]domain.ShardCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	by := map[string]*domain.ShardCounts{}
	for _, e := range m.queue {
		if e.Connector != connector {
			continue
		}
		sc, ok := by[e.ShardKey]
		if !ok {
			sc = &domain.ShardCounts{ShardKey: e.ShardKey}
			by[e.ShardKey] = sc
		}
		sc.Add(e.Status, 1)
	}
	out := make([]domain.ShardCounts, 0, len(by))
	for _, k := range slices.Sorted(maps.Keys(by)) {
		out = append(out, *by[k])
	}
	return out, nil
}

// Requeue hands IN_PROGRESS entries of a shard back to PENDING
func (m *Memory) Requeue(_ context.Context, connector, shardKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.queue {
		if e.Connector == connector && e.ShardKey == shardKey && e.Status == domain.StatusInProgress {
			e.Status = domain.StatusPending
			e.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

// Entry returns a copy of one queue entry, for tests and diagnostics
func (m *Memory) Entry(id int64) (domain.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[id]
	if !ok {
		return domain.QueueEntry{}, false
	}
	return snapshot(e), true
}

// StartRun opens an in_progress run
func (m *Memory) StartRun(_ context.Context, connector string, w domain.Window, params map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := uuid.NewString()
	m.runs[id] = &domain.Run{
		ID: id, Connector: connector, Window: w, Params: maps.Clone(params),
		Stage: domain.StageList, StartedAt: now, LastHeartbeat: &now, Status: domain.RunInProgress,
	}
	return id, nil
}

// Heartbeat stamps liveness and live counters
func (m *Memory) Heartbeat(_ context.Context, runID, stage, lastItemKey string, processed, errors int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return perr.NotFoundf("run %s", runID)
	}
	now := m.now()
	r.LastHeartbeat = &now
	r.Stage = stage
	if lastItemKey != "" {
		r.LastItemKey = lastItemKey
	}
	r.Processed, r.Errors = processed, errors
	return nil
}

// MarkStaleRuns flips silent in_progress runs to stalled
func (m *Memory) MarkStaleRuns(_ context.Context, connector string, staleAfter time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleAfter)
	n := 0
	for _, r := range m.runs {
		if r.Connector != connector || r.Status != domain.RunInProgress {
			continue
		}
		if r.LastHeartbeat == nil || r.LastHeartbeat.Before(cutoff) {
			r.Status = domain.RunStalled
			n++
		}
	}
	return n, nil
}

// FinishRun writes the terminal status
func (m *Memory) FinishRun(_ context.Context, runID string, status domain.RunStatus, processed, errors int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return perr.NotFoundf("run %s", runID)
	}
	now := m.now()
	r.Status = status
	r.Processed, r.Errors = processed, errors
	r.FinishedAt = &now
	r.LastHeartbeat = &now
	return nil
}

// GetRun returns a copy of one run
func (m *Memory) GetRun(_ context.Context, runID string) (domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return domain.Run{}, perr.NotFoundf("run %s", runID)
	}
	out := *r
	out.Params = maps.Clone(r.Params)
	return out, nil
}

// ActiveRuns counts in_progress runs of a connector
func (m *Memory) ActiveRuns(_ context.Context, connector string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.runs {
		if r.Connector == connector && r.Status == domain.RunInProgress {
			n++
		}
	}
	return n, nil
}

// LoadProgress reads the cursor of a connector
func (m *Memory) LoadProgress(_ context.Context, connector string) (domain.Progress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[connector]
	return p, ok, nil
}

// SaveProgress overwrites the cursor; a missing decision date keeps the stored one
func (m *Memory) SaveProgress(_ context.Context, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.LastDecisionDate == nil {
		p.LastDecisionDate = m.progress[p.Connector].LastDecisionDate
	} else {
		d := domain.Day(*p.LastDecisionDate)
		p.LastDecisionDate = &d
	}
	p.UpdatedAt = m.now()
	m.progress[p.Connector] = p
	return nil
}

func cloneRef(r domain.ItemRef) domain.ItemRef {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

func snapshot(e *domain.QueueEntry) domain.QueueEntry {
	out := *e
	out.Item = cloneRef(e.Item)
	if e.NextAttemptAt != nil {
		t := *e.NextAttemptAt
		out.NextAttemptAt = &t
	}
	return out
}
