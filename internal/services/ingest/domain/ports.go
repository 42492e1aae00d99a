package domain

import (
	"context"
	"time"
)

// RunnerPort is the public port of the ingest module
type RunnerPort interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// MonitorPort is the read-only surface used by the batch driver and status routes
type MonitorPort interface {
	Counts(ctx context.Context, connector, shardKey string) (Counts, error)
	Shards(ctx context.Context, connector string) ([]ShardCounts, error)
}

// Source is one remote collection
// implementations must tolerate partial metadata and always assign a doc id
type Source interface {
	// Name is the connector name used for queue and run scoping
	Name() string

	// ListItems streams every item of w through emit and reports planning anomalies
	ListItems(ctx context.Context, w Window, emit func(ItemRef) error) (ListReport, error)

	Fetch(ctx context.Context, ref ItemRef) (RawPayload, error)
	Parse(ctx context.Context, raw RawPayload) (CanonDoc, error)
	Chunk(ctx context.Context, doc CanonDoc) ([]Chunk, error)
}

// DocumentSink persists a document version and its chunks atomically
type DocumentSink interface {
	// Current returns the checksum and version of the current row for docID
	// ok is false when the document was never stored
	Current(ctx context.Context, docID string) (checksum string, version int, ok bool, err error)

	Persist(ctx context.Context, doc CanonDoc, chunks []Chunk) error
}

// QueueRepo is the shard scoped work queue
type QueueRepo interface {
	// Enqueue upserts items, DONE entries keep their status
	Enqueue(ctx context.Context, connector, shardKey string, items []ItemRef) (int, error)

	// CheckoutNext leases the oldest eligible entry, ok is false when none is eligible
	CheckoutNext(ctx context.Context, connector, shardKey string) (QueueEntry, bool, error)

	MarkDone(ctx context.Context, id int64) error

	// MarkRetry bumps attempts and schedules a retry after delay, or fails the entry
	// once attempts reach maxAttempts; it returns the resulting status
	MarkRetry(ctx context.Context, id int64, lastErr string, delay time.Duration, maxAttempts int) (Status, error)

	Counts(ctx context.Context, connector, shardKey string) (Counts, error)
	Shards(ctx context.Context, connector string) ([]ShardCounts, error)

	// Requeue moves IN_PROGRESS entries of a shard back to PENDING
	Requeue(ctx context.Context, connector, shardKey string) (int, error)
}

// RunRepo tracks run lifecycles
type RunRepo interface {
	StartRun(ctx context.Context, connector string, w Window, params map[string]any) (string, error)

	// Heartbeat stamps liveness; an empty lastItemKey keeps the previous one
	Heartbeat(ctx context.Context, runID, stage, lastItemKey string, processed, errors int) error

	// MarkStaleRuns flips in_progress runs with an old or missing heartbeat to stalled
	MarkStaleRuns(ctx context.Context, connector string, staleAfter time.Duration) (int, error)

	FinishRun(ctx context.Context, runID string, status RunStatus, processed, errors int) error
	GetRun(ctx context.Context, runID string) (Run, error)

	// ActiveRuns counts in_progress runs of a connector
	ActiveRuns(ctx context.Context, connector string) (int, error)
}

// ProgressRepo is the per connector cursor
type ProgressRepo interface {
	LoadProgress(ctx context.Context, connector string) (Progress, bool, error)
	SaveProgress(ctx context.Context, p Progress) error
}

// StateRepo is the full durable state of the orchestrator
type StateRepo interface {
	QueueRepo
	RunRepo
	ProgressRepo
}

// ShardLease guards a shard so only one worker drains it
// release must be called once the drain loop exits
type ShardLease func(ctx context.Context, shardKey string) (release func(), err error)

// RunRequest is one orchestrator invocation
type RunRequest struct {
	Window       Window
	Resume       bool
	BufferDays   int
	MaxAttempts  int
	MaxErrors    int
	StaleAfter   time.Duration
	Limit        int
	RequeueStuck bool
	Params       map[string]any
}

// RunResult is the outcome of one orchestrator invocation
type RunResult struct {
	RunID     string
	ShardKey  string
	Window    Window
	Status    RunStatus
	Listed    int
	Enqueued  int
	Processed int
	Unchanged int
	Errors    int
	Counts    Counts
	Report    ListReport
}
