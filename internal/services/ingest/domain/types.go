// Package domain holds the core types and ports of the ingestion orchestration layer
package domain

import (
	"fmt"
	"strings"
	"time"

	ptime "github.com/nuxxor/Mevzubase/internal/platform/time"
)

// ItemRef is a reference to one remote unit of work
// Key is stable across overlapping listings of the same decision
type ItemRef struct {
	Key      string            `json:"key" yaml:"key"`
	URL      string            `json:"url" yaml:"url"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Meta returns a metadata value or ""
func (r ItemRef) Meta(k string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[k]
}

// Status is the lifecycle state of a queue entry
type Status string

// Queue statuses
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusRetry      Status = "RETRY"
	StatusDone       Status = "DONE"
	StatusFailed     Status = "FAILED"
)

// Statuses lists every queue status in display order
var Statuses = []Status{StatusPending, StatusInProgress, StatusRetry, StatusDone, StatusFailed}

// QueueEntry is one persisted item of a shard queue
type QueueEntry struct {
	ID            int64
	Connector     string
	ShardKey      string
	ItemKey       string
	Status        Status
	Attempts      int
	NextAttemptAt *time.Time
	LastError     string
	Item          ItemRef
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Counts is a per status snapshot of one shard queue
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Retry      int `json:"retry"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Add bumps the counter for st by n
func (c *Counts) Add(st Status, n int) {
	switch st {
	case StatusPending:
		c.Pending += n
	case StatusInProgress:
		c.InProgress += n
	case StatusRetry:
		c.Retry += n
	case StatusDone:
		c.Done += n
	case StatusFailed:
		c.Failed += n
	}
}

// Total is the number of entries in the shard
func (c Counts) Total() int { return c.Pending + c.InProgress + c.Retry + c.Done + c.Failed }

// Finished counts entries that reached a terminal status
func (c Counts) Finished() int { return c.Done + c.Failed }

// Percent is the finished share in [0,100], 0 for an empty shard
func (c Counts) Percent() float64 {
	t := c.Total()
	if t == 0 {
		return 0
	}
	return float64(c.Finished()) * 100 / float64(t)
}

// Drained reports whether nothing is left to lease or in flight
func (c Counts) Drained() bool { return c.Pending == 0 && c.InProgress == 0 && c.Retry == 0 }

// ShardCounts pairs a shard key with its counts
type ShardCounts struct {
	ShardKey string `json:"shard_key"`
	Counts
}

// RunStatus is the lifecycle state of a run
type RunStatus string

// Run statuses
const (
	RunInProgress            RunStatus = "in_progress"
	RunStalled               RunStatus = "stalled"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithWarnings RunStatus = "completed_with_warnings"
	RunCancelled             RunStatus = "cancelled"
	RunFailed                RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected
func (s RunStatus) Terminal() bool { return s != RunInProgress && s != "" }

// ExitCode maps a finished run to a process exit status
func (s RunStatus) ExitCode() int {
	switch s {
	case RunCompleted, RunCompletedWithWarnings:
		return 0
	case RunCancelled:
		return 130
	default:
		return 1
	}
}

// Stage labels reported through heartbeats
const (
	StageList       = "list"
	StageQueue      = "queue"
	StageProcessing = "processing"
)

// Run is one execution of the orchestrator over one window
type Run struct {
	ID            string
	Connector     string
	Window        Window
	Params        map[string]any
	Stage         string
	LastItemKey   string
	Processed     int
	Errors        int
	StartedAt     time.Time
	LastHeartbeat *time.Time
	FinishedAt    *time.Time
	Status        RunStatus
}

// Progress is the per connector resume bookmark
type Progress struct {
	Connector        string
	ShardKey         string
	LastDecisionDate *time.Time
	LastDocID        string
	LastItemKey      string
	UpdatedAt        time.Time
}

// Window is a closed interval of calendar days in UTC
type Window struct {
	Start time.Time
	End   time.Time
}

const day = 24 * time.Hour

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time { return ptime.Day(t) }

// NewWindow builds a window from two dates, truncated to days
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: Day(start), End: Day(end)}
	if w.End.Before(w.Start) {
		return Window{}, fmt.Errorf("window end %s before start %s", w.End.Format(time.DateOnly), w.Start.Format(time.DateOnly))
	}
	return w, nil
}

// Days is the number of calendar days covered, inclusive
func (w Window) Days() int { return int(w.End.Sub(w.Start)/day) + 1 }

// Splittable reports whether the window spans at least two days
func (w Window) Splittable() bool { return w.End.After(w.Start) }

// Split bisects the window at its midpoint day into [start,mid] and [mid+1,end]
func (w Window) Split() (Window, Window) {
	mid := w.Start.Add(time.Duration((w.Days()-1)/2) * day)
	return Window{Start: w.Start, End: mid}, Window{Start: mid.Add(day), End: w.End}
}

// Contains reports whether the day of t falls inside w
func (w Window) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(w.Start) && !d.After(w.End)
}

// String renders start->end as ISO dates
func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + "->" + w.End.Format(time.DateOnly)
}

// ShardKey identifies one planned window of a connector
func ShardKey(connector string, w Window) string { return connector + ":" + w.String() }

// ParseShardKey splits connector:YYYY-MM-DD->YYYY-MM-DD
func ParseShardKey(s string) (string, Window, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return "", Window{}, fmt.Errorf("shard key %q: missing connector", s)
	}
	a, b, ok := strings.Cut(s[i+1:], "->")
	if !ok {
		return "", Window{}, fmt.Errorf("shard key %q: missing range", s)
	}
	start, err := time.Parse(time.DateOnly, a)
	if err != nil {
		return "", Window{}, fmt.Errorf("shard key %q: %w", s, err)
	}
	end, err := time.Parse(time.DateOnly, b)
	if err != nil {
		return "", Window{}, fmt.Errorf("shard key %q: %w", s, err)
	}
	w, err := NewWindow(start, end)
	if err != nil {
		return "", Window{}, err
	}
	return s[:i], w, nil
}

// RawPayload is the fetched, unparsed body of one item
type RawPayload struct {
	Ref         ItemRef
	Body        []byte
	ContentType string
	FetchedAt   time.Time
}

// CanonDoc is the canonical document produced by a source
type CanonDoc struct {
	DocID        string
	Source       string
	DocType      string
	Title        string
	URL          string
	Court        string
	Chamber      string
	DecisionDate *time.Time
	Text         string
	Checksum     string
	Version      int
	IsCurrent    bool
	Meta         map[string]string
}

// Quality flags recorded in CanonDoc.Meta["quality_flag"]
const (
	QualityOK     = "ok"
	QualityNoText = "no_text"
)

// Chunk is one indexable fragment of a document version
type Chunk struct {
	ChunkID     string
	DocID       string
	Version     int
	Ordinal     int
	Section     string
	ParagraphNo string
	Content     string
	ContentHash string
	TokenCount  int
	Anchor      string
}

// Warning is a planning anomaly surfaced with the run outcome
type Warning struct {
	Window   Window
	Kind     string
	Declared int
	Observed int
}

// Planner warning kinds
const (
	WarnShortfall = "shortfall"
	WarnEmptyPage = "empty_page"
	WarnOverCap   = "over_cap"
)

func (w Warning) String() string {
	return fmt.Sprintf("%s %s declared=%d observed=%d", w.Kind, w.Window, w.Declared, w.Observed)
}

// ListReport summarizes one listing pass
type ListReport struct {
	Windows  []Window
	Warnings []Warning
	Declared int
	Observed int
}

// Shortfall reports whether the remote declared more rows than were observed
func (l ListReport) Shortfall() bool { return l.Declared > l.Observed }

// Merge folds o into l
func (l *ListReport) Merge(o ListReport) {
	l.Windows = append(l.Windows, o.Windows...)
	l.Warnings = append(l.Warnings, o.Warnings...)
	l.Declared += o.Declared
	l.Observed += o.Observed
}
