// Package domain holds the batch driver types and ports
package domain

import (
	"context"
	"time"

	ingest "github.com/nuxxor/Mevzubase/internal/services/ingest/domain"
)

// Job is one window handed to a child ingest run
type Job struct {
	Connector string
	Window    ingest.Window
}

// ShardKey is the queue shard the child drains
func (j Job) ShardKey() string { return ingest.ShardKey(j.Connector, j.Window) }

// Launcher runs one job to completion and returns the child exit code
// err is set only when the child could not be started or waited on
type Launcher interface {
	Launch(ctx context.Context, j Job) (exitCode int, err error)
}

// State is where a job sits in the driver
type State string

// Job states
const (
	StateQueued  State = "queued"
	StateActive  State = "active"
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateStopped State = "stopped"
)

// Row is one line of the monitor table
type Row struct {
	Job      Job
	State    State
	Counts   ingest.Counts
	ExitCode int
	Err      string
}

// Outcome is the final record of a launched job
type Outcome struct {
	Job      Job
	ExitCode int
	Err      error
	Started  time.Time
	Finished time.Time
}

// Failed reports whether the child did not finish cleanly
func (o Outcome) Failed() bool { return o.Err != nil || o.ExitCode != 0 }

// Summary is the result of a batch
type Summary struct {
	Outcomes []Outcome
	Rows     []Row
}

// Failed lists outcomes of jobs that did not finish cleanly, in window order
func (s Summary) Failed() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// ExitCode is 0 when every child succeeded, 130 when any was cancelled, otherwise 1
func (s Summary) ExitCode() int {
	code := 0
	for _, o := range s.Failed() {
		if o.ExitCode == 130 {
			return 130
		}
		code = 1
	}
	return code
}
