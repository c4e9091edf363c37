// Package jobs implements the durable shell-command queue: the SQLite
// store, the claim/execute/outcome lifecycle, and the worker pool.
package jobs

import (
	"errors"
	"time"
)

// JobState is the lifecycle state of a Job. Terminal states are
// StateCompleted and StateDead; StateDead is re-armed only via RetryDead.
type JobState string

const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateDead       JobState = "dead"
)

// Job mirrors a row of the jobs table.
type Job struct {
	ID              string
	Command         string
	State           JobState
	Attempts        int
	MaxRetries      int
	BaseBackoff     float64
	NextRunAt       time.Time
	LastError       *string
	LastOutput      *string
	DurationSeconds *float64
	TimeoutSeconds  int
	Priority        int
	LockedBy        *string
	LockedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EnqueueOpts carries the optional knobs accepted by Enqueue.
// TimeoutSeconds, MaxRetries and BaseBackoff fall back to the configured
// defaults when unset; Priority, Delay and RunAt are used as given (zero
// means priority 0 and no scheduling).
type EnqueueOpts struct {
	Priority int
	// Delay schedules the job Delay from now. Mutually exclusive with RunAt.
	Delay time.Duration
	// RunAt schedules the job at an absolute time. Mutually exclusive with Delay.
	RunAt time.Time
	// TimeoutSeconds overrides the configured default_timeout when non-zero.
	TimeoutSeconds int
	// MaxRetries overrides the configured max_retries when non-nil.
	MaxRetries *int
	// BaseBackoff overrides the configured base_backoff when non-nil.
	BaseBackoff *float64
}

// QueueStats is the aggregate job count by state, as returned by GetCounts.
type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Dead       int
}

// Sentinel errors returned by Enqueue and the CLI layer built on it.
var (
	ErrInvalidArgs = errors.New("jobs: invalid arguments")
	ErrInvalidTime = errors.New("jobs: invalid run-at/delay combination")
	ErrNotFound    = errors.New("jobs: job not found")
)

// JobFailedMessage is the literal error text recorded on a job that failed
// and is being retried. It never varies with the underlying cause: a
// non-zero exit, a timeout and a spawn failure all record this same text,
// and the "Timeout after N seconds" or spawn-error message is kept only in
// last_output.
const JobFailedMessage = "Job failed"

// MaxRetriesExceededMessage is recorded as last_error when a job is moved
// to the dead-letter state after exhausting its retry budget.
const MaxRetriesExceededMessage = "Max retries exceeded"
