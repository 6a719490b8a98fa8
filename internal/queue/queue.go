// Package queue implements the durable check-job queue and the recurring
// schedule registry. The Redis backend is authoritative for queued work;
// the in-memory backend mirrors its semantics for tests and local runs.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

// ErrEmpty is returned by Dequeue when no job is ready. Workers treat it as
// a signal to poll again, never as a failure.
var ErrEmpty = errors.New("queue: no job ready")

// Priority orders ready jobs. Higher priorities are always drained first.
type Priority string

const (
	PriorityHigh    Priority = "high"
	PriorityDefault Priority = "default"
	PriorityLow     Priority = "low"
)

// priorityOrder is the drain order used by consumers.
var priorityOrder = []Priority{PriorityHigh, PriorityDefault, PriorityLow}

// EnqueueOptions control placement of a single job.
type EnqueueOptions struct {
	Priority Priority
	Delay    time.Duration
}

type Option func(*EnqueueOptions)

func WithPriority(p Priority) Option {
	return func(o *EnqueueOptions) { o.Priority = p }
}

func WithDelay(d time.Duration) Option {
	return func(o *EnqueueOptions) { o.Delay = d }
}

func buildOptions(opts []Option) EnqueueOptions {
	o := EnqueueOptions{Priority: PriorityDefault}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RetryPolicy bounds job-level retries. Delay for attempt n (0-based) is
// Base << n, capped at Max.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// RetentionPolicy bounds how many finished job records are kept and for
// how long, so observability data stays bounded.
type RetentionPolicy struct {
	KeepCompleted int
	KeepFailed    int
	MaxAge        time.Duration
}

// Stats is a point-in-time snapshot of queue depth.
type Stats struct {
	Ready     map[Priority]int64 `json:"ready"`
	Delayed   int64              `json:"delayed"`
	Completed int64              `json:"completed"`
	Failed    int64              `json:"failed"`
}

// FinishedJob is the bounded retention record of a completed or failed job.
type FinishedJob struct {
	Job        *models.CheckJob `json:"job"`
	Status     string           `json:"status"` // completed | failed
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Queue is the durable job queue consumed by the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job *models.CheckJob, opts ...Option) error
	EnqueueBulk(ctx context.Context, jobs []*models.CheckJob) error

	// Dequeue returns the next ready job, promoting due delayed jobs
	// first. It returns ErrEmpty when nothing is ready.
	Dequeue(ctx context.Context) (*models.CheckJob, error)

	// Complete records a finished job in the bounded retention window.
	Complete(ctx context.Context, job *models.CheckJob) error

	// Fail either re-enqueues the job with backoff (returning true) or,
	// once attempts are exhausted, records it as failed (returning false).
	Fail(ctx context.Context, job *models.CheckJob, cause error) (retried bool, err error)

	// RemovePendingAdHoc cancels waiting and delayed jobs for the check
	// that are not scheduler-owned. Returns the number removed.
	RemovePendingAdHoc(ctx context.Context, checkID string) (int, error)

	Stats(ctx context.Context) (*Stats, error)
}
