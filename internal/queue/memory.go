package queue

import (
	"context"
	"sync"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

// memoryQueue mirrors the Redis queue semantics in-process: per-priority
// ready lists, a delayed set promoted on dequeue, bounded retention of
// finished jobs, and retry-with-backoff.
type memoryQueue struct {
	mu        sync.Mutex
	ready     map[Priority][]*models.CheckJob
	delayed   []delayedJob
	completed []*FinishedJob
	failed    []*FinishedJob
	retry     RetryPolicy
	retention RetentionPolicy
	now       func() time.Time
}

type delayedJob struct {
	job     *models.CheckJob
	readyAt time.Time
}

func NewMemory(retry RetryPolicy, retention RetentionPolicy) Queue {
	return &memoryQueue{
		ready:     make(map[Priority][]*models.CheckJob),
		retry:     retry,
		retention: retention,
		now:       time.Now,
	}
}

// NewMemoryWithClock lets tests control delayed-job promotion.
func NewMemoryWithClock(retry RetryPolicy, retention RetentionPolicy, now func() time.Time) Queue {
	return &memoryQueue{
		ready:     make(map[Priority][]*models.CheckJob),
		retry:     retry,
		retention: retention,
		now:       now,
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, job *models.CheckJob, opts ...Option) error {
	o := buildOptions(opts)
	cp := *job
	q.mu.Lock()
	defer q.mu.Unlock()
	if o.Delay > 0 {
		q.delayed = append(q.delayed, delayedJob{job: &cp, readyAt: q.now().Add(o.Delay)})
		return nil
	}
	q.ready[o.Priority] = append(q.ready[o.Priority], &cp)
	return nil
}

func (q *memoryQueue) EnqueueBulk(ctx context.Context, jobs []*models.CheckJob) error {
	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (q *memoryQueue) promoteDueLocked() {
	now := q.now()
	var still []delayedJob
	for _, d := range q.delayed {
		if d.readyAt.After(now) {
			still = append(still, d)
			continue
		}
		q.ready[PriorityDefault] = append(q.ready[PriorityDefault], d.job)
	}
	q.delayed = still
}

func (q *memoryQueue) Dequeue(context.Context) (*models.CheckJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteDueLocked()
	for _, p := range priorityOrder {
		if list := q.ready[p]; len(list) > 0 {
			job := list[0]
			q.ready[p] = list[1:]
			return job, nil
		}
	}
	return nil, ErrEmpty
}

func (q *memoryQueue) Complete(_ context.Context, job *models.CheckJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = prependBounded(q.completed, &FinishedJob{
		Job:        job,
		Status:     "completed",
		FinishedAt: q.now(),
	}, q.retention.KeepCompleted)
	return nil
}

func (q *memoryQueue) Fail(ctx context.Context, job *models.CheckJob, cause error) (bool, error) {
	if job.RetryCount+1 < q.retry.MaxAttempts {
		retry := *job
		retry.RetryCount++
		retry.Trigger = models.TriggerRetry
		if err := q.Enqueue(ctx, &retry, WithDelay(q.retry.backoff(job.RetryCount))); err != nil {
			return false, err
		}
		return true, nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = prependBounded(q.failed, &FinishedJob{
		Job:        job,
		Status:     "failed",
		Error:      msg,
		FinishedAt: q.now(),
	}, q.retention.KeepFailed)
	return false, nil
}

func (q *memoryQueue) RemovePendingAdHoc(_ context.Context, checkID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for p, list := range q.ready {
		var keep []*models.CheckJob
		for _, job := range list {
			if job.CheckID == checkID && !job.SchedulerOwned() {
				removed++
				continue
			}
			keep = append(keep, job)
		}
		q.ready[p] = keep
	}
	var still []delayedJob
	for _, d := range q.delayed {
		if d.job.CheckID == checkID && !d.job.SchedulerOwned() {
			removed++
			continue
		}
		still = append(still, d)
	}
	q.delayed = still
	return removed, nil
}

func (q *memoryQueue) Stats(context.Context) (*Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &Stats{Ready: make(map[Priority]int64)}
	for _, p := range priorityOrder {
		stats.Ready[p] = int64(len(q.ready[p]))
	}
	stats.Delayed = int64(len(q.delayed))
	stats.Completed = int64(len(q.completed))
	stats.Failed = int64(len(q.failed))
	return stats, nil
}

func prependBounded(list []*FinishedJob, record *FinishedJob, keep int) []*FinishedJob {
	list = append([]*FinishedJob{record}, list...)
	if keep > 0 && len(list) > keep {
		list = list[:keep]
	}
	return list
}
