package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

const (
	readyKeyPrefix = "queue:ready:"
	delayedKey     = "queue:delayed"
	completedKey   = "queue:completed"
	failedKey      = "queue:failed"

	// promoteBatch bounds how many due delayed jobs move per dequeue pass.
	promoteBatch = 100
)

// redisQueue implements Queue on Redis lists (ready, per priority) and a
// sorted set (delayed, scored by ready-at time).
type redisQueue struct {
	client    *redis.Client
	retry     RetryPolicy
	retention RetentionPolicy
	log       logger.Logger
}

func NewRedis(client *redis.Client, retry RetryPolicy, retention RetentionPolicy, log logger.Logger) Queue {
	if log == nil {
		log = logger.NewNop()
	}
	return &redisQueue{client: client, retry: retry, retention: retention, log: log}
}

func readyKey(p Priority) string { return readyKeyPrefix + string(p) }

func (q *redisQueue) Enqueue(ctx context.Context, job *models.CheckJob, opts ...Option) error {
	o := buildOptions(opts)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}

	if o.Delay > 0 {
		readyAt := time.Now().Add(o.Delay)
		err = q.client.ZAdd(ctx, delayedKey, &redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: payload,
		}).Err()
	} else {
		err = q.client.LPush(ctx, readyKey(o.Priority), payload).Err()
	}
	if err != nil {
		monitoring.RecordQueueOperation("enqueue", "error")
		return err
	}
	monitoring.RecordQueueOperation("enqueue", "success")
	return nil
}

func (q *redisQueue) EnqueueBulk(ctx context.Context, jobs []*models.CheckJob) error {
	if len(jobs) == 0 {
		return nil
	}
	payloads := make([]interface{}, 0, len(jobs))
	for _, job := range jobs {
		p, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		payloads = append(payloads, p)
	}
	if err := q.client.LPush(ctx, readyKey(PriorityDefault), payloads...).Err(); err != nil {
		monitoring.RecordQueueOperation("enqueue_bulk", "error")
		return err
	}
	monitoring.RecordQueueOperation("enqueue_bulk", "success")
	return nil
}

// promoteDue moves delayed jobs whose ready time has passed onto the
// default ready list. Runs at the top of every dequeue pass.
func (q *redisQueue) promoteDue(ctx context.Context) {
	now := float64(time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: promoteBatch,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, m := range members {
		// ZRem first so two consumers cannot both promote the same job.
		removed, err := q.client.ZRem(ctx, delayedKey, m).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey(PriorityDefault), m).Err(); err != nil {
			q.log.Error("failed to promote delayed job", "error", err)
		}
	}
}

func (q *redisQueue) Dequeue(ctx context.Context) (*models.CheckJob, error) {
	q.promoteDue(ctx)

	keys := make([]string, 0, len(priorityOrder))
	for _, p := range priorityOrder {
		keys = append(keys, readyKey(p))
	}
	res, err := q.client.BRPop(ctx, time.Second, keys...).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		monitoring.RecordQueueOperation("dequeue", "error")
		return nil, err
	}
	// BRPOP returns [key, value].
	var job models.CheckJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		monitoring.RecordQueueOperation("dequeue", "error")
		return nil, fmt.Errorf("decode dequeued job: %w", err)
	}
	monitoring.RecordQueueOperation("dequeue", "success")
	return &job, nil
}

func (q *redisQueue) Complete(ctx context.Context, job *models.CheckJob) error {
	return q.recordFinished(ctx, completedKey, q.retention.KeepCompleted, &FinishedJob{
		Job:        job,
		Status:     "completed",
		FinishedAt: time.Now(),
	})
}

func (q *redisQueue) Fail(ctx context.Context, job *models.CheckJob, cause error) (bool, error) {
	if job.RetryCount+1 < q.retry.MaxAttempts {
		retry := *job
		retry.RetryCount++
		retry.Trigger = models.TriggerRetry
		if err := q.Enqueue(ctx, &retry, WithDelay(q.retry.backoff(job.RetryCount))); err != nil {
			return false, err
		}
		monitoring.RecordQueueOperation("retry", "success")
		return true, nil
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := q.recordFinished(ctx, failedKey, q.retention.KeepFailed, &FinishedJob{
		Job:        job,
		Status:     "failed",
		Error:      msg,
		FinishedAt: time.Now(),
	})
	return false, err
}

func (q *redisQueue) recordFinished(ctx context.Context, key string, keep int, record *FinishedJob) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	if keep > 0 {
		pipe.LTrim(ctx, key, 0, int64(keep-1))
	}
	if q.retention.MaxAge > 0 {
		pipe.Expire(ctx, key, q.retention.MaxAge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		monitoring.RecordQueueOperation("record_finished", "error")
		return err
	}
	monitoring.RecordQueueOperation("record_finished", "success")
	return nil
}

func (q *redisQueue) RemovePendingAdHoc(ctx context.Context, checkID string) (int, error) {
	removed := 0

	for _, p := range priorityOrder {
		key := readyKey(p)
		members, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, err
		}
		for _, m := range members {
			var job models.CheckJob
			if err := json.Unmarshal([]byte(m), &job); err != nil {
				continue
			}
			// Scheduler-owned jobs survive: a disable/delete action must
			// never strip the recurring slot.
			if job.CheckID != checkID || job.SchedulerOwned() {
				continue
			}
			n, err := q.client.LRem(ctx, key, 1, m).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
	}

	members, err := q.client.ZRange(ctx, delayedKey, 0, -1).Result()
	if err != nil {
		return removed, err
	}
	for _, m := range members {
		var job models.CheckJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			continue
		}
		if job.CheckID != checkID || job.SchedulerOwned() {
			continue
		}
		n, err := q.client.ZRem(ctx, delayedKey, m).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}

	monitoring.RecordQueueOperation("remove_adhoc", "success")
	return removed, nil
}

func (q *redisQueue) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Ready: make(map[Priority]int64)}
	for _, p := range priorityOrder {
		n, err := q.client.LLen(ctx, readyKey(p)).Result()
		if err != nil {
			return nil, err
		}
		stats.Ready[p] = n
	}
	var err error
	if stats.Delayed, err = q.client.ZCard(ctx, delayedKey).Result(); err != nil {
		return nil, err
	}
	if stats.Completed, err = q.client.LLen(ctx, completedKey).Result(); err != nil {
		return nil, err
	}
	if stats.Failed, err = q.client.LLen(ctx, failedKey).Result(); err != nil {
		return nil, err
	}
	return stats, nil
}
