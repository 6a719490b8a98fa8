package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

func testJob(id, checkID string, trigger models.TriggerReason) *models.CheckJob {
	return &models.CheckJob{
		ID:             id,
		CheckID:        checkID,
		OrganizationID: "org-1",
		SiteID:         "site-1",
		Trigger:        trigger,
		EnqueuedAt:     time.Now(),
	}
}

func TestMemoryQueuePriorityOrder(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 3, Base: time.Second}, RetentionPolicy{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("low", "c1", models.TriggerManual), WithPriority(PriorityLow)); err != nil {
		t.Fatalf("enqueue low: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("default", "c2", models.TriggerManual)); err != nil {
		t.Fatalf("enqueue default: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("high", "c3", models.TriggerManual), WithPriority(PriorityHigh)); err != nil {
		t.Fatalf("enqueue high: %v", err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		got = append(got, job.ID)
	}
	want := []string{"high", "default", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain order = %v, want %v", got, want)
		}
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty on drained queue, got %v", err)
	}
}

func TestMemoryQueueDelayedPromotion(t *testing.T) {
	now := time.Now()
	q := NewMemoryWithClock(RetryPolicy{MaxAttempts: 3, Base: time.Second}, RetentionPolicy{},
		func() time.Time { return now })
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("j1", "c1", models.TriggerManual), WithDelay(30*time.Second)); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("delayed job dequeued early, err=%v", err)
	}

	now = now.Add(31 * time.Second)
	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after delay: %v", err)
	}
	if job.ID != "j1" {
		t.Fatalf("got job %s, want j1", job.ID)
	}
}

func TestMemoryQueueRetryWithBackoffThenFailure(t *testing.T) {
	now := time.Now()
	q := NewMemoryWithClock(RetryPolicy{MaxAttempts: 2, Base: 2 * time.Second}, RetentionPolicy{KeepFailed: 10},
		func() time.Time { return now })
	ctx := context.Background()

	job := testJob("j1", "c1", models.TriggerSchedule)
	retried, err := q.Fail(ctx, job, errors.New("store down"))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !retried {
		t.Fatal("first failure should retry")
	}

	// Retry is delayed, not immediately ready.
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatal("retry should be delayed")
	}
	now = now.Add(3 * time.Second)
	retryJob, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue retry: %v", err)
	}
	if retryJob.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", retryJob.RetryCount)
	}
	if retryJob.Trigger != models.TriggerRetry {
		t.Fatalf("retry trigger = %s, want retry", retryJob.Trigger)
	}

	// Attempts exhausted: record as failed.
	retried, err = q.Fail(ctx, retryJob, errors.New("still down"))
	if err != nil {
		t.Fatalf("final fail: %v", err)
	}
	if retried {
		t.Fatal("exhausted job must not retry")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed count = %d, want 1", stats.Failed)
	}
}

func TestMemoryQueueRetentionBound(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{KeepCompleted: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Complete(ctx, testJob("j", "c1", models.TriggerSchedule)); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 3 {
		t.Fatalf("completed retention = %d, want 3", stats.Completed)
	}
}

func TestRemovePendingAdHocSkipsSchedulerOwned(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 3, Base: time.Second}, RetentionPolicy{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob("manual", "c1", models.TriggerManual)); err != nil {
		t.Fatalf("enqueue manual: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("scheduled", "c1", models.TriggerSchedule)); err != nil {
		t.Fatalf("enqueue scheduled: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("delayed-manual", "c1", models.TriggerManual), WithDelay(time.Minute)); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}
	if err := q.Enqueue(ctx, testJob("other", "c2", models.TriggerManual)); err != nil {
		t.Fatalf("enqueue other: %v", err)
	}

	removed, err := q.RemovePendingAdHoc(ctx, "c1")
	if err != nil {
		t.Fatalf("remove pending: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	// The scheduler-owned job and the unrelated check survive.
	var left []string
	for {
		job, err := q.Dequeue(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		left = append(left, job.ID)
	}
	if len(left) != 2 {
		t.Fatalf("remaining jobs = %v, want scheduled and other", left)
	}
	for _, id := range left {
		if id != "scheduled" && id != "other" {
			t.Fatalf("unexpected surviving job %s", id)
		}
	}
}
