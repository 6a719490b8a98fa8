package queue

import (
	"context"
	"testing"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/cache"
)

func TestScheduleRecurringIsIdempotent(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{})
	r := NewRecurringRegistry(q, storage.NewMemory(), nil)

	template := &models.CheckJob{CheckID: "c1", OrganizationID: "org-1", SiteID: "site-1"}

	if err := r.ScheduleRecurring("c1", "*/5 * * * *", template); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if err := r.ScheduleRecurring("c1", "*/10 * * * *", template); err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	regs := r.Registrations()
	if len(regs) != 1 {
		t.Fatalf("registrations = %d, want exactly 1", len(regs))
	}
	if regs[0].Schedule != "*/10 * * * *" {
		t.Fatalf("active schedule = %s, want the most recent expression", regs[0].Schedule)
	}
}

func TestScheduleRecurringRejectsMalformedCron(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{})
	r := NewRecurringRegistry(q, storage.NewMemory(), nil)

	err := r.ScheduleRecurring("c1", "not a cron", &models.CheckJob{CheckID: "c1"})
	if err == nil {
		t.Fatal("expected malformed cron to be rejected")
	}
	if len(r.Registrations()) != 0 {
		t.Fatal("rejected schedule must not register")
	}
}

func TestRemoveRecurringIsIdempotent(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{})
	r := NewRecurringRegistry(q, storage.NewMemory(), nil)

	if err := r.ScheduleRecurring("c1", "*/5 * * * *", &models.CheckJob{CheckID: "c1"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	r.RemoveRecurring("c1")
	r.RemoveRecurring("c1") // second removal is a no-op

	if len(r.Registrations()) != 0 {
		t.Fatal("expected no registrations after removal")
	}
}

func TestReconcileAllAddsAndPrunes(t *testing.T) {
	store := storage.NewMemory()
	store.PutCheck(&models.Check{
		ID: "c1", OrganizationID: "org-1", SiteID: "site-1",
		Type: models.CheckTypeHTTP, Schedule: "*/5 * * * *", Enabled: true,
	})
	store.PutCheck(&models.Check{
		ID: "c2", OrganizationID: "org-1", SiteID: "site-1",
		Type: models.CheckTypeHTTP, Schedule: "*/10 * * * *", Enabled: true,
	})

	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{})
	r := NewRecurringRegistry(q, store, nil)

	// A stale slot for a check that no longer exists must be pruned.
	if err := r.ScheduleRecurring("ghost", "* * * * *", &models.CheckJob{CheckID: "ghost"}); err != nil {
		t.Fatalf("schedule ghost: %v", err)
	}

	n, err := r.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("reconciled = %d, want 2", n)
	}

	regs := r.Registrations()
	if len(regs) != 2 {
		t.Fatalf("registrations = %d, want 2", len(regs))
	}
	for _, reg := range regs {
		if reg.CheckID == "ghost" {
			t.Fatal("stale registration survived reconcile")
		}
	}
}

func TestProducerManualDedup(t *testing.T) {
	q := NewMemory(RetryPolicy{MaxAttempts: 1}, RetentionPolicy{})
	p := NewProducer(q, cache.NewMemory(time.Minute), 30*time.Second, nil)

	check := &models.Check{ID: "c1", OrganizationID: "org-1", SiteID: "site-1", Type: models.CheckTypeHTTP, Enabled: true}

	ctx := context.Background()
	enqueued, err := p.TriggerManual(ctx, check)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if !enqueued {
		t.Fatal("first trigger should enqueue")
	}

	enqueued, err = p.TriggerManual(ctx, check)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if enqueued {
		t.Fatal("duplicate trigger inside the dedup window should be suppressed")
	}

	stats, _ := q.Stats(ctx)
	if stats.Ready[PriorityHigh] != 1 {
		t.Fatalf("ready high = %d, want 1", stats.Ready[PriorityHigh])
	}
}
