package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteguard/siteguard-core/internal/config"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/queue"
	"github.com/siteguard/siteguard-core/internal/storage"
)

type captureSink struct {
	ch chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan string, 8)}
}

func (s *captureSink) HandleResult(_ context.Context, resultID string) {
	s.ch <- resultID
}

func (s *captureSink) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-s.ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("alert handoff never arrived")
		return ""
	}
}

func passingStrategy() Strategy {
	return StrategyFunc(func(context.Context, *models.Check, *models.Site) (*models.ExecutionOutcome, error) {
		return &models.ExecutionOutcome{Status: models.StatusPassed, Score: 100}, nil
	})
}

func seedCheckAndSite(store *storage.MemoryStore, checkType models.CheckType, enabled bool) (*models.Check, *models.CheckJob) {
	store.PutSite(&models.Site{ID: "site-1", OrganizationID: "org-1", URL: "https://example.com"})
	check := &models.Check{
		ID:             "c1",
		OrganizationID: "org-1",
		SiteID:         "site-1",
		Type:           checkType,
		Weight:         1,
		Enabled:        enabled,
	}
	store.PutCheck(check)
	job := &models.CheckJob{
		ID:             "j1",
		CheckID:        "c1",
		OrganizationID: "org-1",
		SiteID:         "site-1",
		Trigger:        models.TriggerManual,
		EnqueuedAt:     time.Now(),
	}
	return check, job
}

func newTestPool(store storage.Store, q queue.Queue, strategy Strategy, sink AlertSink) *Pool {
	d := NewDispatcher(nil)
	if strategy != nil {
		d.Register(models.CheckTypeHTTP, strategy)
	}
	return NewPool(config.WorkerConfig{Concurrency: 1}, q, store, d, NewRecorder(store, nil), sink, nil)
}

func TestProcessSuccessPersistsAndHandsOff(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})
	sink := newCaptureSink()

	p := newTestPool(store, q, passingStrategy(), sink)
	p.process(context.Background(), job)

	results := store.Results("c1")
	require.Len(t, results, 1)
	require.Equal(t, models.StatusPassed, results[0].Status)
	require.Equal(t, results[0].ID, sink.wait(t))

	site, err := store.GetSite(context.Background(), "org-1", "site-1")
	require.NoError(t, err)
	require.Equal(t, float64(100), site.HealthScore)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Completed)
}

func TestProcessDisabledCheckSkipsWithoutResult(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, false)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})

	executed := false
	strategy := StrategyFunc(func(context.Context, *models.Check, *models.Site) (*models.ExecutionOutcome, error) {
		executed = true
		return &models.ExecutionOutcome{Status: models.StatusPassed}, nil
	})

	p := newTestPool(store, q, strategy, nil)
	p.process(context.Background(), job)

	require.False(t, executed, "disabled check must not execute")
	require.Empty(t, store.Results("c1"), "skipped run must leave no result row")

	stats, _ := q.Stats(context.Background())
	require.Equal(t, int64(1), stats.Completed)
}

func TestProcessAgentExecutedTypeDefers(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeSystemHealth, true)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})

	p := newTestPool(store, q, passingStrategy(), nil)
	p.process(context.Background(), job)

	require.Empty(t, store.Results("c1"))
	stats, _ := q.Stats(context.Background())
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(0), stats.Failed)
}

func TestProcessDeletedCheckCompletesQuietly(t *testing.T) {
	store := storage.NewMemory()
	store.PutSite(&models.Site{ID: "site-1", OrganizationID: "org-1"})
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})

	job := &models.CheckJob{ID: "j1", CheckID: "ghost", OrganizationID: "org-1", SiteID: "site-1"}
	p := newTestPool(store, q, passingStrategy(), nil)
	p.process(context.Background(), job)

	stats, _ := q.Stats(context.Background())
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(0), stats.Failed)
}

func TestProcessStrategyErrorBecomesErrorResult(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})
	sink := newCaptureSink()

	strategy := StrategyFunc(func(context.Context, *models.Check, *models.Site) (*models.ExecutionOutcome, error) {
		return nil, errors.New("probe misconfigured")
	})

	p := newTestPool(store, q, strategy, sink)
	p.process(context.Background(), job)

	results := store.Results("c1")
	require.Len(t, results, 1)
	require.Equal(t, models.StatusError, results[0].Status)
	require.Contains(t, results[0].Message, "probe misconfigured")
	sink.wait(t)

	// A strategy failure is a completed job, not a retryable one.
	stats, _ := q.Stats(context.Background())
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(0), stats.Delayed)
}

func TestProcessStrategyPanicBecomesErrorResult(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})

	strategy := StrategyFunc(func(context.Context, *models.Check, *models.Site) (*models.ExecutionOutcome, error) {
		panic("boom")
	})

	p := newTestPool(store, q, strategy, nil)
	p.process(context.Background(), job)

	results := store.Results("c1")
	require.Len(t, results, 1)
	require.Equal(t, models.StatusError, results[0].Status)
	require.Contains(t, results[0].Message, "boom")
}

func TestProcessUnknownTypeBecomesErrorResult(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{})

	// Dispatcher with no strategies at all.
	p := newTestPool(store, q, nil, nil)
	p.process(context.Background(), job)

	results := store.Results("c1")
	require.Len(t, results, 1)
	require.Equal(t, models.StatusError, results[0].Status)
	require.Contains(t, results[0].Message, "no strategy registered")
}

type flakyStore struct {
	*storage.MemoryStore
	err error
}

func (f *flakyStore) GetCheck(context.Context, string, string) (*models.Check, error) {
	return nil, f.err
}

func TestProcessInfraFailureRetriesWithBackoff(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemory(), err: errors.New("store down")}
	q := queue.NewMemory(queue.RetryPolicy{MaxAttempts: 3, Base: time.Second}, queue.RetentionPolicy{KeepFailed: 10})

	job := &models.CheckJob{ID: "j1", CheckID: "c1", OrganizationID: "org-1", SiteID: "site-1"}
	p := newTestPool(store, q, passingStrategy(), nil)
	p.process(context.Background(), job)

	stats, _ := q.Stats(context.Background())
	require.Equal(t, int64(1), stats.Delayed, "infra failure should schedule a delayed retry")
	require.Equal(t, int64(0), stats.Completed)
}
