package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
)

func TestRecordSkipPersistWritesNothing(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)

	r := NewRecorder(store, nil)
	id, err := r.Record(context.Background(), job, &models.ExecutionOutcome{
		Status:      models.StatusPending,
		SkipPersist: true,
	})
	require.NoError(t, err)
	require.Empty(t, id)
	require.Empty(t, store.Results("c1"))
}

func TestRecordDropsResultForDeletedCheck(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	store.DeleteCheck("c1")

	r := NewRecorder(store, nil)
	id, err := r.Record(context.Background(), job, &models.ExecutionOutcome{Status: models.StatusPassed, Score: 100})
	require.NoError(t, err, "mid-flight deletion must be benign")
	require.Empty(t, id)
}

func TestRecordDropsResultForDisabledCheck(t *testing.T) {
	store := storage.NewMemory()
	check, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	check.Enabled = false
	store.PutCheck(check)

	r := NewRecorder(store, nil)
	id, err := r.Record(context.Background(), job, &models.ExecutionOutcome{Status: models.StatusCritical, Score: 0})
	require.NoError(t, err, "disablement mid-flight must be benign")
	require.Empty(t, id)
	require.Empty(t, store.Results("c1"))
}

func TestRecordTreatsForeignKeyViolationAsBenign(t *testing.T) {
	store := storage.NewMemory()
	_, job := seedCheckAndSite(store, models.CheckTypeHTTP, true)
	// Check survives but the owning site is gone: the insert trips the
	// foreign key and the result is dropped without error.
	store.DeleteSite("site-1")

	r := NewRecorder(store, nil)
	id, err := r.Record(context.Background(), job, &models.ExecutionOutcome{Status: models.StatusPassed, Score: 100})
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestHealthScoreIsWeightedAverage(t *testing.T) {
	store := storage.NewMemory()
	store.PutSite(&models.Site{ID: "site-1", OrganizationID: "org-1", URL: "https://example.com"})
	store.PutCheck(&models.Check{
		ID: "heavy", OrganizationID: "org-1", SiteID: "site-1",
		Type: models.CheckTypeHTTP, Weight: 3, Enabled: true,
	})
	store.PutCheck(&models.Check{
		ID: "light", OrganizationID: "org-1", SiteID: "site-1",
		Type: models.CheckTypeDNS, Weight: 1, Enabled: true,
	})

	r := NewRecorder(store, nil)
	ctx := context.Background()

	jobFor := func(checkID string) *models.CheckJob {
		return &models.CheckJob{
			ID: "j-" + checkID, CheckID: checkID,
			OrganizationID: "org-1", SiteID: "site-1",
			EnqueuedAt: time.Now(),
		}
	}

	_, err := r.Record(ctx, jobFor("heavy"), &models.ExecutionOutcome{Status: models.StatusPassed, Score: 100})
	require.NoError(t, err)
	_, err = r.Record(ctx, jobFor("light"), &models.ExecutionOutcome{Status: models.StatusCritical, Score: 0})
	require.NoError(t, err)

	site, err := store.GetSite(ctx, "org-1", "site-1")
	require.NoError(t, err)
	// (100*3 + 0*1) / 4
	require.InDelta(t, 75.0, site.HealthScore, 0.001)
}

func TestHealthScoreIgnoresPendingResults(t *testing.T) {
	store := storage.NewMemory()
	store.PutSite(&models.Site{ID: "site-1", OrganizationID: "org-1", HealthScore: 42})
	store.PutCheck(&models.Check{
		ID: "c1", OrganizationID: "org-1", SiteID: "site-1",
		Type: models.CheckTypeHTTP, Weight: 1, Enabled: true,
	})

	r := NewRecorder(store, nil)
	ctx := context.Background()
	job := &models.CheckJob{ID: "j1", CheckID: "c1", OrganizationID: "org-1", SiteID: "site-1"}

	_, err := r.Record(ctx, job, &models.ExecutionOutcome{Status: models.StatusPending, Score: 0})
	require.NoError(t, err)

	site, err := store.GetSite(ctx, "org-1", "site-1")
	require.NoError(t, err)
	require.Equal(t, float64(42), site.HealthScore, "pending results carry no score weight")
}
