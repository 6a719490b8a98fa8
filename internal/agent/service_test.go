package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteguard/siteguard-core/internal/engine"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
)

func newAgentFixture(t *testing.T) (*storage.MemoryStore, *Service, *models.Agent) {
	t.Helper()
	store := storage.NewMemory()
	store.PutSite(&models.Site{ID: "site-1", OrganizationID: "org-1"})
	agent := &models.Agent{ID: "agent-1", OrganizationID: "org-1", Name: "edge-1", APIKey: "key-1"}
	store.PutAgent(agent)

	svc := NewService(store, engine.NewRecorder(store, nil), nil, nil)
	return store, svc, agent
}

func putAgentCheck(store *storage.MemoryStore, id, schedule string) {
	store.PutCheck(&models.Check{
		ID:             id,
		OrganizationID: "org-1",
		SiteID:         "site-1",
		AgentID:        "agent-1",
		Type:           models.CheckTypeDiskUsage,
		Schedule:       schedule,
		Weight:         1,
		Enabled:        true,
	})
}

func TestAuthenticateByAPIKey(t *testing.T) {
	_, svc, _ := newAgentFixture(t)

	agent, err := svc.Authenticate(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", agent.ID)

	_, err = svc.Authenticate(context.Background(), "wrong-key")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDueTasksNeverRunChecksAreDue(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	putAgentCheck(store, "c1", "*/5 * * * *")
	putAgentCheck(store, "c2", "")

	due, err := svc.DueTasks(context.Background(), agent)
	require.NoError(t, err)
	require.Len(t, due, 2, "unscheduled and never-run checks are both due")
}

func TestDueTasksHonorsSchedule(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	putAgentCheck(store, "c1", "*/5 * * * *")

	now := time.Date(2025, 6, 1, 12, 2, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	// Ran 1 minute ago: the next 5-minute slot has not arrived.
	require.NoError(t, store.InsertResult(context.Background(), &models.CheckResult{
		ID: "r1", CheckID: "c1", OrganizationID: "org-1", SiteID: "site-1",
		Status: models.StatusPassed, CreatedAt: now.Add(-time.Minute),
	}))
	due, err := svc.DueTasks(context.Background(), agent)
	require.NoError(t, err)
	require.Empty(t, due)

	// Ran 6 minutes ago: a slot has passed since.
	require.NoError(t, store.InsertResult(context.Background(), &models.CheckResult{
		ID: "r2", CheckID: "c1", OrganizationID: "org-1", SiteID: "site-1",
		Status: models.StatusPassed, CreatedAt: now.Add(-6 * time.Minute),
	}))
	// r2 is older than r1, so the newest result still blocks.
	due, err = svc.DueTasks(context.Background(), agent)
	require.NoError(t, err)
	require.Empty(t, due)

	// Advance past the next slot after r1.
	now = now.Add(6 * time.Minute)
	due, err = svc.DueTasks(context.Background(), agent)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestDueTasksSkipsDisabledAndServerExecuted(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	store.PutCheck(&models.Check{
		ID: "disabled", OrganizationID: "org-1", SiteID: "site-1", AgentID: "agent-1",
		Type: models.CheckTypeDiskUsage, Enabled: false,
	})
	store.PutCheck(&models.Check{
		ID: "server-side", OrganizationID: "org-1", SiteID: "site-1", AgentID: "agent-1",
		Type: models.CheckTypeHTTP, Enabled: true,
	})

	due, err := svc.DueTasks(context.Background(), agent)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestSubmitResultRecordsAndTouchesAgent(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	putAgentCheck(store, "c1", "")

	resultID, err := svc.SubmitResult(context.Background(), agent, "c1", &models.ExecutionOutcome{
		Status:  models.StatusWarning,
		Score:   65,
		Message: "disk 82% full",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resultID)

	results := store.Results("c1")
	require.Len(t, results, 1)
	require.Equal(t, "agent-1", results[0].AgentID)

	refreshed, err := store.GetAgentByKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastSeenAt)
}

func TestSubmitResultSkipsDisabledCheck(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	store.PutCheck(&models.Check{
		ID: "c1", OrganizationID: "org-1", SiteID: "site-1", AgentID: "agent-1",
		Type: models.CheckTypeDiskUsage, Weight: 1, Enabled: false,
	})

	resultID, err := svc.SubmitResult(context.Background(), agent, "c1", &models.ExecutionOutcome{
		Status: models.StatusCritical,
		Score:  0,
	})
	require.NoError(t, err)
	require.Empty(t, resultID, "disabled checks accept no results")
	require.Empty(t, store.Results("c1"))
}

func TestSubmitResultRejectsForeignCheck(t *testing.T) {
	store, svc, agent := newAgentFixture(t)
	store.PutCheck(&models.Check{
		ID: "other", OrganizationID: "org-1", SiteID: "site-1", AgentID: "agent-2",
		Type: models.CheckTypeDiskUsage, Enabled: true,
	})

	_, err := svc.SubmitResult(context.Background(), agent, "other", &models.ExecutionOutcome{
		Status: models.StatusPassed,
	})
	require.ErrorIs(t, err, ErrNotAssigned)
	require.Empty(t, store.Results("other"))
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	store, svc, agent := newAgentFixture(t)

	require.NoError(t, svc.Heartbeat(context.Background(), agent, []byte(`{"version":"1.4.2"}`)))

	refreshed, err := store.GetAgentByKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.NotNil(t, refreshed.LastSeenAt)
	require.JSONEq(t, `{"version":"1.4.2"}`, string(refreshed.Metadata))
}
