package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
)

func TestRegisterReplacesExistingSlot(t *testing.T) {
	m := NewManager(nil)
	var first, second int32

	require.NoError(t, m.Register("cleanup", "* * * * *", func(context.Context) error {
		atomic.AddInt32(&first, 1)
		return nil
	}))
	require.NoError(t, m.Register("cleanup", "*/5 * * * *", func(context.Context) error {
		atomic.AddInt32(&second, 1)
		return nil
	}))

	require.Len(t, m.Names(), 1, "re-registering a name must not stack slots")
	require.NoError(t, m.Trigger("cleanup"))
	require.Equal(t, int32(0), atomic.LoadInt32(&first), "replaced sweep must never run")
	require.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestRegisterRejectsMalformedSchedule(t *testing.T) {
	m := NewManager(nil)
	err := m.Register("cleanup", "whenever", func(context.Context) error { return nil })
	require.Error(t, err)
	require.Empty(t, m.Names())
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	m := NewManager(nil)

	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32
	require.NoError(t, m.Register("slow", "* * * * *", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
		return nil
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Trigger("slow")
	}()
	<-started

	// A second tick while the first is still inside the sweep is a no-op.
	require.NoError(t, m.Trigger("slow"))
	require.Equal(t, int32(1), atomic.LoadInt32(&runs))

	close(release)
	wg.Wait()
}

func TestTriggerUnknownSweeper(t *testing.T) {
	m := NewManager(nil)
	require.Error(t, m.Trigger("ghost"))
}

func TestSweepErrorsAreContained(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register("failing", "* * * * *", func(context.Context) error {
		return errors.New("store down")
	}))
	// The failure is logged and counted; Trigger itself stays nil.
	require.NoError(t, m.Trigger("failing"))
}

func TestPlanExpirySweepDowngradesLapsedPlans(t *testing.T) {
	store := storage.NewMemory()
	past := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)
	store.PutOrganization(&models.Organization{ID: "org-lapsed", Plan: "pro", PlanExpiresAt: &past})
	store.PutOrganization(&models.Organization{ID: "org-current", Plan: "pro", PlanExpiresAt: &future})
	store.PutOrganization(&models.Organization{ID: "org-free", Plan: "free"})

	sweep := PlanExpirySweep(store, nil)
	require.NoError(t, sweep(context.Background()))

	ctx := context.Background()
	lapsed, err := store.GetOrganization(ctx, "org-lapsed")
	require.NoError(t, err)
	require.Equal(t, "free", lapsed.Plan)

	current, err := store.GetOrganization(ctx, "org-current")
	require.NoError(t, err)
	require.Equal(t, "pro", current.Plan)
}
