package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Recorder is the single write path for check results. It tolerates
// mid-flight deletion of the owning check or site and keeps the site
// health score current after every persisted result.
type Recorder struct {
	store storage.Store
	log   logger.Logger
	now   func() time.Time
}

func NewRecorder(store storage.Store, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record persists one execution outcome and returns the new result id.
// An empty id with a nil error means nothing was written: the outcome was
// marked skip-persist, or the check was disabled or vanished while the
// job was in flight. Only genuine store failures return an error.
func (r *Recorder) Record(ctx context.Context, job *models.CheckJob, outcome *models.ExecutionOutcome) (string, error) {
	if outcome.SkipPersist {
		return "", nil
	}

	// Re-verify under the org scope: deletion or disablement between
	// dequeue and persist must degrade to a no-op, not an orphaned row.
	check, err := r.store.GetCheck(ctx, job.OrganizationID, job.CheckID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.log.Debug("check deleted mid-flight, dropping result", "check_id", job.CheckID)
			return "", nil
		}
		return "", fmt.Errorf("verify check %s: %w", job.CheckID, err)
	}
	if !check.Enabled {
		r.log.Debug("check disabled, dropping result", "check_id", job.CheckID)
		return "", nil
	}

	result := &models.CheckResult{
		ID:             uuid.NewString(),
		CheckID:        job.CheckID,
		OrganizationID: job.OrganizationID,
		SiteID:         job.SiteID,
		AgentID:        job.AgentID,
		Status:         outcome.Status,
		Score:          outcome.Score,
		Message:        outcome.Message,
		Details:        outcome.Details,
		DurationMs:     outcome.DurationMs,
		RetryCount:     job.RetryCount,
		CreatedAt:      r.now().UTC(),
	}

	if err := r.store.InsertResult(ctx, result); err != nil {
		if errors.Is(err, storage.ErrForeignKey) || errors.Is(err, storage.ErrNotFound) {
			r.log.Debug("result references deleted rows, dropping",
				"check_id", job.CheckID, "site_id", job.SiteID)
			return "", nil
		}
		return "", fmt.Errorf("insert result for check %s: %w", job.CheckID, err)
	}

	r.RefreshHealthScore(ctx, job.OrganizationID, job.SiteID)
	return result.ID, nil
}

// RefreshHealthScore recomputes the site score as the weight-adjusted
// average of the newest result per enabled check. Failures are logged;
// the score is advisory and never blocks the result path.
func (r *Recorder) RefreshHealthScore(ctx context.Context, orgID, siteID string) {
	checks, err := r.store.ListChecksForSite(ctx, orgID, siteID)
	if err != nil {
		r.log.Warn("health score skipped: list checks", "site_id", siteID, "error", err)
		return
	}
	weights := make(map[string]int, len(checks))
	for _, c := range checks {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		weights[c.ID] = w
	}

	results, err := r.store.LatestResultsForSite(ctx, siteID)
	if err != nil {
		r.log.Warn("health score skipped: list results", "site_id", siteID, "error", err)
		return
	}

	var sum, total float64
	for _, res := range results {
		w, ok := weights[res.CheckID]
		if !ok || res.Status == models.StatusPending {
			continue
		}
		sum += float64(res.Score) * float64(w)
		total += float64(w)
	}
	if total == 0 {
		return
	}

	score := sum / total
	if err := r.store.UpdateSiteHealthScore(ctx, siteID, score); err != nil {
		r.log.Warn("health score update failed", "site_id", siteID, "error", err)
	}
}
