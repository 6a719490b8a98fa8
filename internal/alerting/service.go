package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/cache"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// EscalationOpener attempts to open an escalation issue for a site. A
// site that already has an active issue, or has no configured contacts,
// is a silent no-op for the implementation.
type EscalationOpener interface {
	OpenForSite(ctx context.Context, orgID, siteID, reason string) error
}

// Service is the alert cooldown gate. It classifies persisted results and
// decides between suppression, a new alert with fan-out, and a recovery
// notification. Every failure inside the service is logged and contained:
// nothing propagates back into the execution pipeline.
type Service struct {
	store       storage.Store
	cache       cache.Cache
	fanout      *Fanout
	escalations EscalationOpener
	cooldownTTL time.Duration
	log         logger.Logger
	now         func() time.Time
}

func NewService(store storage.Store, c cache.Cache, fanout *Fanout, escalations EscalationOpener, cooldownTTL time.Duration, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		store:       store,
		cache:       c,
		fanout:      fanout,
		escalations: escalations,
		cooldownTTL: cooldownTTL,
		log:         log,
		now:         time.Now,
	}
}

func cooldownKey(orgID, siteID, checkID string) string {
	return fmt.Sprintf("cooldown:%s:%s:%s", orgID, siteID, checkID)
}

// HandleResult is the asynchronous entry point fed by the worker pool and
// the agent result path. It never returns an error.
func (s *Service) HandleResult(ctx context.Context, resultID string) {
	if err := s.handle(ctx, resultID); err != nil {
		s.log.Error("alert handling failed", "result_id", resultID, "error", err)
	}
}

func (s *Service) handle(ctx context.Context, resultID string) error {
	result, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load result %s: %w", resultID, err)
	}

	switch {
	case result.Status.Alerting():
		return s.raise(ctx, result)
	case result.Status.Recovery():
		return s.clear(ctx, result)
	}
	return nil
}

// raise claims the cooldown key and, when this result is the first inside
// the window, persists an Alert and fans out. CRITICAL additionally
// attempts to open an escalation issue.
func (s *Service) raise(ctx context.Context, result *models.CheckResult) error {
	key := cooldownKey(result.OrganizationID, result.SiteID, result.CheckID)
	claimed, err := s.cache.SetNX(ctx, key, result.ID, s.cooldownTTL)
	if err != nil {
		// A cache outage must not silently drop alerts: notify without
		// dedup and accept the possible duplicate.
		s.log.Warn("cooldown cache unavailable, alerting without dedup", "key", key, "error", err)
	} else if !claimed {
		monitoring.RecordAlertSuppressed()
		s.log.Debug("alert suppressed by cooldown", "key", key)
		return nil
	}

	event := s.buildEvent(ctx, result, false)

	alert := &models.Alert{
		ID:             uuid.NewString(),
		OrganizationID: result.OrganizationID,
		SiteID:         result.SiteID,
		CheckResultID:  result.ID,
		Severity:       models.SeverityForStatus(result.Status),
		Message:        event.Message,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertAlert(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrForeignKey) || errors.Is(err, storage.ErrNotFound) {
			s.log.Debug("alert references deleted rows, dropping", "result_id", result.ID)
			return nil
		}
		// The notification still goes out; the audit row is best-effort.
		s.log.Warn("failed to persist alert", "result_id", result.ID, "error", err)
	}

	fanned := s.fanout.Deliver(ctx, result.OrganizationID, event)
	s.log.Info("alert fanned out",
		"result_id", result.ID,
		"severity", alert.Severity,
		"delivered", fanned.Delivered,
		"failed", fanned.Failed)

	if result.Status == models.StatusCritical && s.escalations != nil {
		if err := s.escalations.OpenForSite(ctx, result.OrganizationID, result.SiteID, event.Message); err != nil {
			s.log.Warn("escalation attempt failed", "site_id", result.SiteID, "error", err)
		}
	}
	return nil
}

// clear releases the cooldown key. A recovery with no active key is
// silent: a check that never alerted produces no recovery noise.
func (s *Service) clear(ctx context.Context, result *models.CheckResult) error {
	key := cooldownKey(result.OrganizationID, result.SiteID, result.CheckID)
	existed, err := s.cache.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("release cooldown %s: %w", key, err)
	}
	if !existed {
		return nil
	}

	event := s.buildEvent(ctx, result, true)
	fanned := s.fanout.Deliver(ctx, result.OrganizationID, event)
	s.log.Info("recovery notification sent",
		"result_id", result.ID,
		"delivered", fanned.Delivered,
		"failed", fanned.Failed)
	return nil
}

func (s *Service) buildEvent(ctx context.Context, result *models.CheckResult, recovery bool) *Event {
	event := &Event{
		Severity:   models.SeverityForStatus(result.Status),
		Recovery:   recovery,
		SiteID:     result.SiteID,
		CheckID:    result.CheckID,
		Status:     result.Status,
		Message:    result.Message,
		OccurredAt: result.CreatedAt,
	}
	if recovery {
		event.Severity = models.SeverityInfo
	}

	// Names are cosmetic; lookups stay best-effort.
	if site, err := s.store.GetSite(ctx, result.OrganizationID, result.SiteID); err == nil {
		event.SiteName = site.Name
	}
	if check, err := s.store.GetCheck(ctx, result.OrganizationID, result.CheckID); err == nil {
		event.CheckType = check.Type
	}
	if event.Message == "" {
		event.Message = fmt.Sprintf("check %s reported %s", result.CheckID, result.Status)
	}
	return event
}
