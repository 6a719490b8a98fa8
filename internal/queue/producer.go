package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/pkg/cache"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Producer enqueues ad-hoc check jobs. Manual triggers get best-effort
// duplicate suppression through a short-lived cache key; the guarantee is
// deliberately configurable rather than exactly-once.
type Producer struct {
	queue    Queue
	cache    cache.Cache
	dedupTTL time.Duration
	log      logger.Logger
}

func NewProducer(q Queue, c cache.Cache, dedupTTL time.Duration, log logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Producer{queue: q, cache: c, dedupTTL: dedupTTL, log: log}
}

// TriggerManual enqueues one high-priority manual run of the check.
// Returns false when a recent identical trigger suppressed this one.
func (p *Producer) TriggerManual(ctx context.Context, check *models.Check) (bool, error) {
	if p.dedupTTL > 0 {
		key := fmt.Sprintf("adhoc:%s", check.ID)
		claimed, err := p.cache.SetNX(ctx, key, "1", p.dedupTTL)
		if err != nil {
			// Dedup is best-effort: a cache outage must not block a
			// manual run, an occasional duplicate execution is accepted.
			p.log.Warn("ad-hoc dedup unavailable", "check_id", check.ID, "error", err)
		} else if !claimed {
			return false, nil
		}
	}

	job := &models.CheckJob{
		ID:             uuid.NewString(),
		CheckID:        check.ID,
		OrganizationID: check.OrganizationID,
		SiteID:         check.SiteID,
		AgentID:        check.AgentID,
		Trigger:        models.TriggerManual,
		EnqueuedAt:     time.Now(),
	}
	if err := p.queue.Enqueue(ctx, job, WithPriority(PriorityHigh)); err != nil {
		return false, fmt.Errorf("enqueue manual job for check %s: %w", check.ID, err)
	}
	return true, nil
}
