package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/siteguard/siteguard-core/internal/escalation"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// EscalationSweep advances timed-out escalation issues through the ladder.
func EscalationSweep(svc *escalation.Service, log logger.Logger) Sweep {
	if log == nil {
		log = logger.NewNop()
	}
	return func(ctx context.Context) error {
		promoted, exhausted, err := svc.Sweep(ctx)
		if err != nil {
			return err
		}
		if promoted > 0 || exhausted > 0 {
			log.Info("escalation sweep advanced issues",
				"promoted", promoted,
				"exhausted", exhausted)
		}
		return nil
	}
}

// PlanExpirySweep downgrades organizations whose paid plan has lapsed.
// Each downgrade is independent: one failing organization never blocks
// the rest of the batch.
func PlanExpirySweep(store storage.OrganizationStore, log logger.Logger) Sweep {
	if log == nil {
		log = logger.NewNop()
	}
	return func(ctx context.Context) error {
		expired, err := store.ListExpiredPlans(ctx, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("list expired plans: %w", err)
		}
		var failed int
		for _, org := range expired {
			if err := store.DowngradePlan(ctx, org.ID); err != nil {
				log.Error("plan downgrade failed", "org_id", org.ID, "error", err)
				failed++
				continue
			}
			log.Info("plan expired, organization downgraded", "org_id", org.ID, "plan", org.Plan)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d plan downgrades failed", failed, len(expired))
		}
		return nil
	}
}
