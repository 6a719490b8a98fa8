package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule rejects malformed cron expressions before they reach
// the registry or the store.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Registration describes one active recurring slot, for diagnostics.
type Registration struct {
	CheckID  string    `json:"check_id"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
}

// RecurringRegistry maintains the 1:1 mapping between a check and its
// cron-driven repeating job. Identity is keyed deterministically by check
// id: re-registering always removes the previous slot first, so repeated
// calls and restarts cannot create duplicate schedules. Boot-time state is
// reconstructed from the durable check table via ReconcileAll.
type RecurringRegistry struct {
	cron   *cron.Cron
	queue  Queue
	checks storage.CheckStore
	log    logger.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

func NewRecurringRegistry(q Queue, checks storage.CheckStore, log logger.Logger) *RecurringRegistry {
	if log == nil {
		log = logger.NewNop()
	}
	return &RecurringRegistry{
		cron:    cron.New(cron.WithParser(cronParser)),
		queue:   q,
		checks:  checks,
		log:     log,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

func (r *RecurringRegistry) Start() {
	r.cron.Start()
	r.log.Info("recurring schedule registry started")
}

func (r *RecurringRegistry) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("recurring schedule registry stopped")
}

// ScheduleRecurring registers (or replaces) the recurring slot for a check.
func (r *RecurringRegistry) ScheduleRecurring(checkID, spec string, template *models.CheckJob) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Remove-before-add keeps at most one active slot per check.
	r.removeLocked(checkID)

	job := *template
	entryID, err := r.cron.AddFunc(spec, func() {
		r.tick(checkID, job)
	})
	if err != nil {
		return fmt.Errorf("schedule check %s: %w", checkID, err)
	}
	r.entries[checkID] = entryID
	r.specs[checkID] = spec
	r.log.Debug("recurring schedule registered", "check_id", checkID, "schedule", spec)
	return nil
}

// tick enqueues one scheduler-owned job. Queue backend failures are logged
// and never propagate: the next tick proceeds independently.
func (r *RecurringRegistry) tick(checkID string, template models.CheckJob) {
	job := template
	job.ID = uuid.NewString()
	job.RetryCount = 0
	job.Trigger = models.TriggerSchedule
	job.EnqueuedAt = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.queue.Enqueue(ctx, &job); err != nil {
		r.log.Error("failed to enqueue scheduled job", "check_id", checkID, "error", err)
	}
}

// RemoveRecurring idempotently removes the recurring slot for a check.
func (r *RecurringRegistry) RemoveRecurring(checkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(checkID)
}

func (r *RecurringRegistry) removeLocked(checkID string) {
	if entryID, ok := r.entries[checkID]; ok {
		r.cron.Remove(entryID)
		delete(r.entries, checkID)
		delete(r.specs, checkID)
	}
}

// Registrations enumerates active recurring slots for diagnostics.
func (r *RecurringRegistry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Registration, 0, len(r.entries))
	for checkID, entryID := range r.entries {
		entry := r.cron.Entry(entryID)
		out = append(out, Registration{
			CheckID:  checkID,
			Schedule: r.specs[checkID],
			NextRun:  entry.Next,
		})
	}
	return out
}

// ReconcileAll force-rebuilds every recurring slot from the durable check
// table: current enabled recurring checks are (re-)registered and slots
// for checks that no longer qualify are removed. Run at process start and
// on demand from the administrative surface.
func (r *RecurringRegistry) ReconcileAll(ctx context.Context) (int, error) {
	checks, err := r.checks.ListRecurringChecks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recurring checks: %w", err)
	}

	active := make(map[string]bool, len(checks))
	registered := 0
	for _, c := range checks {
		active[c.ID] = true
		template := &models.CheckJob{
			CheckID:        c.ID,
			OrganizationID: c.OrganizationID,
			SiteID:         c.SiteID,
			AgentID:        c.AgentID,
			Trigger:        models.TriggerSchedule,
		}
		if err := r.ScheduleRecurring(c.ID, c.Schedule, template); err != nil {
			r.log.Error("failed to reconcile schedule", "check_id", c.ID, "error", err)
			continue
		}
		registered++
	}

	r.mu.Lock()
	for checkID := range r.entries {
		if !active[checkID] {
			r.removeLocked(checkID)
		}
	}
	r.mu.Unlock()

	r.log.Info("recurring schedules reconciled", "registered", registered, "total", len(checks))
	return registered, nil
}
